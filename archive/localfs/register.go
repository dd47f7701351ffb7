package localfs

import (
	"fmt"

	"omniproto.dev/omni/archive"
	"omniproto.dev/omni/archive/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "localfs",
		Description: "Local filesystem archive (config: dir)",
		Usage:       registry.UsageCLI | registry.UsageNode,
		Open: func(cfg map[string]string) (archive.Archive, func() error, error) {
			dir := cfg["dir"]
			if dir == "" {
				return nil, nil, fmt.Errorf("localfs: missing dir")
			}
			a, err := New(dir)
			return a, nil, err
		},
	})
}
