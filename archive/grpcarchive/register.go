package grpcarchive

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"omniproto.dev/omni/archive"
	"omniproto.dev/omni/archive/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "grpc",
		Description: "Remote archive over gRPC (config: target, timeout, max_msg_bytes)",
		Usage:       registry.UsageCLI | registry.UsageNode,
		Open: func(cfg map[string]string) (archive.Archive, func() error, error) {
			target := strings.TrimSpace(cfg["target"])
			if target == "" {
				return nil, nil, fmt.Errorf("grpcarchive: missing target")
			}
			var opts DialOptions
			if v := cfg["timeout"]; v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return nil, nil, fmt.Errorf("grpcarchive: timeout: %w", err)
				}
				opts.Timeout = d
			}
			if v := cfg["max_msg_bytes"]; v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					return nil, nil, fmt.Errorf("grpcarchive: max_msg_bytes: %w", err)
				}
				opts.MaxMsgBytes = n
			}
			c, err := Dial(target, opts)
			if err != nil {
				return nil, nil, err
			}
			return c, c.Close, nil
		},
	})
}
