package main

import (
	"fmt"
	"sort"
	"strings"
)

// pairsFlag collects repeated name=value flags.
type pairsFlag map[string]string

func (p pairsFlag) String() string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, k+"="+p[k])
	}
	return strings.Join(parts, ",")
}

func (p pairsFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	p[strings.TrimSpace(k)] = v
	return nil
}
