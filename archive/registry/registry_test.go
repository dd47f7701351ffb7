package registry

import (
	"context"
	"errors"
	"testing"

	"omniproto.dev/omni/archive"
	"omniproto.dev/omni/archive/archivetest"
)

func TestMemoryBackendRegistered(t *testing.T) {
	names := Names(UsageNode)
	found := false
	for _, n := range names {
		if n == "memory" {
			found = true
		}
	}
	if !found {
		t.Fatalf("memory backend missing from %v", names)
	}
	if _, _, err := Open("nope", UsageNode, nil); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}

func TestRegisterRejectsIncomplete(t *testing.T) {
	if err := Register(Backend{Name: "x", Usage: UsageCLI}); err == nil {
		t.Fatalf("expected missing Open error")
	}
	if err := Register(Backend{Name: "memory", Usage: UsageCLI, Open: func(map[string]string) (archive.Archive, func() error, error) {
		return nil, nil, nil
	}}); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []Config{
		{},
		{Backends: []BackendConfig{{}}},
		{Backends: []BackendConfig{{Name: "memory"}, {Name: "memory"}}},
		{WritePolicy: "some", Backends: []BackendConfig{{Name: "memory"}}},
	}
	for i, c := range cases {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
	ok := Config{Backends: []BackendConfig{{Name: "memory"}, {Name: "memory", ID: "second"}}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestConfigOpenPolicies(t *testing.T) {
	ctx := context.Background()
	backends := []BackendConfig{{Name: "memory", ID: "a"}, {Name: "memory", ID: "b"}}

	a, closeFn, err := Config{Backends: backends}.Open(UsageNode)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = closeFn() }()
	fb, ok := a.(archive.Fallback)
	if !ok {
		t.Fatalf("expected Fallback, got %T", a)
	}
	id, err := fb.Put(ctx, archivetest.Request(t, 1, "status", 1))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !fb.Archives[0].Has(ctx, id) || fb.Archives[1].Has(ctx, id) {
		t.Fatalf("first policy should write only to the first backend")
	}

	a, _, err = Config{WritePolicy: WriteAll, Backends: backends}.Open(UsageNode)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rep, ok := a.(archive.Replicating)
	if !ok {
		t.Fatalf("expected Replicating, got %T", a)
	}
	id, ids, err := rep.PutAll(ctx, archivetest.Request(t, 2, "status", 2))
	if err != nil {
		t.Fatalf("PutAll: %v", err)
	}
	if ids["a"] != id || ids["b"] != id {
		t.Fatalf("unexpected per-backend ids %v", ids)
	}

	single, _, err := Config{Backends: backends[:1]}.Open(UsageNode)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := single.(*archive.Memory); !ok {
		t.Fatalf("expected bare backend, got %T", single)
	}
}

func TestIsolatedRegistry(t *testing.T) {
	var r Registry
	open := func(cfg map[string]string) (archive.Archive, func() error, error) {
		return archive.NewMemory(), nil, nil
	}
	if err := r.Register(Backend{Name: "cli-only", Usage: UsageCLI, Open: open}); err != nil {
		t.Fatal(err)
	}
	if got := r.List(UsageNode); len(got) != 0 {
		t.Fatalf("node usage sees %v", got)
	}
	if _, _, err := r.Open("cli-only", UsageNode, nil); !errors.Is(err, ErrWrongUsage) {
		t.Fatalf("expected ErrWrongUsage, got %v", err)
	}
	if _, _, err := r.Open("memory", UsageCLI, nil); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("default backends leaked into an isolated registry: %v", err)
	}
	if _, _, err := r.Open("cli-only", UsageCLI, nil); err != nil {
		t.Fatal(err)
	}
}
