package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestListBackends(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"--list-backends"}, &out, &errOut); code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "localfs\t") || !strings.Contains(out.String(), "memory\t") {
		t.Fatalf("unexpected backends:\n%s", out.String())
	}
	if strings.Contains(out.String(), "grpc\t") {
		t.Fatal("archive server should not proxy to another archive server")
	}
}

func TestBadBackend(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"--backend", "nope", "--listen", "127.0.0.1:0"}, &out, &errOut); code != 2 {
		t.Fatalf("exit %d", code)
	}
	if code := run([]string{"--backend", "localfs", "--listen", "127.0.0.1:0"}, &out, &errOut); code != 2 {
		t.Fatalf("localfs without dir: exit %d", code)
	}
	if code := run([]string{"--cfg", "novalue"}, &out, &errOut); code != 2 {
		t.Fatalf("bad --cfg: exit %d", code)
	}
}
