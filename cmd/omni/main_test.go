package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"omniproto.dev/omni/identity"
	"omniproto.dev/omni/keys"
	"omniproto.dev/omni/kvstore"
	"omniproto.dev/omni/server"
	"omniproto.dev/omni/store"
	"omniproto.dev/omni/transport"
)

const seedHex = "0101010101010101010101010101010101010101010101010101010101010101"

func runOK(t *testing.T, args ...string) string {
	t.Helper()
	var out, errOut bytes.Buffer
	if code := run(args, &out, &errOut); code != 0 {
		t.Fatalf("omni %s: exit %d: %s", strings.Join(args, " "), code, errOut.String())
	}
	return out.String()
}

func runFail(t *testing.T, want int, args ...string) string {
	t.Helper()
	var out, errOut bytes.Buffer
	if code := run(args, &out, &errOut); code != want {
		t.Fatalf("omni %s: exit %d, want %d (stderr %q)", strings.Join(args, " "), code, want, errOut.String())
	}
	return errOut.String()
}

func TestUsage(t *testing.T) {
	runFail(t, 2)
	runFail(t, 2, "frobnicate")
	if !strings.Contains(runOK(t, "help"), "omni key init") {
		t.Fatal("usage does not list key init")
	}
}

func TestKeyLifecycle(t *testing.T) {
	dir := t.TempDir()
	out := runOK(t, "key", "init", "--dir", dir, "--name", "alice", "--seed-hex", seedHex)
	if !strings.HasPrefix(out, "Created EdDSA root key: ") {
		t.Fatalf("unexpected output %q", out)
	}
	runFail(t, 1, "key", "init", "--dir", dir, "--name", "alice", "--seed-hex", seedHex)
	runOK(t, "key", "init", "--dir", dir, "--name", "alice", "--seed-hex", seedHex, "--force")
	runFail(t, 2, "key", "init", "--dir", dir, "--name", "../x")
	runFail(t, 2, "key", "init", "--dir", dir, "--name", "bob", "--alg", "rsa")

	runOK(t, "key", "derive", "--dir", dir, "--from", "alice", "--role", "client")
	list := runOK(t, "key", "list", "--dir", dir)
	if !strings.HasPrefix(list, "alice\t") || !strings.Contains(list, "  - client\n") {
		t.Fatalf("unexpected key list %q", list)
	}

	pemPath := filepath.Join(dir, "alice.pem")
	if err := os.WriteFile(pemPath, []byte(runOK(t, "key", "export-pem", "--dir", dir, "--name", "alice")), 0o600); err != nil {
		t.Fatal(err)
	}
	fromPEM := runOK(t, "id", "show", "--pem", pemPath)
	fromStore := runOK(t, "id", "show", "--dir", dir, "--key", "alice")
	if fromPEM != fromStore {
		t.Fatalf("pem identity %q != store identity %q", fromPEM, fromStore)
	}
	role := runOK(t, "id", "show", "--dir", dir, "--key", "alice", "--role", "client")
	if role == fromStore {
		t.Fatal("role key has the root identity")
	}

	pk := strings.TrimSpace(runOK(t, "id", "show", "--pem", pemPath, "--public-key"))
	parsed := runOK(t, "id", "parse", pk)
	if !strings.Contains(parsed, "kind: public-key") || !strings.Contains(parsed, "address: "+strings.TrimSpace(fromPEM)) {
		t.Fatalf("unexpected parse output %q", parsed)
	}
	if strings.TrimSpace(runOK(t, "id", "show")) != identity.Anonymous().String() {
		t.Fatal("no key should show the anonymous identity")
	}
	runFail(t, 1, "id", "parse", "not-an-identity")
}

func TestEnvelopeSignInspect(t *testing.T) {
	dir := t.TempDir()
	runOK(t, "key", "init", "--dir", dir, "--name", "alice", "--seed-hex", seedHex)
	me := strings.TrimSpace(runOK(t, "id", "show", "--dir", dir, "--key", "alice"))

	raw := runOK(t, "envelope", "sign", "--dir", dir, "--key", "alice", "--to", me, "--method", "echo", "--data-hex", "cafe", "--id", "7")
	path := filepath.Join(dir, "req.cose")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	out := runOK(t, "envelope", "inspect", "--to", me, path)
	for _, want := range []string{"algorithm: EdDSA", "verified: " + me, "type: request", "method: echo", "id: 7", "data: cafe"} {
		if !strings.Contains(out, want) {
			t.Fatalf("inspect output missing %q:\n%s", want, out)
		}
	}

	// Addressed elsewhere.
	errText := runFail(t, 1, "envelope", "inspect", "--to", identity.Anonymous().String(), path)
	if !strings.Contains(errText, "ENV-MSG-002") {
		t.Fatalf("unexpected error %q", errText)
	}

	tampered := []byte(raw)
	tampered[len(tampered)-1] ^= 0xff
	if err := os.WriteFile(path, tampered, 0o600); err != nil {
		t.Fatal(err)
	}
	errText = runFail(t, 1, "envelope", "inspect", path)
	if !strings.Contains(errText, "ENV-SIG-001") || !strings.Contains(errText, "CouldNotVerifySignature(1002)") {
		t.Fatalf("unexpected error %q", errText)
	}
}

func TestErrorCommands(t *testing.T) {
	list := runOK(t, "error", "list")
	for _, want := range []string{"1002\trequest\tCouldNotVerifySignature", "10103\tapplication\tPermissionDenied"} {
		if !strings.Contains(list, want) {
			t.Fatalf("error list missing %q:\n%s", want, list)
		}
	}

	got := runOK(t, "error", "render", "--code", "1", "--field", "max=512")
	if got != "Message is too long. Max allowed size is 512 bytes.\n" {
		t.Fatalf("render = %q", got)
	}
	got = runOK(t, "error", "render", "--code", "10103", "--field", "owner=bob")
	if got != "Key is owned by bob.\n" {
		t.Fatalf("render = %q", got)
	}
	runFail(t, 2, "error", "render", "--code", "20000")

	encoded := strings.TrimSpace(runOK(t, "error", "render", "--code", "20000", "--message", "Quota {q} hit.", "--field", "q=3", "--hex"))
	decoded := runOK(t, "error", "decode", encoded)
	if !strings.Contains(decoded, "code: ApplicationSpecific(20000)") || !strings.Contains(decoded, "message: Quota 3 hit.") {
		t.Fatalf("decode = %q", decoded)
	}
	runFail(t, 1, "error", "decode", "ff")
}

func TestArchiveCommands(t *testing.T) {
	if !strings.Contains(runOK(t, "archive", "list-backends"), "localfs\t") {
		t.Fatal("localfs backend not linked")
	}
	dir := t.TempDir()
	runOK(t, "key", "init", "--dir", dir, "--name", "alice", "--seed-hex", seedHex)
	me := strings.TrimSpace(runOK(t, "id", "show", "--dir", dir, "--key", "alice"))
	raw := runOK(t, "envelope", "sign", "--dir", dir, "--key", "alice", "--to", me, "--method", "echo", "--data-hex", "cafe", "--id", "7")
	file := filepath.Join(dir, "req.cose")
	if err := os.WriteFile(file, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := "dir=" + filepath.Join(dir, "archive")
	id := strings.TrimSpace(runOK(t, "archive", "put", "--backend", "localfs", "--cfg", cfg, file))
	if got := runOK(t, "archive", "get", "--backend", "localfs", "--cfg", cfg, id); got != raw {
		t.Fatal("get returned different bytes")
	}
	runOK(t, "archive", "has", "--backend", "localfs", "--cfg", cfg, id)

	stat := runOK(t, "archive", "stat", "--backend", "localfs", "--cfg", cfg, id)
	for _, want := range []string{"cid: " + id, "signer: " + me, "type: request", "method: echo", "id: 7", "timestamp: "} {
		if !strings.Contains(stat, want) {
			t.Fatalf("stat output missing %q:\n%s", want, stat)
		}
	}
	if got := runOK(t, "archive", "list", "--backend", "localfs", "--cfg", cfg, "--signer", me, "--kind", "request"); !strings.HasPrefix(got, id+"\t") {
		t.Fatalf("list = %q", got)
	}
	if got := runOK(t, "archive", "list", "--backend", "localfs", "--cfg", cfg, "--method", "other"); got != "" {
		t.Fatalf("filtered list = %q", got)
	}
	runFail(t, 2, "archive", "list", "--backend", "localfs", "--cfg", cfg, "--kind", "gossip")

	blob := filepath.Join(dir, "blob")
	if err := os.WriteFile(blob, []byte("archived bytes"), 0o600); err != nil {
		t.Fatal(err)
	}
	if errText := runFail(t, 1, "archive", "put", "--backend", "localfs", "--cfg", cfg, blob); !strings.Contains(errText, "not an envelope") {
		t.Fatalf("unexpected error %q", errText)
	}

	bundlePath := filepath.Join(dir, "audit.tar")
	runOK(t, "archive", "export", "--backend", "localfs", "--cfg", cfg, "--out", bundlePath, id)
	other := "dir=" + filepath.Join(dir, "restored")
	if got := runOK(t, "archive", "import", "--backend", "localfs", "--cfg", other, "--verify", bundlePath); strings.TrimSpace(got) != id {
		t.Fatalf("import = %q", got)
	}

	// A forged signature is archived as-is but refused by a verified import.
	forged := []byte(raw)
	forged[len(forged)-1] ^= 0xff
	if err := os.WriteFile(file, forged, 0o600); err != nil {
		t.Fatal(err)
	}
	forgedID := strings.TrimSpace(runOK(t, "archive", "put", "--backend", "localfs", "--cfg", cfg, file))
	runOK(t, "archive", "export", "--backend", "localfs", "--cfg", cfg, "--out", bundlePath, forgedID)
	runFail(t, 1, "archive", "import", "--backend", "localfs", "--cfg", other, "--verify", bundlePath)

	runFail(t, 2, "archive", "get", "--backend", "localfs", "--cfg", cfg, "nope")
	runFail(t, 1, "archive", "put", "--backend", "missing", file)
}

func startNode(t *testing.T) (string, identity.Identity) {
	t.Helper()
	signer, err := keys.NewEd25519FromSeed(bytes.Repeat([]byte{9}, 32))
	if err != nil {
		t.Fatal(err)
	}
	id, err := keys.AddressableIdentity(signer)
	if err != nil {
		t.Fatal(err)
	}
	st, err := store.Open(context.Background(), store.NewMemoryEngine())
	if err != nil {
		t.Fatal(err)
	}
	srv, err := server.New("cli-node", signer, id, server.WithModule(kvstore.New(st)))
	if err != nil {
		t.Fatal(err)
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = transport.Serve(ctx, transport.NewGRPCServer(&transport.Server{Handler: srv}), lis)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return lis.Addr().String(), id
}

func TestCallAndKV(t *testing.T) {
	addr, node := startNode(t)
	dir := t.TempDir()
	runOK(t, "key", "init", "--dir", dir, "--name", "alice", "--seed-hex", seedHex)

	nodeArgs := []string{"--target", addr, "--to", node.String(), "--server", node.String()}
	status := runOK(t, append([]string{"call", "--method", "status"}, nodeArgs...)...)
	if !strings.Contains(status, "name: cli-node") || !strings.Contains(status, "endpoint: kvstore.put") {
		t.Fatalf("status = %q", status)
	}
	errText := runFail(t, 1, append([]string{"call", "--method", "nope"}, nodeArgs...)...)
	if !strings.Contains(errText, "InvalidMethodName(1000)") {
		t.Fatalf("unexpected error %q", errText)
	}

	alice := append([]string{"--dir", dir, "--key", "alice"}, nodeArgs...)
	errText = runFail(t, 1, append(append([]string{"kv", "put"}, nodeArgs...), "k", "v")...)
	if !strings.Contains(errText, "Anonymous senders cannot write.") {
		t.Fatalf("unexpected error %q", errText)
	}
	runOK(t, append(append([]string{"kv", "put"}, alice...), "k", "v")...)
	got := runOK(t, append(append([]string{"kv", "get"}, nodeArgs...), "k")...)
	if !strings.Contains(got, "value: v") {
		t.Fatalf("get = %q", got)
	}
	if keys := runOK(t, append([]string{"kv", "list"}, nodeArgs...)...); keys != "k\n" {
		t.Fatalf("list = %q", keys)
	}
	if info := runOK(t, append([]string{"kv", "info"}, nodeArgs...)...); !strings.Contains(info, "root: ") {
		t.Fatalf("info = %q", info)
	}
}
