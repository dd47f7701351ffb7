package envelope

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"sync"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"omniproto.dev/omni/identity"
	"omniproto.dev/omni/keys"
	"omniproto.dev/omni/message"
	"omniproto.dev/omni/omnierr"
)

func edKey(t *testing.T, b byte) *keys.Ed25519Key {
	t.Helper()
	k, err := keys.NewEd25519FromSeed(bytes.Repeat([]byte{b}, ed25519.SeedSize))
	if err != nil {
		t.Fatalf("NewEd25519FromSeed: %v", err)
	}
	return k
}

func addrOf(t *testing.T, s keys.Signer) identity.Identity {
	t.Helper()
	id, err := keys.AddressableIdentity(s)
	if err != nil {
		t.Fatalf("AddressableIdentity: %v", err)
	}
	return id
}

func request(t *testing.T, from, to identity.Identity) *message.Request {
	t.Helper()
	req, err := message.NewRequest(from, to, "status", []byte{0x01})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

// roundTrip serialises env and parses it back, as a peer would see it.
func roundTrip(t *testing.T, env *Envelope) *Envelope {
	t.Helper()
	b, err := env.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	out, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return out
}

// resign re-encodes the protected headers and signs with s.
func resign(t *testing.T, env *Envelope, s keys.Signer) {
	t.Helper()
	p, err := encMode.Marshal(env.Headers)
	if err != nil {
		t.Fatalf("Marshal headers: %v", err)
	}
	env.protected = p
	tbs, err := env.toBeSigned()
	if err != nil {
		t.Fatalf("toBeSigned: %v", err)
	}
	env.Signature, err = s.Sign(tbs)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
}

func expectCode(t *testing.T, err error, code omnierr.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	if got := omnierr.CodeOf(err); got != code {
		t.Fatalf("expected code %s, got %s (%v)", code, got, err)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	client := edKey(t, 1)
	server := edKey(t, 2)
	clientID := addrOf(t, client)
	serverID := addrOf(t, server)

	for name, id := range map[string]identity.Identity{
		"addressable": clientID,
		"public key":  mustPublicKeyID(t, client),
	} {
		env, err := EncodeRequest(request(t, id, serverID), id, client)
		if err != nil {
			t.Fatalf("%s: EncodeRequest: %v", name, err)
		}
		got, err := DecodeRequest(roundTrip(t, env), &serverID)
		if err != nil {
			t.Fatalf("%s: DecodeRequest: %v", name, err)
		}
		if got.From != id || got.To != serverID || got.Method != "status" {
			t.Fatalf("%s: unexpected request %+v", name, got)
		}
	}
}

func mustPublicKeyID(t *testing.T, s keys.Signer) identity.Identity {
	t.Helper()
	id, err := keys.PublicKeyIdentity(s)
	if err != nil {
		t.Fatalf("PublicKeyIdentity: %v", err)
	}
	return id
}

func TestProtectedHeaders(t *testing.T) {
	k := edKey(t, 1)
	id := addrOf(t, k)
	env, err := Build([]byte("x"), id, k)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got := roundTrip(t, env)
	if got.Headers.Algorithm != int64(keys.EdDSA) || got.Headers.ContentType != ContentType {
		t.Fatalf("unexpected headers: %+v", got.Headers)
	}
	if !bytes.Equal(got.Headers.KeyID, id.Bytes()) {
		t.Fatalf("kid mismatch")
	}
	ks, err := got.KeySet()
	if err != nil {
		t.Fatalf("KeySet: %v", err)
	}
	if len(ks) != 1 || !bytes.Equal(ks[0].Public, k.PublicKey()) || ks[0].Algorithm != keys.EdDSA {
		t.Fatalf("unexpected keyset: %+v", ks)
	}
}

func TestAnonymousEnvelope(t *testing.T) {
	server := addrOf(t, edKey(t, 2))
	env, err := EncodeRequest(request(t, identity.Anonymous(), server), identity.Anonymous(), nil)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	if len(env.Signature) != 0 || env.Headers.KeySet != nil {
		t.Fatalf("anonymous envelopes carry no signature or keys")
	}
	b, err := env.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	var tag cbor.RawTag
	if err := cbor.Unmarshal(b, &tag); err != nil {
		t.Fatalf("Unmarshal tag: %v", err)
	}
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(tag.Content, &fields); err != nil {
		t.Fatalf("Unmarshal array: %v", err)
	}
	if len(fields) != 4 {
		t.Fatalf("expected 4 COSE_Sign1 fields, got %d", len(fields))
	}
	if sig := fields[3]; len(sig) != 1 || sig[0] != 0x40 {
		t.Fatalf("unsigned envelope signature must be an empty byte string, got %x", []byte(sig))
	}
	if fields[2][0]>>5 != 2 {
		t.Fatalf("payload must be a byte string, got major type %d", fields[2][0]>>5)
	}
	got, err := DecodeRequest(roundTrip(t, env), &server)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if !got.From.IsAnonymous() {
		t.Fatalf("expected anonymous sender")
	}
}

func TestIdentityKeyMismatch(t *testing.T) {
	a := edKey(t, 1)
	b := edKey(t, 2)
	cases := map[string]struct {
		id     identity.Identity
		signer keys.Signer
	}{
		"anonymous with key":    {identity.Anonymous(), a},
		"identity without key":  {addrOf(t, a), nil},
		"identity of other key": {addrOf(t, a), b},
	}
	for name, tc := range cases {
		_, err := Build([]byte("x"), tc.id, tc.signer)
		if RuleID(err) != RuleIdentityKeyMatch || !IsKind(err, KindIdentity) {
			t.Fatalf("%s: expected identity mismatch, got %v", name, err)
		}
	}
}

func TestTamperingIsDetected(t *testing.T) {
	k := edKey(t, 1)
	id := addrOf(t, k)
	server := addrOf(t, edKey(t, 2))

	t.Run("payload", func(t *testing.T) {
		env, err := EncodeRequest(request(t, id, server), id, k)
		if err != nil {
			t.Fatalf("EncodeRequest: %v", err)
		}
		orig := env.Payload
		for i := range orig {
			env.Payload = append([]byte(nil), orig...)
			env.Payload[i] ^= 0x01
			_, err = DecodeRequest(roundTrip(t, env), &server)
			if omnierr.CodeOf(err) != omnierr.CodeCouldNotVerifySignature {
				t.Fatalf("payload byte %d: expected signature failure, got %v", i, err)
			}
		}
	})

	t.Run("signature", func(t *testing.T) {
		env, err := EncodeRequest(request(t, id, server), id, k)
		if err != nil {
			t.Fatalf("EncodeRequest: %v", err)
		}
		orig := env.Signature
		for i := range orig {
			env.Signature = append([]byte(nil), orig...)
			env.Signature[i] ^= 0x80
			_, err = DecodeRequest(roundTrip(t, env), &server)
			if omnierr.CodeOf(err) != omnierr.CodeCouldNotVerifySignature {
				t.Fatalf("signature byte %d: expected signature failure, got %v", i, err)
			}
		}
	})

	t.Run("algorithm", func(t *testing.T) {
		env, err := EncodeRequest(request(t, id, server), id, k)
		if err != nil {
			t.Fatalf("EncodeRequest: %v", err)
		}
		env.Headers.Algorithm = int64(keys.Dilithium3)
		resign(t, env, k)
		_, err = DecodeRequest(roundTrip(t, env), &server)
		expectCode(t, err, omnierr.CodeCouldNotVerifySignature)
	})
}

func TestUnknownKeyLooksLikeBadSignature(t *testing.T) {
	a := edKey(t, 1)
	b := edKey(t, 2)
	id := addrOf(t, a)

	// Keyset holds b's key while the kid names a.
	env, err := Build([]byte("x"), id, a)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ks, err := KeySet{NewKey(addrOf(t, b), keys.EdDSA, b.PublicKey())}.Encode()
	if err != nil {
		t.Fatalf("Encode keyset: %v", err)
	}
	env.Headers.KeySet = ks
	resign(t, env, b)
	_, unknownErr := roundTrip(t, env).Verify()

	bad, err := Build([]byte("x"), id, a)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	bad.Signature[1] ^= 0x01
	_, badErr := roundTrip(t, bad).Verify()

	expectCode(t, unknownErr, omnierr.CodeCouldNotVerifySignature)
	expectCode(t, badErr, omnierr.CodeCouldNotVerifySignature)
	if unknownErr.Error() != badErr.Error() || RuleID(unknownErr) != RuleID(badErr) {
		t.Fatalf("unknown key and bad signature should be indistinguishable: %q vs %q", unknownErr, badErr)
	}
}

func TestKeyIDFailures(t *testing.T) {
	k := edKey(t, 1)
	env, err := Build([]byte("x"), addrOf(t, k), k)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	env.Headers.KeyID = nil
	resign(t, env, k)
	_, err = roundTrip(t, env).Verify()
	expectCode(t, err, omnierr.CodeCouldNotVerifySignature)
	if RuleID(err) != RuleMissingKeyID {
		t.Fatalf("expected missing kid, got %s", RuleID(err))
	}

	env.Headers.KeyID = []byte{0x05, 0x01}
	resign(t, env, k)
	_, err = roundTrip(t, env).Verify()
	expectCode(t, err, omnierr.CodeCouldNotVerifySignature)
	if RuleID(err) != RuleInvalidKeyID {
		t.Fatalf("expected invalid kid, got %s", RuleID(err))
	}
	if !errors.Is(err, identity.ErrMalformedIdentity) {
		t.Fatalf("expected identity cause in chain")
	}

	env.protected, err = encMode.Marshal(map[int]any{1: int64(keys.EdDSA), 4: "not bytes"})
	if err != nil {
		t.Fatalf("Marshal headers: %v", err)
	}
	b, err := env.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	_, err = Parse(b)
	expectCode(t, err, omnierr.CodeCouldNotVerifySignature)
	if RuleID(err) != RuleInvalidKeyID {
		t.Fatalf("expected invalid kid for text kid, got %s", RuleID(err))
	}
}

func TestFromMustMatchSigner(t *testing.T) {
	k := edKey(t, 1)
	id := addrOf(t, k)
	other := addrOf(t, edKey(t, 3))
	server := addrOf(t, edKey(t, 2))

	env, err := EncodeRequest(request(t, other, server), id, k)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	_, err = DecodeRequest(roundTrip(t, env), &server)
	expectCode(t, err, omnierr.CodeInvalidFromIdentity)
}

func TestUnknownDestination(t *testing.T) {
	k := edKey(t, 1)
	id := addrOf(t, k)
	server := addrOf(t, edKey(t, 2))
	elsewhere := addrOf(t, edKey(t, 3))

	env, err := EncodeRequest(request(t, id, elsewhere), id, k)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	_, err = DecodeRequest(roundTrip(t, env), &server)
	expectCode(t, err, omnierr.CodeUnknownDestination)

	wire := omnierr.From(err)
	if to, _ := wire.Field("to"); to != elsewhere.String() {
		t.Fatalf("to field: got %q want %q", to, elsewhere.String())
	}
	if this, _ := wire.Field("this"); this != server.String() {
		t.Fatalf("this field: got %q want %q", this, server.String())
	}

	if _, err := DecodeRequest(roundTrip(t, env), nil); err != nil {
		t.Fatalf("nil recipient should accept any destination: %v", err)
	}
}

func TestPayloadFailures(t *testing.T) {
	k := edKey(t, 1)
	id := addrOf(t, k)

	empty, err := Build(nil, id, k)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, err = DecodeRequest(roundTrip(t, empty), nil)
	expectCode(t, err, omnierr.CodeEmptyEnvelope)

	junk, err := Build([]byte("not cbor at all"), id, k)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, err = DecodeRequest(roundTrip(t, junk), nil)
	expectCode(t, err, omnierr.CodeInternalServerError)
	if !errors.Is(err, message.ErrDecode) {
		t.Fatalf("expected message decode error in chain: %v", err)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	client := edKey(t, 1)
	server := edKey(t, 2)
	clientID := addrOf(t, client)
	serverID := addrOf(t, server)

	req := request(t, clientID, serverID)
	resp := req.Respond(serverID)
	resp.Error = omnierr.InvalidMethodName("status")
	b, err := SealResponse(resp, serverID, server)
	if err != nil {
		t.Fatalf("SealResponse: %v", err)
	}
	got, err := OpenResponse(b, &clientID)
	if err != nil {
		t.Fatalf("OpenResponse: %v", err)
	}
	if got.From != serverID || omnierr.CodeOf(got.Error) != omnierr.CodeInvalidMethodName {
		t.Fatalf("unexpected response %+v", got)
	}
}

func TestDilithium3Envelope(t *testing.T) {
	k, err := keys.NewDilithium3FromSeed(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("NewDilithium3FromSeed: %v", err)
	}
	id := addrOf(t, k)
	server := addrOf(t, edKey(t, 2))

	b, err := SealRequest(request(t, id, server), id, k)
	if err != nil {
		t.Fatalf("SealRequest: %v", err)
	}
	env, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if env.Headers.Algorithm != int64(keys.Dilithium3) {
		t.Fatalf("expected dilithium algorithm, got %d", env.Headers.Algorithm)
	}
	if _, err := DecodeRequest(env, &server); err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for name, b := range map[string][]byte{
		"empty":     nil,
		"integer":   {0x01},
		"wrong tag": {0xd8, 0x20, 0x80},
		"truncated": {0xd2, 0x84, 0x40},
	} {
		_, err := Parse(b)
		if !IsKind(err, KindDecode) {
			t.Fatalf("%s: expected decode error, got %v", name, err)
		}
	}
}

func TestConcurrentVerify(t *testing.T) {
	k := keys.Locked(edKey(t, 1))
	id := addrOf(t, k)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			env, err := Build([]byte{byte(i)}, id, k)
			if err != nil {
				errs <- err
				return
			}
			b, err := env.Bytes()
			if err != nil {
				errs <- err
				return
			}
			parsed, err := Parse(b)
			if err != nil {
				errs <- err
				return
			}
			if _, err := parsed.Verify(); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent build/verify: %v", err)
	}
}
