package envelope

import (
	"omniproto.dev/omni/identity"
	"omniproto.dev/omni/keys"
	"omniproto.dev/omni/message"
)

// Build wraps payload in an envelope for id, signed by signer.
//
// The anonymous identity must be paired with a nil signer and yields an
// unsigned envelope. Any other identity must name signer's public key.
func Build(payload []byte, id identity.Identity, signer keys.Signer) (*Envelope, error) {
	var pub []byte
	if signer != nil {
		pub = signer.PublicKey()
	}
	if !id.MatchesKey(pub) {
		return nil, identityKeyMismatch()
	}

	hdr := Headers{
		Algorithm:   int64(keys.EdDSA),
		ContentType: ContentType,
		KeyID:       id.Bytes(),
	}
	if signer != nil {
		hdr.Algorithm = int64(signer.Algorithm())
		ks, err := KeySet{NewKey(id, signer.Algorithm(), pub)}.Encode()
		if err != nil {
			return nil, encodeFailed("keyset", err)
		}
		hdr.KeySet = ks
	}
	protected, err := encMode.Marshal(hdr)
	if err != nil {
		return nil, encodeFailed("protected headers", err)
	}

	env := &Envelope{Headers: hdr, Payload: payload, protected: protected}
	if signer == nil {
		return env, nil
	}
	tbs, err := env.toBeSigned()
	if err != nil {
		return nil, encodeFailed("signature structure", err)
	}
	sig, err := signer.Sign(tbs)
	if err != nil {
		return nil, encodeFailed("signature", err)
	}
	env.Signature = sig
	return env, nil
}

// EncodeRequest encodes req and wraps it in a signed envelope.
func EncodeRequest(req *message.Request, id identity.Identity, signer keys.Signer) (*Envelope, error) {
	payload, err := req.Encode()
	if err != nil {
		return nil, encodeFailed("request", err)
	}
	return Build(payload, id, signer)
}

// EncodeResponse encodes resp and wraps it in a signed envelope.
func EncodeResponse(resp *message.Response, id identity.Identity, signer keys.Signer) (*Envelope, error) {
	payload, err := resp.Encode()
	if err != nil {
		return nil, encodeFailed("response", err)
	}
	return Build(payload, id, signer)
}

// SealRequest is EncodeRequest followed by Bytes.
func SealRequest(req *message.Request, id identity.Identity, signer keys.Signer) ([]byte, error) {
	env, err := EncodeRequest(req, id, signer)
	if err != nil {
		return nil, err
	}
	return env.Bytes()
}

// SealResponse is EncodeResponse followed by Bytes.
func SealResponse(resp *message.Response, id identity.Identity, signer keys.Signer) ([]byte, error) {
	env, err := EncodeResponse(resp, id, signer)
	if err != nil {
		return nil, err
	}
	return env.Bytes()
}
