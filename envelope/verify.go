package envelope

import (
	"omniproto.dev/omni/identity"
	"omniproto.dev/omni/keys"
	"omniproto.dev/omni/message"
)

// Verify checks the envelope signature and returns the signing identity.
//
// The key id names the signer. Anonymous envelopes are accepted unsigned;
// any other identity must have a matching key in the keyset whose
// algorithm equals the header algorithm and whose signature verifies.
func (e *Envelope) Verify() (identity.Identity, error) {
	if len(e.Headers.KeyID) == 0 {
		return identity.Identity{}, missingKeyID()
	}
	id, err := identity.FromBytes(e.Headers.KeyID)
	if err != nil {
		return identity.Identity{}, invalidKeyID(err)
	}
	if id.IsAnonymous() {
		return id, nil
	}

	ks, err := e.KeySet()
	if err != nil {
		return identity.Identity{}, malformedKeySet(err)
	}
	key, ok := ks.Lookup(id)
	if !ok {
		return identity.Identity{}, couldNotVerify()
	}
	alg := keys.Algorithm(e.Headers.Algorithm)
	if alg != key.Algorithm {
		return identity.Identity{}, couldNotVerify()
	}
	tbs, err := e.toBeSigned()
	if err != nil {
		return identity.Identity{}, couldNotVerify()
	}
	if !keys.Verify(alg, key.Public, tbs, e.Signature) {
		return identity.Identity{}, couldNotVerify()
	}
	return id, nil
}

// DecodeRequest verifies e and decodes its request payload.
//
// The request's from field must equal the signing identity. When to is
// non-nil the request must be addressed to *to.
func DecodeRequest(e *Envelope, to *identity.Identity) (*message.Request, error) {
	from, err := e.Verify()
	if err != nil {
		return nil, err
	}
	if e.Payload == nil {
		return nil, emptyEnvelope()
	}
	req, err := message.DecodeRequest(e.Payload)
	if err != nil {
		return nil, invalidPayload(err)
	}
	if req.From != from {
		return nil, fromMismatch()
	}
	if to != nil && req.To != *to {
		return nil, unknownDestination(req.To.String(), to.String())
	}
	return req, nil
}

// DecodeResponse verifies e and decodes its response payload, with the same
// sender and recipient checks as DecodeRequest.
func DecodeResponse(e *Envelope, to *identity.Identity) (*message.Response, error) {
	from, err := e.Verify()
	if err != nil {
		return nil, err
	}
	if e.Payload == nil {
		return nil, emptyEnvelope()
	}
	resp, err := message.DecodeResponse(e.Payload)
	if err != nil {
		return nil, invalidPayload(err)
	}
	if resp.From != from {
		return nil, fromMismatch()
	}
	if to != nil && resp.To != *to {
		return nil, unknownDestination(resp.To.String(), to.String())
	}
	return resp, nil
}

// OpenRequest parses b and returns its verified request.
func OpenRequest(b []byte, to *identity.Identity) (*message.Request, error) {
	env, err := Parse(b)
	if err != nil {
		return nil, err
	}
	return DecodeRequest(env, to)
}

// OpenResponse parses b and returns its verified response.
func OpenResponse(b []byte, to *identity.Identity) (*message.Response, error) {
	env, err := Parse(b)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(env, to)
}
