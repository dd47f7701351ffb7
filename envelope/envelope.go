// Package envelope signs and verifies OMNI messages wrapped in COSE_Sign1
// envelopes.
//
// The protected header carries the sender identity as the key id and,
// for signed envelopes, a COSE_KeySet holding the signer's public key. An
// envelope whose key id is the anonymous identity is accepted without a
// signature.
package envelope

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// COSE_Sign1 tag.
const Sign1Tag = 18

// ContentType is written into every protected header.
const ContentType = "application/cbor"

const sigContext = "Signature1"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em
	dm, err := cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		panic(err)
	}
	decMode = dm
}

// Headers are the protected header fields this package reads and writes.
// Other labels are ignored.
type Headers struct {
	Algorithm   int64  `cbor:"1,keyasint,omitempty"`
	ContentType string `cbor:"3,keyasint,omitempty"`
	KeyID       []byte `cbor:"4,keyasint,omitempty"`
	KeySet      []byte `cbor:"keyset,omitempty"`
}

// Envelope is a parsed COSE_Sign1 structure.
//
// The protected header bytes are kept exactly as received so verification
// covers what the sender signed.
type Envelope struct {
	Headers   Headers
	Payload   []byte
	Signature []byte

	protected   []byte
	unprotected cbor.RawMessage
}

type sign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

var emptyMap = cbor.RawMessage{0xa0}

// Parse decodes a COSE_Sign1 envelope. The CBOR tag is optional.
// Signatures are not checked; see Verify.
func Parse(b []byte) (*Envelope, error) {
	if len(b) == 0 {
		return nil, malformedEnvelope(fmt.Errorf("empty input"))
	}
	content := b
	if b[0]>>5 == 6 {
		var tag cbor.RawTag
		if err := decMode.Unmarshal(b, &tag); err != nil {
			return nil, malformedEnvelope(err)
		}
		if tag.Number != Sign1Tag {
			return nil, malformedEnvelope(fmt.Errorf("unexpected tag %d", tag.Number))
		}
		content = tag.Content
	}
	var raw sign1
	if err := decMode.Unmarshal(content, &raw); err != nil {
		return nil, malformedEnvelope(err)
	}
	env := &Envelope{
		Payload:     raw.Payload,
		Signature:   raw.Signature,
		protected:   raw.Protected,
		unprotected: raw.Unprotected,
	}
	if len(raw.Protected) > 0 {
		if err := decMode.Unmarshal(raw.Protected, &env.Headers); err != nil {
			if keyIDIsNotBytes(raw.Protected) {
				return nil, invalidKeyID(err)
			}
			return nil, malformedHeaders(err)
		}
	}
	return env, nil
}

// keyIDIsNotBytes reports whether protected decodes as a header map whose
// kid label holds something other than a byte string.
func keyIDIsNotBytes(protected []byte) bool {
	var m map[any]cbor.RawMessage
	if err := decMode.Unmarshal(protected, &m); err != nil {
		return false
	}
	kid, ok := m[uint64(4)]
	return ok && len(kid) > 0 && kid[0]>>5 != 2
}

// Bytes returns the tagged CBOR encoding of e. A nil Payload is written as
// null (detached).
func (e *Envelope) Bytes() ([]byte, error) {
	protected := e.protected
	if protected == nil {
		p, err := encMode.Marshal(e.Headers)
		if err != nil {
			return nil, encodeFailed("protected headers", err)
		}
		protected = p
	}
	unprotected := e.unprotected
	if len(unprotected) == 0 {
		unprotected = emptyMap
	}
	// An unsigned envelope still carries a byte string signature.
	sig := e.Signature
	if sig == nil {
		sig = []byte{}
	}
	b, err := encMode.Marshal(cbor.Tag{Number: Sign1Tag, Content: sign1{
		Protected:   protected,
		Unprotected: unprotected,
		Payload:     e.Payload,
		Signature:   sig,
	}})
	if err != nil {
		return nil, encodeFailed("envelope", err)
	}
	return b, nil
}

// KeySet decodes the keyset carried in the protected header.
func (e *Envelope) KeySet() (KeySet, error) {
	if len(e.Headers.KeySet) == 0 {
		return nil, nil
	}
	return DecodeKeySet(e.Headers.KeySet)
}

// toBeSigned returns the COSE Sig_structure for e.
func (e *Envelope) toBeSigned() ([]byte, error) {
	payload := e.Payload
	if payload == nil {
		payload = []byte{}
	}
	protected := e.protected
	if protected == nil {
		protected = []byte{}
	}
	return encMode.Marshal([]any{sigContext, protected, []byte{}, payload})
}
