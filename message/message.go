// Package message defines OMNI requests and responses and their CBOR wire
// forms.
//
// Requests are CBOR tag 10001 and responses tag 10002, each wrapping an
// integer-keyed map. Unknown keys are ignored on decode so newer peers can
// add fields.
package message

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"omniproto.dev/omni/identity"
	"omniproto.dev/omni/omnierr"
)

// Version is the protocol version written into new messages.
const Version uint8 = 1

const (
	RequestTag  = 10001
	ResponseTag = 10002
)

// NonceSize is the length of nonces generated by NewRequest.
const NonceSize = 16

// ErrDecode is wrapped by every *DecodeError.
var ErrDecode = errors.New("message: decode error")

// DecodeError reports which message part failed to decode.
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("message: cannot decode %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrDecode, e.Err} }

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeUnix
	opts.TimeTag = cbor.EncTagRequired
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em

	dm, err := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
		TimeTag:   cbor.DecTagOptional,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	decMode = dm
}

// Attributes are optional, integer-keyed extensions carried verbatim.
type Attributes map[uint32]cbor.RawMessage

// Has reports whether attribute id is present.
func (a Attributes) Has(id uint32) bool {
	_, ok := a[id]
	return ok
}

// Get decodes attribute id into v.
func (a Attributes) Get(id uint32, v any) error {
	raw, ok := a[id]
	if !ok {
		return fmt.Errorf("message: attribute %d not present", id)
	}
	if err := decMode.Unmarshal(raw, v); err != nil {
		return &DecodeError{What: fmt.Sprintf("attribute %d", id), Err: err}
	}
	return nil
}

// With returns a copy of a with attribute id set to the encoding of v.
func (a Attributes) With(id uint32, v any) (Attributes, error) {
	raw, err := encMode.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make(Attributes, len(a)+1)
	for k, val := range a {
		out[k] = val
	}
	out[id] = raw
	return out, nil
}

// Request asks the recipient to run Method with Data. Timestamps travel as
// whole seconds; Encode drops any fraction.
type Request struct {
	Version    uint8
	From       identity.Identity
	To         identity.Identity
	Method     string
	Data       []byte
	Timestamp  time.Time
	ID         uint64
	Nonce      []byte
	Attributes Attributes
}

// NewRequest returns a request stamped with the current time and a random
// nonce.
func NewRequest(from, to identity.Identity, method string, data []byte) (*Request, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return &Request{
		Version:   Version,
		From:      from,
		To:        to,
		Method:    method,
		Data:      data,
		Timestamp: now(),
		Nonce:     nonce,
	}, nil
}

// Respond starts a response to r sent by from, echoing r's ID.
func (r *Request) Respond(from identity.Identity) *Response {
	return &Response{
		Version:   Version,
		From:      from,
		To:        r.From,
		Timestamp: now(),
		ID:        r.ID,
	}
}

// Response carries either result Data or an Error.
type Response struct {
	Version    uint8
	From       identity.Identity
	To         identity.Identity
	Data       []byte
	Error      *omnierr.Error
	Timestamp  time.Time
	ID         uint64
	Attributes Attributes
}

// Result returns the response data, or its error.
func (r *Response) Result() ([]byte, error) {
	if r.Error != nil {
		return nil, r.Error
	}
	return r.Data, nil
}

func now() time.Time { return time.Now().UTC().Truncate(time.Second) }

type requestWire struct {
	Version    uint8                      `cbor:"0,keyasint,omitempty"`
	From       *identity.Identity         `cbor:"1,keyasint,omitempty"`
	To         *identity.Identity         `cbor:"2,keyasint,omitempty"`
	Method     string                     `cbor:"3,keyasint"`
	Data       []byte                     `cbor:"4,keyasint,omitempty"`
	Timestamp  *time.Time                 `cbor:"5,keyasint,omitempty"`
	ID         *uint64                    `cbor:"6,keyasint,omitempty"`
	Nonce      []byte                     `cbor:"7,keyasint,omitempty"`
	Attributes map[uint32]cbor.RawMessage `cbor:"8,keyasint,omitempty"`
}

type responseWire struct {
	Version    uint8                      `cbor:"0,keyasint,omitempty"`
	From       *identity.Identity         `cbor:"1,keyasint,omitempty"`
	To         *identity.Identity         `cbor:"2,keyasint,omitempty"`
	Data       cbor.RawMessage            `cbor:"4,keyasint,omitempty"`
	Timestamp  *time.Time                 `cbor:"5,keyasint,omitempty"`
	ID         *uint64                    `cbor:"6,keyasint,omitempty"`
	Attributes map[uint32]cbor.RawMessage `cbor:"8,keyasint,omitempty"`
}

// Encode returns the tagged CBOR form of r.
func (r *Request) Encode() ([]byte, error) {
	w := requestWire{
		Version:    r.Version,
		From:       nonAnonymous(r.From),
		To:         nonAnonymous(r.To),
		Method:     r.Method,
		Data:       r.Data,
		Timestamp:  timePtr(r.Timestamp),
		Nonce:      r.Nonce,
		Attributes: r.Attributes,
	}
	if r.ID != 0 {
		id := r.ID
		w.ID = &id
	}
	return encMode.Marshal(cbor.Tag{Number: RequestTag, Content: w})
}

// DecodeRequest parses a request. The tag is optional; a different tag is an
// error.
func DecodeRequest(b []byte) (*Request, error) {
	content, err := untag(b, RequestTag)
	if err != nil {
		return nil, &DecodeError{What: "request", Err: err}
	}
	var w requestWire
	if err := decMode.Unmarshal(content, &w); err != nil {
		return nil, &DecodeError{What: "request", Err: err}
	}
	r := &Request{
		Version:    w.Version,
		From:       derefIdentity(w.From),
		To:         derefIdentity(w.To),
		Method:     w.Method,
		Data:       w.Data,
		Nonce:      w.Nonce,
		Attributes: Attributes(w.Attributes),
	}
	if w.Timestamp != nil {
		r.Timestamp = w.Timestamp.UTC()
	}
	if w.ID != nil {
		r.ID = *w.ID
	}
	return r, nil
}

// Encode returns the tagged CBOR form of r. An error takes precedence over
// data.
func (r *Response) Encode() ([]byte, error) {
	w := responseWire{
		Version:    r.Version,
		From:       &r.From,
		To:         nonAnonymous(r.To),
		Timestamp:  timePtr(r.Timestamp),
		Attributes: r.Attributes,
	}
	if r.ID != 0 {
		id := r.ID
		w.ID = &id
	}
	switch {
	case r.Error != nil:
		raw, err := r.Error.MarshalCBOR()
		if err != nil {
			return nil, err
		}
		w.Data = raw
	case r.Data != nil:
		raw, err := encMode.Marshal(r.Data)
		if err != nil {
			return nil, err
		}
		w.Data = raw
	}
	return encMode.Marshal(cbor.Tag{Number: ResponseTag, Content: w})
}

// DecodeResponse parses a response.
func DecodeResponse(b []byte) (*Response, error) {
	content, err := untag(b, ResponseTag)
	if err != nil {
		return nil, &DecodeError{What: "response", Err: err}
	}
	var w responseWire
	if err := decMode.Unmarshal(content, &w); err != nil {
		return nil, &DecodeError{What: "response", Err: err}
	}
	r := &Response{
		Version:    w.Version,
		From:       derefIdentity(w.From),
		To:         derefIdentity(w.To),
		Attributes: Attributes(w.Attributes),
	}
	if w.Timestamp != nil {
		r.Timestamp = w.Timestamp.UTC()
	}
	if w.ID != nil {
		r.ID = *w.ID
	}
	if len(w.Data) > 0 {
		switch w.Data[0] >> 5 {
		case 2:
			if err := decMode.Unmarshal(w.Data, &r.Data); err != nil {
				return nil, &DecodeError{What: "response data", Err: err}
			}
		case 4:
			e, err := omnierr.Decode(w.Data)
			if err != nil {
				return nil, &DecodeError{What: "response error", Err: err}
			}
			r.Error = e
		default:
			return nil, &DecodeError{What: "response data", Err: errors.New("expected bytes or error array")}
		}
	}
	return r, nil
}

func untag(b []byte, want uint64) ([]byte, error) {
	if len(b) == 0 {
		return nil, errors.New("empty input")
	}
	if b[0]>>5 != 6 {
		return b, nil
	}
	var tag cbor.RawTag
	if err := decMode.Unmarshal(b, &tag); err != nil {
		return nil, err
	}
	if tag.Number != want {
		return nil, fmt.Errorf("unexpected tag %d, want %d", tag.Number, want)
	}
	return tag.Content, nil
}

func nonAnonymous(id identity.Identity) *identity.Identity {
	if id.IsAnonymous() {
		return nil
	}
	return &id
}

func derefIdentity(id *identity.Identity) identity.Identity {
	if id == nil {
		return identity.Anonymous()
	}
	return *id
}

// timePtr returns t in whole UTC seconds, the wire precision.
func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC().Truncate(time.Second)
	return &t
}
