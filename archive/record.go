package archive

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"

	"omniproto.dev/omni/cidutil"
	"omniproto.dev/omni/envelope"
	"omniproto.dev/omni/identity"
	"omniproto.dev/omni/message"
	"omniproto.dev/omni/omnierr"
)

// Kind says which message an archived envelope carries.
type Kind uint8

const (
	KindRequest  Kind = 1
	KindResponse Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Record describes an archived envelope. It is read from the envelope's
// headers and payload; the signature is not checked.
type Record struct {
	CID       cid.Cid
	Size      int
	Signer    identity.Identity
	Kind      Kind
	Method    string // requests only
	MessageID uint64
	Timestamp time.Time
	// ErrorCode is set for responses that carry an error.
	ErrorCode *omnierr.Code
}

// Describe builds the Record for data. It fails with ErrNotEnvelope unless
// data is a COSE_Sign1 envelope with a valid key id and a request or
// response payload.
func Describe(data []byte) (Record, error) {
	id, err := cidutil.ObjectID(data)
	if err != nil {
		return Record{}, err
	}
	env, err := envelope.Parse(data)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrNotEnvelope, err)
	}
	signer, err := identity.FromBytes(env.Headers.KeyID)
	if err != nil {
		return Record{}, fmt.Errorf("%w: key id: %v", ErrNotEnvelope, err)
	}
	if env.Payload == nil {
		return Record{}, fmt.Errorf("%w: no payload", ErrNotEnvelope)
	}

	rec := Record{CID: id, Size: len(data), Signer: signer}
	if req, err := message.DecodeRequest(env.Payload); err == nil {
		rec.Kind = KindRequest
		rec.Method = req.Method
		rec.MessageID = req.ID
		rec.Timestamp = req.Timestamp
		return rec, nil
	}
	resp, err := message.DecodeResponse(env.Payload)
	if err != nil {
		return Record{}, fmt.Errorf("%w: payload is neither request nor response", ErrNotEnvelope)
	}
	rec.Kind = KindResponse
	rec.MessageID = resp.ID
	rec.Timestamp = resp.Timestamp
	if resp.Error != nil {
		code := resp.Error.Code()
		rec.ErrorCode = &code
	}
	return rec, nil
}

type recordWire struct {
	CID       string            `cbor:"0,keyasint"`
	Size      int               `cbor:"1,keyasint"`
	Signer    identity.Identity `cbor:"2,keyasint"`
	Kind      Kind              `cbor:"3,keyasint"`
	Method    string            `cbor:"4,keyasint,omitempty"`
	MessageID uint64            `cbor:"5,keyasint,omitempty"`
	Timestamp int64             `cbor:"6,keyasint,omitempty"`
	ErrorCode *uint32           `cbor:"7,keyasint,omitempty"`
}

var recordEnc = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// MarshalCBOR writes r as an integer-keyed map.
func (r Record) MarshalCBOR() ([]byte, error) {
	w := recordWire{
		CID:       r.CID.String(),
		Size:      r.Size,
		Signer:    r.Signer,
		Kind:      r.Kind,
		Method:    r.Method,
		MessageID: r.MessageID,
	}
	if !r.Timestamp.IsZero() {
		w.Timestamp = r.Timestamp.Unix()
	}
	if r.ErrorCode != nil {
		c := uint32(*r.ErrorCode)
		w.ErrorCode = &c
	}
	return recordEnc.Marshal(w)
}

func (r *Record) UnmarshalCBOR(data []byte) error {
	var w recordWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return err
	}
	id, err := cid.Decode(w.CID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCID, err)
	}
	*r = Record{
		CID:       id,
		Size:      w.Size,
		Signer:    w.Signer,
		Kind:      w.Kind,
		Method:    w.Method,
		MessageID: w.MessageID,
	}
	if w.Timestamp != 0 {
		r.Timestamp = time.Unix(w.Timestamp, 0).UTC()
	}
	if w.ErrorCode != nil {
		c := omnierr.Code(*w.ErrorCode)
		r.ErrorCode = &c
	}
	return nil
}

// Filter selects records. Zero fields match everything.
type Filter struct {
	Signer *identity.Identity
	Kind   Kind
	Method string
}

func (f Filter) Match(r Record) bool {
	if f.Signer != nil && r.Signer != *f.Signer {
		return false
	}
	if f.Kind != 0 && r.Kind != f.Kind {
		return false
	}
	return f.Method == "" || r.Method == f.Method
}

// Select lists the records of a matching f. a must implement Lister.
func Select(ctx context.Context, a Archive, f Filter) ([]Record, error) {
	l, ok := a.(Lister)
	if !ok {
		return nil, ErrNotListable
	}
	var out []Record
	err := l.List(ctx, func(r Record) error {
		if f.Match(r) {
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

// listUnion walks the records of every listable archive once each, in CID
// order. Archives that cannot list are skipped; ErrNotListable is returned
// only when none can.
func listUnion(ctx context.Context, archives []Archive, fn func(Record) error) error {
	seen := map[string]Record{}
	listed := false
	for _, a := range archives {
		l, ok := a.(Lister)
		if !ok {
			continue
		}
		listed = true
		err := l.List(ctx, func(r Record) error {
			key := r.CID.String()
			if _, dup := seen[key]; !dup {
				seen[key] = r
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	if !listed {
		return ErrNotListable
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(seen[k]); err != nil {
			return err
		}
	}
	return nil
}
