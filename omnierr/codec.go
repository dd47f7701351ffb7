package omnierr

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrDecode is wrapped by every CBOR decoding failure in this package.
var ErrDecode = errors.New("omnierr: cannot decode error")

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

const (
	majorText = 3
	majorMap  = 5
)

// MarshalCBOR encodes e as [code, message?, fields?]. The message is written
// whenever it is set and always for application codes; fields only when
// non-empty.
func (e *Error) MarshalCBOR() ([]byte, error) {
	if e == nil {
		return nil, errors.New("omnierr: cannot encode nil error")
	}
	arr := make([]any, 1, 3)
	arr[0] = uint32(e.code)
	if e.message != "" || e.code.IsApplication() {
		arr = append(arr, e.message)
	}
	if len(e.fields) > 0 {
		arr = append(arr, e.fields)
	}
	return encMode.Marshal(arr)
}

// UnmarshalCBOR decodes the array form. Optional elements are recognised by
// CBOR type, so every combination of message and fields round-trips.
func (e *Error) UnmarshalCBOR(data []byte) error {
	var items []cbor.RawMessage
	if err := cbor.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(items) == 0 || len(items) > 3 {
		return fmt.Errorf("%w: expected 1 to 3 elements, got %d", ErrDecode, len(items))
	}

	var code uint32
	if err := cbor.Unmarshal(items[0], &code); err != nil {
		return fmt.Errorf("%w: code: %v", ErrDecode, err)
	}
	out := Error{code: Code(code)}

	rest := items[1:]
	if len(rest) > 0 && majorType(rest[0]) == majorText {
		if err := cbor.Unmarshal(rest[0], &out.message); err != nil {
			return fmt.Errorf("%w: message: %v", ErrDecode, err)
		}
		rest = rest[1:]
	} else if out.code.IsApplication() {
		return fmt.Errorf("%w: application code %d without message", ErrDecode, code)
	}
	if len(rest) > 0 && majorType(rest[0]) == majorMap {
		if err := cbor.Unmarshal(rest[0], &out.fields); err != nil {
			return fmt.Errorf("%w: fields: %v", ErrDecode, err)
		}
		if len(out.fields) == 0 {
			out.fields = nil
		}
		rest = rest[1:]
	}
	if len(rest) > 0 {
		return fmt.Errorf("%w: unexpected trailing element", ErrDecode)
	}

	*e = out
	return nil
}

// Encode returns the CBOR form of e.
func (e *Error) Encode() ([]byte, error) { return e.MarshalCBOR() }

// Decode parses the CBOR form produced by Encode.
func Decode(b []byte) (*Error, error) {
	e := new(Error)
	if err := e.UnmarshalCBOR(b); err != nil {
		return nil, err
	}
	return e, nil
}

func majorType(raw cbor.RawMessage) byte {
	if len(raw) == 0 {
		return 0xff
	}
	return raw[0] >> 5
}
