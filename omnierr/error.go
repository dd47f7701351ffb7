// Package omnierr implements the OMNI error taxonomy: numeric codes grouped
// into ranges, message templates with named fields, and the CBOR form that
// travels inside responses.
//
// An *Error is immutable once constructed. Callers match on codes, never on
// rendered text:
//
//	if omnierr.CodeOf(err) == omnierr.CodeCouldNotVerifySignature { ... }
package omnierr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error is an OMNI protocol error.
type Error struct {
	code    Code
	message string
	fields  map[string]string
}

// New builds an error with an explicit message template. An empty message
// falls back to the built-in template for code. Fields are copied.
func New(code Code, message string, fields map[string]string) *Error {
	var cp map[string]string
	if len(fields) > 0 {
		cp = make(map[string]string, len(fields))
		for k, v := range fields {
			cp[k] = v
		}
	}
	return &Error{code: code, message: message, fields: cp}
}

// Application builds an application-specific error. Codes below
// ApplicationCodeStart are rejected, as is an empty message.
func Application(code Code, message string, fields map[string]string) (*Error, error) {
	if !code.IsApplication() {
		return nil, fmt.Errorf("omnierr: code %d is not in the application range", code)
	}
	if message == "" {
		return nil, fmt.Errorf("omnierr: application code %d requires a message", code)
	}
	return New(code, message, fields), nil
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message returns the explicit message template, or "" when the built-in
// template applies.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Field returns a single field value.
func (e *Error) Field(name string) (string, bool) {
	if e == nil {
		return "", false
	}
	v, ok := e.fields[name]
	return v, ok
}

// Fields returns a copy of the field map.
func (e *Error) Fields() map[string]string {
	if e == nil || len(e.fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out
}

// FieldNames returns the field names in sorted order.
func (e *Error) FieldNames() []string {
	if e == nil {
		return nil
	}
	names := make([]string, 0, len(e.fields))
	for k := range e.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// WithField returns a copy of e with name set to value.
func (e *Error) WithField(name, value string) *Error {
	out := New(e.Code(), e.Message(), e.fields)
	if out.fields == nil {
		out.fields = make(map[string]string, 1)
	}
	out.fields[name] = value
	return out
}

// Template returns the template Error renders: the explicit message if
// set, else the built-in template for the code.
func (e *Error) Template() string {
	if e == nil {
		return ""
	}
	if e.message != "" {
		return e.message
	}
	if t, ok := e.code.Template(); ok {
		return t
	}
	return "Invalid error code."
}

// Error renders the message template with the error's fields.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return Render(e.Template(), e.fields)
}

// Is matches another *Error with the same code, so sentinel constructors
// work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.code == t.code
}

// Equal reports whether a and b have the same code, message and fields.
func Equal(a, b *Error) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.code != b.code || a.message != b.message || len(a.fields) != len(b.fields) {
		return false
	}
	for k, v := range a.fields {
		if bv, ok := b.fields[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return CodeUnknown
}

// From returns the *Error in err's chain. Other errors become Unknown with
// err's text as a literal message. A nil err yields nil.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return New(CodeUnknown, escape(err.Error()), nil)
}

// escape doubles braces so text renders verbatim.
func escape(s string) string {
	if !strings.ContainsAny(s, "{}") {
		return s
	}
	r := strings.NewReplacer("{", "{{", "}", "}}")
	return r.Replace(s)
}
