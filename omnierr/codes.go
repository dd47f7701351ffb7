package omnierr

import "fmt"

// Code is the numeric error code carried on the wire.
type Code uint32

const (
	CodeUnknown        Code = 0
	CodeMessageTooLong Code = 1

	CodeInvalidMethodName       Code = 1000
	CodeInvalidFromIdentity     Code = 1001
	CodeCouldNotVerifySignature Code = 1002
	CodeUnknownDestination      Code = 1003
	CodeEmptyEnvelope           Code = 1004

	CodeInternalServerError Code = 2000

	// ApplicationCodeStart is the first code available to applications.
	ApplicationCodeStart Code = 10000
)

// Class groups codes by the numeric range they fall in.
type Class int

const (
	ClassTransport Class = iota
	ClassRequest
	ClassServer
	ClassReserved
	ClassApplication
)

func (c Class) String() string {
	switch c {
	case ClassTransport:
		return "transport"
	case ClassRequest:
		return "request"
	case ClassServer:
		return "server"
	case ClassApplication:
		return "application"
	default:
		return "reserved"
	}
}

// Class returns the range classification of c.
func (c Code) Class() Class {
	switch {
	case c < 1000:
		return ClassTransport
	case c < 2000:
		return ClassRequest
	case c < 3000:
		return ClassServer
	case c < ApplicationCodeStart:
		return ClassReserved
	default:
		return ClassApplication
	}
}

// IsApplication reports whether c is in the application-specific range.
func (c Code) IsApplication() bool { return c >= ApplicationCodeStart }

// Name returns the registered name of c, "ApplicationSpecific" for
// application codes, or "Unregistered" otherwise.
func (c Code) Name() string {
	if d, ok := builtins[c]; ok {
		return d.Name
	}
	if c.IsApplication() {
		return "ApplicationSpecific"
	}
	return "Unregistered"
}

func (c Code) String() string { return fmt.Sprintf("%s(%d)", c.Name(), uint32(c)) }

// Template returns the built-in message template for c.
func (c Code) Template() (string, bool) {
	d, ok := builtins[c]
	if !ok {
		return "", false
	}
	return d.Template, true
}

// Definition describes one error code: its name, message template and the
// ordered field names its constructor accepts.
type Definition struct {
	Code     Code
	Name     string
	Template string
	Args     []string
}

// New builds an error from d, pairing args with d.Args in order. Extra args
// are ignored and missing ones are left unset.
//
// Built-in definitions render their static template; application
// definitions carry the template as the explicit message.
func (d Definition) New(args ...string) *Error {
	var fields map[string]string
	for i, name := range d.Args {
		if i >= len(args) {
			break
		}
		if fields == nil {
			fields = make(map[string]string, len(d.Args))
		}
		fields[name] = args[i]
	}
	msg := ""
	if d.Code.IsApplication() {
		msg = d.Template
	}
	return &Error{code: d.Code, message: msg, fields: fields}
}

// MustDefine declares an application error code. It panics when code is
// below ApplicationCodeStart or the template is empty, and is meant for
// package-level variable declarations.
func MustDefine(code Code, name, template string, args ...string) Definition {
	if !code.IsApplication() {
		panic(fmt.Sprintf("omnierr: application code %d is below %d", code, ApplicationCodeStart))
	}
	if template == "" {
		panic(fmt.Sprintf("omnierr: application code %d has no template", code))
	}
	return Definition{Code: code, Name: name, Template: template, Args: append([]string(nil), args...)}
}

var (
	defUnknown                 = Definition{CodeUnknown, "Unknown", "Unknown error.", nil}
	defMessageTooLong          = Definition{CodeMessageTooLong, "MessageTooLong", "Message is too long. Max allowed size is {max} bytes.", []string{"max"}}
	defInvalidMethodName       = Definition{CodeInvalidMethodName, "InvalidMethodName", `Invalid method name: "{method}".`, []string{"method"}}
	defInvalidFromIdentity     = Definition{CodeInvalidFromIdentity, "InvalidFromIdentity", "The identity of the from field is invalid or unexpected.", nil}
	defCouldNotVerifySignature = Definition{CodeCouldNotVerifySignature, "CouldNotVerifySignature", "Signature does not match the public key.", nil}
	defUnknownDestination      = Definition{CodeUnknownDestination, "UnknownDestination", "Unknown destination for message.\nThis is \"{this}\", message was for \"{to}\".", []string{"to", "this"}}
	defEmptyEnvelope           = Definition{CodeEmptyEnvelope, "EmptyEnvelope", "An envelope must contain a payload.", nil}
	defInternalServerError     = Definition{CodeInternalServerError, "InternalServerError", "An internal server error happened.", nil}
)

var builtins = map[Code]Definition{
	CodeUnknown:                 defUnknown,
	CodeMessageTooLong:          defMessageTooLong,
	CodeInvalidMethodName:       defInvalidMethodName,
	CodeInvalidFromIdentity:     defInvalidFromIdentity,
	CodeCouldNotVerifySignature: defCouldNotVerifySignature,
	CodeUnknownDestination:      defUnknownDestination,
	CodeEmptyEnvelope:           defEmptyEnvelope,
	CodeInternalServerError:     defInternalServerError,
}

// Builtins returns the built-in definitions ordered by code.
func Builtins() []Definition {
	return []Definition{
		defUnknown,
		defMessageTooLong,
		defInvalidMethodName,
		defInvalidFromIdentity,
		defCouldNotVerifySignature,
		defUnknownDestination,
		defEmptyEnvelope,
		defInternalServerError,
	}
}

func Unknown() *Error                      { return defUnknown.New() }
func MessageTooLong(maxSize string) *Error { return defMessageTooLong.New(maxSize) }
func InvalidMethodName(method string) *Error {
	return defInvalidMethodName.New(method)
}
func InvalidFromIdentity() *Error     { return defInvalidFromIdentity.New() }
func CouldNotVerifySignature() *Error { return defCouldNotVerifySignature.New() }

// UnknownDestination reports a message addressed to `to` arriving at `this`.
func UnknownDestination(to, this string) *Error {
	return defUnknownDestination.New(to, this)
}
func EmptyEnvelope() *Error       { return defEmptyEnvelope.New() }
func InternalServerError() *Error { return defInternalServerError.New() }
