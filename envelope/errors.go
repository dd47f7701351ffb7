package envelope

import (
	"errors"

	"omniproto.dev/omni/omnierr"
)

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind/RuleID, or on the wire code via
// omnierr.CodeOf, rather than matching error strings.
type Kind string

const (
	KindDecode    Kind = "Decode"
	KindEncode    Kind = "Encode"
	KindIdentity  Kind = "Identity"
	KindSignature Kind = "Signature"
	KindRouting   Kind = "Routing"
	KindInternal  Kind = "Internal"
)

// Rule identifiers.
const (
	RuleMalformedEnvelope  = "ENV-DEC-001"
	RuleMalformedHeaders   = "ENV-DEC-002"
	RuleMalformedKeySet    = "ENV-DEC-003"
	RuleMissingKeyID       = "ENV-KID-001"
	RuleInvalidKeyID       = "ENV-KID-002"
	RuleSignature          = "ENV-SIG-001"
	RuleEmptyEnvelope      = "ENV-PAY-001"
	RuleInvalidPayload     = "ENV-PAY-002"
	RuleFromMismatch       = "ENV-MSG-001"
	RuleUnknownDestination = "ENV-MSG-002"
	RuleIdentityKeyMatch   = "ENV-KEY-001"
	RuleEncode             = "ENV-ENC-001"
)

// Error is the package's structured error type.
//
// Wire is the protocol error a server reports for this failure. It is what
// omnierr.From and errors.As(*omnierr.Error) find in the chain.
//
// Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	RuleID  string
	Message string
	Wire    *omnierr.Error
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	var out []error
	if e.Wire != nil {
		out = append(out, e.Wire)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

func newError(kind Kind, ruleID, msg string, wire *omnierr.Error, cause error) error {
	return &Error{Kind: kind, RuleID: ruleID, Message: msg, Wire: wire, Cause: cause}
}

// IsKind reports whether err is (or wraps) an *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// RuleID returns the RuleID of a structured error, or "".
func RuleID(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.RuleID
}

func malformedEnvelope(cause error) error {
	return newError(KindDecode, RuleMalformedEnvelope, "envelope: malformed COSE_Sign1",
		omnierr.New(omnierr.CodeUnknown, "Could not decode the envelope.", nil), cause)
}

func malformedHeaders(cause error) error {
	return newError(KindDecode, RuleMalformedHeaders, "envelope: malformed protected headers",
		omnierr.New(omnierr.CodeUnknown, "Could not decode the envelope headers.", nil), cause)
}

func missingKeyID() error {
	return newError(KindIdentity, RuleMissingKeyID, "envelope: missing key id",
		omnierr.CouldNotVerifySignature(), nil)
}

func invalidKeyID(cause error) error {
	return newError(KindIdentity, RuleInvalidKeyID, "envelope: key id is not a valid identity",
		omnierr.CouldNotVerifySignature(), cause)
}

// couldNotVerify covers every signature failure, including an unknown key,
// so the error does not reveal which keys the envelope carried.
func couldNotVerify() error {
	return newError(KindSignature, RuleSignature, "envelope: could not verify signature",
		omnierr.CouldNotVerifySignature(), nil)
}

func malformedKeySet(cause error) error {
	return newError(KindSignature, RuleMalformedKeySet, "envelope: could not verify signature",
		omnierr.CouldNotVerifySignature(), cause)
}

func emptyEnvelope() error {
	return newError(KindDecode, RuleEmptyEnvelope, "envelope: no payload",
		omnierr.EmptyEnvelope(), nil)
}

func invalidPayload(cause error) error {
	return newError(KindInternal, RuleInvalidPayload, "envelope: payload is not a message",
		omnierr.InternalServerError(), cause)
}

func fromMismatch() error {
	return newError(KindRouting, RuleFromMismatch, "envelope: message sender does not match signer",
		omnierr.InvalidFromIdentity(), nil)
}

func unknownDestination(to, this string) error {
	return newError(KindRouting, RuleUnknownDestination, "envelope: message addressed elsewhere",
		omnierr.UnknownDestination(to, this), nil)
}

func identityKeyMismatch() error {
	return newError(KindIdentity, RuleIdentityKeyMatch, "envelope: identity does not match key",
		omnierr.New(omnierr.CodeUnknown, "Identity did not match keypair.", nil), nil)
}

func encodeFailed(what string, cause error) error {
	return newError(KindEncode, RuleEncode, "envelope: cannot encode "+what,
		omnierr.InternalServerError(), cause)
}
