package omnierr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

var numbered = map[string]string{"0": "ZERO", "1": "ONE", "2": "TWO"}

func TestRenderTemplates(t *testing.T) {
	cases := []struct {
		template string
		want     string
	}{
		{"Hello {0} and {2}.", "Hello ZERO and TWO."},
		{"{2}", "TWO"},
		{"@{a}{b}{c}.", "@."},
		{"/{{}}{{{0}}}{{{a}}}{b}}}{{{2}.", "/{}{ZERO}{}}{TWO."},
		{"unterminated {0", "unterminated {0"},
		{"lone } brace", "lone } brace"},
		{"{x{{y", "{x{y"},
		{"open {0 then {{literal", "open {0 then {literal"},
	}
	for _, tc := range cases {
		e := New(CodeUnknown, tc.template, numbered)
		if got := e.Error(); got != tc.want {
			t.Fatalf("Render(%q): got %q want %q", tc.template, got, tc.want)
		}
	}
}

func TestBuiltinMessages(t *testing.T) {
	cases := []struct {
		err  *Error
		want string
	}{
		{Unknown(), "Unknown error."},
		{MessageTooLong("1024"), "Message is too long. Max allowed size is 1024 bytes."},
		{InvalidMethodName("nope"), `Invalid method name: "nope".`},
		{CouldNotVerifySignature(), "Signature does not match the public key."},
		{UnknownDestination("bto", "bthis"), "Unknown destination for message.\nThis is \"bthis\", message was for \"bto\"."},
		{EmptyEnvelope(), "An envelope must contain a payload."},
		{InternalServerError(), "An internal server error happened."},
		{New(Code(5000), "", nil), "Invalid error code."},
	}
	for _, tc := range cases {
		if got := tc.err.Error(); got != tc.want {
			t.Fatalf("code %d: got %q want %q", tc.err.Code(), got, tc.want)
		}
	}
}

func TestCBORRoundTripShapes(t *testing.T) {
	app := MustDefine(10042, "Quota", "Quota {used} of {limit} exceeded.", "used", "limit")
	cases := map[string]*Error{
		"code only":        InvalidFromIdentity(),
		"code and fields":  UnknownDestination("a", "b"),
		"code and message": New(CodeInternalServerError, "custom", nil),
		"all three":        app.New("7", "5"),
	}
	for name, want := range cases {
		b, err := want.Encode()
		if err != nil {
			t.Fatalf("%s: Encode: %v", name, err)
		}
		got, err := Decode(b)
		if err != nil {
			t.Fatalf("%s: Decode: %v", name, err)
		}
		if !Equal(got, want) {
			t.Fatalf("%s: round trip mismatch: got %#v want %#v", name, got, want)
		}
		if got.Error() != want.Error() {
			t.Fatalf("%s: rendered mismatch: %q vs %q", name, got.Error(), want.Error())
		}
	}
}

func TestCBOREncodingShape(t *testing.T) {
	b, err := CouldNotVerifySignature().Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var arr []any
	if err := cbor.Unmarshal(b, &arr); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(arr) != 1 {
		t.Fatalf("expected [code] only, got %v", arr)
	}

	b, err = MessageTooLong("10").Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var arr2 []any
	if err := cbor.Unmarshal(b, &arr2); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(arr2) != 2 {
		t.Fatalf("expected [code, fields], got %v", arr2)
	}
}

func TestDecodeRejects(t *testing.T) {
	appNoMessage, _ := cbor.Marshal([]any{uint32(10001)})
	tooMany, _ := cbor.Marshal([]any{uint32(1), "m", map[string]string{"a": "b"}, "extra"})
	wrongOrder, _ := cbor.Marshal([]any{uint32(1), map[string]string{"a": "b"}, "m"})
	notArray, _ := cbor.Marshal("nope")

	for name, b := range map[string][]byte{
		"application without message": appNoMessage,
		"too many elements":           tooMany,
		"fields before message":       wrongOrder,
		"not an array":                notArray,
		"truncated":                   {0x83, 0x01},
	} {
		if _, err := Decode(b); !errors.Is(err, ErrDecode) {
			t.Fatalf("%s: expected ErrDecode, got %v", name, err)
		}
	}
}

func TestClassification(t *testing.T) {
	cases := map[Code]Class{
		CodeUnknown:                 ClassTransport,
		CodeMessageTooLong:          ClassTransport,
		999:                         ClassTransport,
		CodeInvalidMethodName:       ClassRequest,
		CodeCouldNotVerifySignature: ClassRequest,
		CodeInternalServerError:     ClassServer,
		2999:                        ClassServer,
		3000:                        ClassReserved,
		9999:                        ClassReserved,
		ApplicationCodeStart:        ClassApplication,
		70000:                       ClassApplication,
	}
	for code, want := range cases {
		if got := code.Class(); got != want {
			t.Fatalf("Class(%d): got %s want %s", code, got, want)
		}
	}
}

func TestApplicationRange(t *testing.T) {
	if _, err := Application(9999, "below range", nil); err == nil {
		t.Fatalf("expected error for code below application range")
	}
	if _, err := Application(10000, "", nil); err == nil {
		t.Fatalf("expected error for empty application message")
	}
	e, err := Application(10000, "App says {x}.", map[string]string{"x": "hi"})
	if err != nil {
		t.Fatalf("Application: %v", err)
	}
	if e.Error() != "App says hi." {
		t.Fatalf("got %q", e.Error())
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("MustDefine should panic below the application range")
		}
	}()
	MustDefine(2001, "Bad", "bad")
}

func TestFromAndIs(t *testing.T) {
	wrapped := fmt.Errorf("layer: %w", CouldNotVerifySignature())
	if !errors.Is(wrapped, CouldNotVerifySignature()) {
		t.Fatalf("expected errors.Is to match on code")
	}
	if CodeOf(wrapped) != CodeCouldNotVerifySignature {
		t.Fatalf("CodeOf: got %d", CodeOf(wrapped))
	}
	if From(wrapped).Code() != CodeCouldNotVerifySignature {
		t.Fatalf("From should find the wrapped error")
	}

	plain := From(errors.New("disk {full}"))
	if plain.Code() != CodeUnknown {
		t.Fatalf("plain errors should map to Unknown")
	}
	if plain.Error() != "disk {full}" {
		t.Fatalf("plain error text should render verbatim, got %q", plain.Error())
	}
	if From(nil) != nil {
		t.Fatalf("From(nil) should be nil")
	}
}

func TestFieldsAreCopied(t *testing.T) {
	fields := map[string]string{"k": "v"}
	e := New(CodeUnknown, "{k}", fields)
	fields["k"] = "changed"
	if e.Error() != "v" {
		t.Fatalf("error should not observe caller mutation")
	}
	got := e.Fields()
	got["k"] = "mutated"
	if v, _ := e.Field("k"); v != "v" {
		t.Fatalf("Fields should return a copy")
	}
	e2 := e.WithField("k", "w")
	if e.Error() != "v" || e2.Error() != "w" {
		t.Fatalf("WithField should not modify the receiver")
	}
}
