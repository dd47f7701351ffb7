package server

import (
	"context"

	"github.com/fxamacker/cbor/v2"

	"omniproto.dev/omni/identity"
	"omniproto.dev/omni/message"
)

const (
	MethodStatus    = "status"
	MethodHeartbeat = "heartbeat"
	MethodEndpoints = "endpoints"
)

// Status is the result of the status endpoint.
type Status struct {
	ProtocolVersion uint8             `cbor:"0,keyasint"`
	Name            string            `cbor:"1,keyasint"`
	PublicKey       []byte            `cbor:"2,keyasint,omitempty"`
	Identity        identity.Identity `cbor:"3,keyasint"`
	Endpoints       []string          `cbor:"4,keyasint"`
	ServerVersion   string            `cbor:"5,keyasint,omitempty"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func DecodeStatus(b []byte) (*Status, error) {
	var st Status
	if err := cbor.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func DecodeEndpoints(b []byte) ([]string, error) {
	var eps []string
	if err := cbor.Unmarshal(b, &eps); err != nil {
		return nil, err
	}
	return eps, nil
}

type baseModule struct {
	server *Server
}

func (m *baseModule) Info() ModuleInfo {
	return ModuleInfo{Name: "base", Endpoints: []string{MethodStatus, MethodHeartbeat, MethodEndpoints}}
}

func (m *baseModule) Execute(_ context.Context, req *message.Request) ([]byte, error) {
	s := m.server
	switch req.Method {
	case MethodStatus:
		st := Status{
			ProtocolVersion: message.Version,
			Name:            s.name,
			Identity:        s.id,
			Endpoints:       s.Endpoints(),
			ServerVersion:   s.version,
		}
		if s.signer != nil {
			st.PublicKey = s.signer.PublicKey()
		}
		return encMode.Marshal(st)
	case MethodHeartbeat:
		return nil, nil
	default:
		return encMode.Marshal(s.Endpoints())
	}
}
