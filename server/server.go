// Package server dispatches verified request envelopes to modules and signs
// their responses.
package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"omniproto.dev/omni/archive"
	"omniproto.dev/omni/envelope"
	"omniproto.dev/omni/identity"
	"omniproto.dev/omni/keys"
	"omniproto.dev/omni/message"
	"omniproto.dev/omni/observability"
	"omniproto.dev/omni/omnierr"
)

// ModuleInfo names a module and the endpoints it serves.
type ModuleInfo struct {
	Name      string
	Endpoints []string
}

// Module handles requests for its endpoints. A returned *omnierr.Error is
// sent to the caller as is; any other error is reported as an internal
// server error.
type Module interface {
	Info() ModuleInfo
	Execute(ctx context.Context, req *message.Request) ([]byte, error)
}

type Server struct {
	name    string
	version string
	id      identity.Identity
	signer  keys.Signer

	modules []Module
	routes  map[string]Module

	log       zerolog.Logger
	archive   archive.Archive
	acceptAny bool
	metrics   bool
}

type Option func(*Server) error

func WithModule(m Module) Option {
	return func(s *Server) error { return s.addModule(m) }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) error { s.log = l; return nil }
}

// WithArchive stores every accepted request envelope in a.
func WithArchive(a archive.Archive) Option {
	return func(s *Server) error { s.archive = a; return nil }
}

// AcceptAnyRecipient disables the check that requests are addressed to the
// server's identity.
func AcceptAnyRecipient() Option {
	return func(s *Server) error { s.acceptAny = true; return nil }
}

func WithMetrics() Option {
	return func(s *Server) error { s.metrics = true; return nil }
}

func WithVersion(v string) Option {
	return func(s *Server) error { s.version = v; return nil }
}

// New returns a server answering as id, signing with signer. The base
// module (status, heartbeat, endpoints) is always installed.
func New(name string, signer keys.Signer, id identity.Identity, opts ...Option) (*Server, error) {
	var pub []byte
	if signer != nil {
		pub = signer.PublicKey()
	}
	if !id.MatchesKey(pub) {
		return nil, fmt.Errorf("server: identity %s does not match signer key", id)
	}
	s := &Server{
		name:   name,
		id:     id,
		signer: signer,
		routes: map[string]Module{},
		log:    zerolog.Nop(),
	}
	if err := s.addModule(&baseModule{server: s}); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Server) addModule(m Module) error {
	info := m.Info()
	if len(info.Endpoints) == 0 {
		return fmt.Errorf("server: module %q has no endpoints", info.Name)
	}
	for _, ep := range info.Endpoints {
		if prev, ok := s.routes[ep]; ok {
			return fmt.Errorf("server: endpoint %q of module %q already served by %q", ep, info.Name, prev.Info().Name)
		}
	}
	for _, ep := range info.Endpoints {
		s.routes[ep] = m
	}
	s.modules = append(s.modules, m)
	return nil
}

func (s *Server) Name() string                { return s.name }
func (s *Server) Identity() identity.Identity { return s.id }

// Endpoints lists every routed method, sorted.
func (s *Server) Endpoints() []string {
	out := make([]string, 0, len(s.routes))
	for ep := range s.routes {
		out = append(out, ep)
	}
	sort.Strings(out)
	return out
}

// Handle verifies a request envelope, dispatches it and returns the signed
// response envelope. Protocol failures are reported inside the response;
// the error result is only set when no response could be signed.
func (s *Server) Handle(ctx context.Context, data []byte) ([]byte, error) {
	start := time.Now()
	log := s.log.With().Str("rid", uuid.NewString()).Logger()

	env, err := envelope.Parse(data)
	if err != nil {
		return s.reject(log, err)
	}
	var to *identity.Identity
	if !s.acceptAny {
		to = &s.id
	}
	req, err := envelope.DecodeRequest(env, to)
	if err != nil {
		return s.reject(log, err)
	}
	log = log.With().Str("method", req.Method).Stringer("from", req.From).Logger()

	if s.archive != nil {
		if id, err := s.archive.Put(ctx, data); err != nil {
			log.Warn().Err(err).Msg("archive request envelope")
		} else {
			log.Debug().Stringer("cid", id).Msg("archived request envelope")
		}
	}

	resp := req.Respond(s.id)
	out, oerr := s.execute(ctx, log, req)
	if oerr != nil {
		resp.Error = oerr
	} else {
		resp.Data = out
	}

	result := "ok"
	if resp.Error != nil {
		result = strconv.FormatUint(uint64(resp.Error.Code()), 10)
	}
	if s.metrics {
		observability.RecordRequest(s.name, req.Method, result, time.Since(start))
	}
	log.Debug().Str("result", result).Dur("duration", time.Since(start)).Msg("request handled")
	return envelope.SealResponse(resp, s.id, s.signer)
}

func (s *Server) execute(ctx context.Context, log zerolog.Logger, req *message.Request) ([]byte, *omnierr.Error) {
	m, ok := s.routes[req.Method]
	if !ok {
		return nil, omnierr.InvalidMethodName(req.Method)
	}
	out, err := m.Execute(ctx, req)
	if err == nil {
		return out, nil
	}
	var oe *omnierr.Error
	if errors.As(err, &oe) {
		return nil, oe
	}
	log.Error().Err(err).Str("module", m.Info().Name).Msg("module failure")
	return nil, omnierr.InternalServerError()
}

func (s *Server) reject(log zerolog.Logger, err error) ([]byte, error) {
	rule := envelope.RuleID(err)
	log.Debug().Err(err).Str("rule", rule).Msg("envelope rejected")
	if s.metrics {
		observability.RecordRejection(s.name, rule)
	}
	return s.ErrorResponse(omnierr.From(err))
}

// ErrorResponse signs a response carrying e and addressed to nobody in
// particular. Transports use it for failures that happen before a request
// could be decoded.
func (s *Server) ErrorResponse(e *omnierr.Error) ([]byte, error) {
	resp := &message.Response{
		Version: message.Version,
		From:    s.id,
		Error:   e,
	}
	resp.Timestamp = time.Now().UTC().Truncate(time.Second)
	return envelope.SealResponse(resp, s.id, s.signer)
}
