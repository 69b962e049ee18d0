package router

import (
	"context"
	"errors"
	"net/netip"
	"sync"

	"netopsbot/internal/domain"
)

type call struct {
	Backend string
	Op      string
	Target  netip.Addr
	Text    string
}

// recorder is shared by the fake adapters so tests can assert call order.
type recorder struct {
	mu      sync.Mutex
	calls   []call
	results map[string]domain.BackendResult // keyed by "backend.op"
	errs    map[string]error
	panics  map[string]bool
}

func newRecorder() *recorder {
	return &recorder{
		results: make(map[string]domain.BackendResult),
		errs:    make(map[string]error),
		panics:  make(map[string]bool),
	}
}

func (r *recorder) record(backend, op string, target netip.Addr, text string) (domain.BackendResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, call{Backend: backend, Op: op, Target: target, Text: text})
	key := backend + "." + op
	res, ok := r.results[key]
	err := r.errs[key]
	panics := r.panics[key]
	r.mu.Unlock()

	if panics {
		panic("boom in " + key)
	}
	if !ok {
		res = domain.Ok(key + " ok")
	}
	return res, err
}

func (r *recorder) Calls() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

type fakeConfig struct {
	name string
	rec  *recorder
}

func (f *fakeConfig) Name() string { return f.name }
func (f *fakeConfig) Create(_ context.Context, t netip.Addr) (domain.BackendResult, error) {
	return f.rec.record(f.name, "create", t, "")
}
func (f *fakeConfig) Delete(_ context.Context, t netip.Addr) (domain.BackendResult, error) {
	return f.rec.record(f.name, "delete", t, "")
}
func (f *fakeConfig) Enable(_ context.Context, t netip.Addr) (domain.BackendResult, error) {
	return f.rec.record(f.name, "enable", t, "")
}
func (f *fakeConfig) Disable(_ context.Context, t netip.Addr) (domain.BackendResult, error) {
	return f.rec.record(f.name, "disable", t, "")
}
func (f *fakeConfig) Status(_ context.Context, t netip.Addr) (domain.BackendResult, error) {
	return f.rec.record(f.name, "status", t, "")
}

type fakeCLI struct{ rec *recorder }

func (f *fakeCLI) InterfaceSummary(_ context.Context, t netip.Addr) (domain.BackendResult, error) {
	return f.rec.record("cli", "summary", t, "")
}
func (f *fakeCLI) FetchBanner(_ context.Context, t netip.Addr) (domain.BackendResult, error) {
	return f.rec.record("cli", "banner", t, "")
}

type fakePlaybook struct{ rec *recorder }

func (f *fakePlaybook) ArchiveConfig(_ context.Context, t netip.Addr) (domain.BackendResult, error) {
	return f.rec.record("playbook", "archive", t, "")
}
func (f *fakePlaybook) FetchBanner(_ context.Context, t netip.Addr) (domain.BackendResult, error) {
	return f.rec.record("playbook", "banner", t, "")
}
func (f *fakePlaybook) SetBanner(_ context.Context, t netip.Addr, text string) (domain.BackendResult, error) {
	return f.rec.record("playbook", "set_banner", t, text)
}

func newTestDispatcher(rec *recorder) *Dispatcher {
	return NewDispatcher(DispatcherConfig{
		Config: map[domain.Protocol]domain.ConfigBackend{
			domain.ProtocolRESTCONF: &fakeConfig{name: "restconf", rec: rec},
			domain.ProtocolNETCONF:  &fakeConfig{name: "netconf", rec: rec},
		},
		CLI:      &fakeCLI{rec: rec},
		Playbook: &fakePlaybook{rec: rec},
		Logger:   testLogger(),
	})
}

// fakeTransport replays inbox, then cancels the loop via onDrained.
type fakeTransport struct {
	mu        sync.Mutex
	inbox     []domain.RawMessage
	sent      []sentReply
	sendErr   error
	recvErr   error
	onDrained func()
}

type sentReply struct {
	RoomID string
	Resp   domain.ChatResponse
}

func (f *fakeTransport) Name() string               { return "fake" }
func (f *fakeTransport) Open(context.Context) error { return nil }
func (f *fakeTransport) Close() error               { return nil }

func (f *fakeTransport) Receive(ctx context.Context) (domain.RawMessage, error) {
	f.mu.Lock()
	if f.recvErr != nil {
		err := f.recvErr
		f.mu.Unlock()
		return domain.RawMessage{}, err
	}
	if len(f.inbox) > 0 {
		msg := f.inbox[0]
		f.inbox = f.inbox[1:]
		f.mu.Unlock()
		return msg, nil
	}
	drained := f.onDrained
	f.mu.Unlock()

	if drained != nil {
		drained()
	}
	<-ctx.Done()
	return domain.RawMessage{}, ctx.Err()
}

func (f *fakeTransport) Send(_ context.Context, roomID string, resp domain.ChatResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentReply{RoomID: roomID, Resp: resp})
	return nil
}

func (f *fakeTransport) Sent() []sentReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentReply(nil), f.sent...)
}

// failingStore fails every read.
type failingStore struct{}

func (failingStore) LastProtocol(context.Context) (domain.Protocol, error) {
	return domain.ProtocolNone, errors.New("store offline")
}
func (failingStore) SetLastProtocol(context.Context, domain.Protocol) error {
	return errors.New("store offline")
}
func (failingStore) Close() error { return nil }
