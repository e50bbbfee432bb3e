package firecall

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/store"
	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/transport"
)

const wait = 3 * time.Second

// fakeTransport behaves like the pion transport at the interface level: descriptions are single
// shot, candidates need a remote description and are deduplicated, and everything fails once
// closed. It records every negotiation call in order.
type fakeTransport struct {
	name    string
	calls   []string
	local   *transport.Description
	remote  *transport.Description
	offered bool
	applied []transport.Candidate
	keys    map[string]struct{}
	closed  bool
	closes  int
	state   transport.ConnectionState

	afterClose int

	failCreateOffer error
	failSetRemote   error

	onCandidate transport.LocalCandidateHandler
	onState     transport.StateHandler
	onTrack     transport.RemoteTrackHandler

	mux sync.Mutex
}

func newFakeTransport(name string) *fakeTransport {
	return &fakeTransport{name: name, keys: make(map[string]struct{})}
}

func (f *fakeTransport) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeTransport) CreateOffer(ctx context.Context) (transport.Description, error) {
	f.mux.Lock()
	defer f.mux.Unlock()

	f.record("CreateOffer")
	if f.closed {
		return transport.Description{}, transport.ErrClosed
	}
	if f.failCreateOffer != nil {
		return transport.Description{}, f.failCreateOffer
	}
	if f.offered || f.remote != nil {
		return transport.Description{}, transport.ErrInvalidState
	}
	f.offered = true
	return transport.Description{Type: transport.SDPTypeOffer, SDP: "v=0 offer from " + f.name}, nil
}

func (f *fakeTransport) CreateAnswer(ctx context.Context) (transport.Description, error) {
	f.mux.Lock()
	defer f.mux.Unlock()

	f.record("CreateAnswer")
	if f.closed {
		return transport.Description{}, transport.ErrClosed
	}
	if f.remote == nil || f.remote.Type != transport.SDPTypeOffer || f.local != nil {
		return transport.Description{}, transport.ErrInvalidState
	}
	return transport.Description{Type: transport.SDPTypeAnswer, SDP: "v=0 answer from " + f.name}, nil
}

func (f *fakeTransport) SetLocalDescription(desc transport.Description) error {
	f.mux.Lock()
	defer f.mux.Unlock()

	f.record("SetLocalDescription:" + desc.Type)
	if f.closed {
		return transport.ErrClosed
	}
	if f.local != nil {
		return transport.ErrInvalidState
	}
	f.local = &desc
	return nil
}

func (f *fakeTransport) SetRemoteDescription(desc transport.Description) error {
	f.mux.Lock()
	defer f.mux.Unlock()

	f.record("SetRemoteDescription:" + desc.Type)
	if f.closed {
		return transport.ErrClosed
	}
	if f.failSetRemote != nil {
		return f.failSetRemote
	}
	if f.remote != nil {
		return transport.ErrInvalidState
	}
	f.remote = &desc
	return nil
}

func (f *fakeTransport) LocalDescription() *transport.Description {
	f.mux.Lock()
	defer f.mux.Unlock()

	return f.local
}

func (f *fakeTransport) RemoteDescription() *transport.Description {
	f.mux.Lock()
	defer f.mux.Unlock()

	return f.remote
}

func (f *fakeTransport) AddRemoteCandidate(candidate transport.Candidate) error {
	f.mux.Lock()
	defer f.mux.Unlock()

	if f.closed {
		f.afterClose++
		return transport.ErrClosed
	}
	if f.remote == nil {
		return fmt.Errorf("%s: candidate before remote description", f.name)
	}

	key := fmt.Sprint(candidate["candidate"])
	if _, exists := f.keys[key]; exists {
		return transport.ErrDuplicateCandidate
	}
	f.keys[key] = struct{}{}
	f.applied = append(f.applied, candidate)
	return nil
}

func (f *fakeTransport) OnLocalCandidate(handler transport.LocalCandidateHandler) {
	f.mux.Lock()
	defer f.mux.Unlock()

	f.onCandidate = handler
}

func (f *fakeTransport) OnRemoteTrack(handler transport.RemoteTrackHandler) {
	f.mux.Lock()
	defer f.mux.Unlock()

	f.onTrack = handler
}

func (f *fakeTransport) OnConnectionStateChange(handler transport.StateHandler) {
	f.mux.Lock()
	defer f.mux.Unlock()

	f.onState = handler
}

func (f *fakeTransport) ConnectionState() transport.ConnectionState {
	f.mux.Lock()
	defer f.mux.Unlock()

	return f.state
}

func (f *fakeTransport) Close() error {
	f.mux.Lock()
	defer f.mux.Unlock()

	f.closes++
	if f.closed {
		return transport.ErrClosed
	}
	f.closed = true
	f.state = transport.StateClosed
	return nil
}

// emit hands a local candidate to the call, the way the ICE agent does from its own goroutine.
func (f *fakeTransport) emit(candidate string) {
	f.mux.Lock()
	handler := f.onCandidate
	f.mux.Unlock()

	if handler != nil {
		handler(transport.Candidate{"candidate": candidate, "sdpMid": "0", "sdpMLineIndex": float64(0)})
	}
}

func (f *fakeTransport) setState(state transport.ConnectionState) {
	f.mux.Lock()
	f.state = state
	handler := f.onState
	f.mux.Unlock()

	if handler != nil {
		handler(state)
	}
}

func (f *fakeTransport) track() {
	f.mux.Lock()
	handler := f.onTrack
	f.mux.Unlock()

	if handler != nil {
		handler((*webrtc.TrackRemote)(nil), (*webrtc.RTPReceiver)(nil))
	}
}

func (f *fakeTransport) callLog() []string {
	f.mux.Lock()
	defer f.mux.Unlock()

	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) count(call string) int {
	n := 0
	for _, c := range f.callLog() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeTransport) appliedCandidates() []string {
	f.mux.Lock()
	defer f.mux.Unlock()

	out := make([]string, 0, len(f.applied))
	for _, c := range f.applied {
		out = append(out, fmt.Sprint(c["candidate"]))
	}
	return out
}

func (f *fakeTransport) isClosed() bool {
	f.mux.Lock()
	defer f.mux.Unlock()

	return f.closed
}

// flakyStore wraps a store to misbehave in the ways a replicated store is allowed to: it
// redelivers every snapshot and entry, and it can fail deletes. It counts writes per path.
type flakyStore struct {
	store.Store

	redeliver  bool
	failDelete func(doc string) error

	sets    map[string]int
	updates map[string]int
	adds    map[string]int
	log     []string
	mux     sync.Mutex
}

func newFlakyStore(inner store.Store) *flakyStore {
	return &flakyStore{
		Store:   inner,
		sets:    make(map[string]int),
		updates: make(map[string]int),
		adds:    make(map[string]int),
	}
}

func (s *flakyStore) Set(ctx context.Context, doc string, fields store.Fields) error {
	s.mux.Lock()
	s.sets[doc]++
	s.log = append(s.log, "set:"+doc)
	s.mux.Unlock()

	return s.Store.Set(ctx, doc, fields)
}

func (s *flakyStore) Update(ctx context.Context, doc string, fields store.Fields) error {
	s.mux.Lock()
	s.updates[doc]++
	s.log = append(s.log, "update:"+doc)
	s.mux.Unlock()

	return s.Store.Update(ctx, doc, fields)
}

func (s *flakyStore) Add(ctx context.Context, collection string, fields store.Fields) (string, error) {
	s.mux.Lock()
	s.adds[collection]++
	s.log = append(s.log, "add:"+collection)
	s.mux.Unlock()

	return s.Store.Add(ctx, collection, fields)
}

func (s *flakyStore) Delete(ctx context.Context, doc string) error {
	s.mux.Lock()
	fail := s.failDelete
	s.mux.Unlock()

	if fail != nil {
		if err := fail(doc); err != nil {
			return err
		}
	}
	return s.Store.Delete(ctx, doc)
}

func (s *flakyStore) SubscribeDocument(ctx context.Context, doc string, handler store.DocumentHandler) (store.Unsubscribe, error) {
	if !s.redeliver {
		return s.Store.SubscribeDocument(ctx, doc, handler)
	}
	return s.Store.SubscribeDocument(ctx, doc, func(fields store.Fields) {
		handler(fields)
		handler(fields)
	})
}

func (s *flakyStore) SubscribeCollection(ctx context.Context, collection string, handler store.EntryHandler) (store.Unsubscribe, error) {
	if !s.redeliver {
		return s.Store.SubscribeCollection(ctx, collection, handler)
	}
	return s.Store.SubscribeCollection(ctx, collection, func(entry store.Entry) {
		handler(entry)
		handler(entry)
	})
}

func (s *flakyStore) writes(counts map[string]int, path string) int {
	s.mux.Lock()
	defer s.mux.Unlock()

	return counts[path]
}

func (s *flakyStore) ops() []string {
	s.mux.Lock()
	defer s.mux.Unlock()

	return append([]string(nil), s.log...)
}

func (s *flakyStore) totalAdds() int {
	s.mux.Lock()
	defer s.mux.Unlock()

	n := 0
	for _, c := range s.adds {
		n += c
	}
	return n
}

// phaseRecorder collects OnPhaseChange notifications.
type phaseRecorder struct {
	phases []Phase
	mux    sync.Mutex
}

func (r *phaseRecorder) record(p Phase) {
	r.mux.Lock()
	defer r.mux.Unlock()

	r.phases = append(r.phases, p)
}

func (r *phaseRecorder) list() []Phase {
	r.mux.Lock()
	defer r.mux.Unlock()

	return append([]Phase(nil), r.phases...)
}

func eventually(t *testing.T, what string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}

func joined(list []string) string {
	return strings.Join(list, ",")
}
