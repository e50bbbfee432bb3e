package firecall

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/store"
	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/transport"
)

type errorSink struct {
	errs []error
	mux  sync.Mutex
}

func (e *errorSink) add(err error) {
	e.mux.Lock()
	defer e.mux.Unlock()

	e.errs = append(e.errs, err)
}

func (e *errorSink) list() []error {
	e.mux.Lock()
	defer e.mux.Unlock()

	return append([]error(nil), e.errs...)
}

func mustCall(t *testing.T, s store.Store, tr transport.Transport, options ...CallOption) *Call {
	t.Helper()

	c, err := NewCall(s, tr, options...)
	if err != nil {
		t.Fatalf("NewCall: %v", err)
	}
	return c
}

func candidateCount(t *testing.T, s store.Store, collection string) int {
	t.Helper()

	entries, err := s.List(context.Background(), collection)
	if err != nil {
		t.Fatalf("List(%s): %v", collection, err)
	}
	return len(entries)
}

func TestCall_CreateAndJoin(t *testing.T) {
	ctx := context.Background()
	s := newFlakyStore(store.NewMemory())
	s.redeliver = true
	errs := &errorSink{}

	initT := newFakeTransport("initiator")
	initiator := mustCall(t, s, initT, OnError(errs.add))

	id, err := initiator.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !ValidSessionID(id) {
		t.Fatalf("Create returned unusable id %q", id)
	}
	paths := sessionPaths{collection: DefaultCollection, id: id}

	record, err := GetRecord(ctx, s, DefaultCollection, id)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if record.Offer == nil || record.Answer != nil {
		t.Fatalf("after create want offer only, got offer=%v answer=%v", record.Offer, record.Answer)
	}
	if n := candidateCount(t, s, paths.offerCandidates()) + candidateCount(t, s, paths.answerCandidates()); n != 0 {
		t.Fatalf("candidate collections hold %d entries before any candidate", n)
	}
	offer := *record.Offer

	hungUp := make(chan struct{}, 1)
	respT := newFakeTransport("responder")
	responder := mustCall(t, s, respT, OnError(errs.add), OnPeerHangup(func() { hungUp <- struct{}{} }))

	if err := responder.Join(ctx, id); err != nil {
		t.Fatalf("Join: %v", err)
	}

	record, err = GetRecord(ctx, s, DefaultCollection, id)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if record.Offer == nil || *record.Offer != offer {
		t.Fatalf("offer changed by join: %v", record.Offer)
	}
	if record.Answer == nil || record.Answer.Type != transport.SDPTypeAnswer {
		t.Fatalf("answer not written: %v", record.Answer)
	}

	eventually(t, "initiator to apply the answer", func() bool { return initT.RemoteDescription() != nil })

	initT.emit("candidate:1 1 udp 2130706431 10.0.0.1 50000 typ host")
	initT.emit("candidate:2 1 udp 1694498815 203.0.113.1 50001 typ srflx")
	respT.emit("candidate:3 1 udp 2130706431 10.0.0.2 50002 typ host")

	eventually(t, "responder to apply both offer candidates", func() bool { return len(respT.appliedCandidates()) == 2 })
	eventually(t, "initiator to apply the answer candidate", func() bool { return len(initT.appliedCandidates()) == 1 })

	time.Sleep(50 * time.Millisecond)
	if n := initT.count("SetRemoteDescription:answer"); n != 1 {
		t.Fatalf("answer applied %d times, want 1", n)
	}
	if n := s.writes(s.sets, paths.doc()); n != 1 {
		t.Fatalf("record set %d times, want 1", n)
	}
	if n := s.writes(s.updates, paths.doc()); n != 1 {
		t.Fatalf("record updated %d times, want 1", n)
	}
	if got := errs.list(); len(got) != 0 {
		t.Fatalf("unexpected async errors: %v", got)
	}

	if err := initiator.Hangup(ctx); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	if _, err := s.Get(ctx, paths.doc()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("record still present after hangup: %v", err)
	}
	if n := candidateCount(t, s, paths.offerCandidates()) + candidateCount(t, s, paths.answerCandidates()); n != 0 {
		t.Fatalf("%d candidates left after hangup", n)
	}
	if !initT.isClosed() {
		t.Fatalf("initiator transport left open")
	}

	select {
	case <-hungUp:
	case <-time.After(wait):
		t.Fatalf("responder never saw the peer hang up")
	}

	late := mustCall(t, s, newFakeTransport("late"))
	if err := late.Join(ctx, id); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Join after hangup err=%v, want ErrSessionNotFound", err)
	}

	if err := responder.Hangup(ctx); err != nil {
		t.Fatalf("responder Hangup: %v", err)
	}
	if !respT.isClosed() {
		t.Fatalf("responder transport left open")
	}
}

func TestCall_ResponderAppliesOfferBeforeAnswering(t *testing.T) {
	ctx := context.Background()
	s := newFlakyStore(store.NewMemory())

	initiator := mustCall(t, s, newFakeTransport("initiator"))
	id, err := initiator.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	respT := newFakeTransport("responder")
	if err := mustCall(t, s, respT).Join(ctx, id); err != nil {
		t.Fatalf("Join: %v", err)
	}

	want := []string{"SetRemoteDescription:offer", "CreateAnswer", "SetLocalDescription:answer"}
	if got := respT.callLog(); !reflect.DeepEqual(got, want) {
		t.Fatalf("responder calls = %v, want %v", got, want)
	}
	if n := s.writes(s.updates, sessionPaths{collection: DefaultCollection, id: id}.doc()); n != 1 {
		t.Fatalf("answer written %d times, want 1", n)
	}
}

func TestCall_SecondOfferIsRefused(t *testing.T) {
	ctx := context.Background()
	s := newFlakyStore(store.NewMemory())
	tr := newFakeTransport("initiator")

	c := mustCall(t, s, tr)
	id, err := c.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := c.Create(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second Create err=%v, want ErrInvalidState", err)
	}
	var stateErr *StateError
	if _, err := c.Create(ctx); !errors.As(err, &stateErr) || stateErr.Op != "create" {
		t.Fatalf("second Create err=%v, want *StateError for create", err)
	}

	// a fresh call cannot reuse the transport either
	again := mustCall(t, s, tr)
	if _, err := again.Create(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Create on used transport err=%v, want ErrInvalidState", err)
	}
	if again.Role() != RoleNone || again.Phase() != PhaseIdle {
		t.Fatalf("failed create left role=%s phase=%s", again.Role(), again.Phase())
	}

	if n := s.writes(s.sets, sessionPaths{collection: DefaultCollection, id: id}.doc()); n != 1 {
		t.Fatalf("offer written %d times, want 1", n)
	}
	if n := tr.count("CreateOffer"); n != 2 {
		t.Fatalf("transport saw %d offers, want 2", n)
	}
}

func TestCall_LocalCandidatesWaitForOffer(t *testing.T) {
	ctx := context.Background()
	s := newFlakyStore(store.NewMemory())
	tr := newFakeTransport("initiator")
	c := mustCall(t, s, tr)

	// gathered before the offer is even created
	tr.emit("candidate:early 1 udp 1 10.0.0.1 5000 typ host")

	id, err := c.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	paths := sessionPaths{collection: DefaultCollection, id: id}

	tr.emit("candidate:late 1 udp 1 10.0.0.1 5001 typ host")
	eventually(t, "both candidates in the store", func() bool { return candidateCount(t, s, paths.offerCandidates()) == 2 })

	ops := s.ops()
	first := -1
	for i, op := range ops {
		if op == "add:"+paths.offerCandidates() {
			first = i
			break
		}
	}
	if first < 0 || !contains(ops[:first], "set:"+paths.doc()) {
		t.Fatalf("candidate written before the offer: %s", joined(ops))
	}
}

func TestCall_RemoteCandidatesWaitForAnswer(t *testing.T) {
	ctx := context.Background()
	s := newFlakyStore(store.NewMemory())
	errs := &errorSink{}
	tr := newFakeTransport("initiator")
	c := mustCall(t, s, tr, OnError(errs.add))

	id, err := c.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	paths := sessionPaths{collection: DefaultCollection, id: id}

	// the responder streams candidates ahead of its answer becoming visible, one of them twice
	for _, candidate := range []string{"candidate:a", "candidate:b", "candidate:a"} {
		if _, err := s.Add(ctx, paths.answerCandidates(), store.Fields{"candidate": candidate, "sdpMid": "0"}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	time.Sleep(50 * time.Millisecond)
	if got := tr.appliedCandidates(); len(got) != 0 {
		t.Fatalf("candidates applied before the answer: %v", got)
	}

	answer := transport.Description{Type: transport.SDPTypeAnswer, SDP: "v=0 answer"}
	if err := s.Update(ctx, paths.doc(), store.Fields{FieldAnswer: encodeDescription(answer)}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	eventually(t, "buffered candidates to drain", func() bool { return len(tr.appliedCandidates()) == 2 })
	if got := tr.appliedCandidates(); got[0] != "candidate:a" || got[1] != "candidate:b" {
		t.Fatalf("candidates applied out of order: %v", got)
	}

	time.Sleep(50 * time.Millisecond)
	if got := errs.list(); len(got) != 0 {
		t.Fatalf("duplicate candidate surfaced as error: %v", got)
	}
}

func TestCall_AnswerAppliedOnce(t *testing.T) {
	ctx := context.Background()
	s := newFlakyStore(store.NewMemory())
	s.redeliver = true
	tr := newFakeTransport("initiator")
	errs := &errorSink{}
	c := mustCall(t, s, tr, OnError(errs.add))

	id, err := c.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	doc := sessionPaths{collection: DefaultCollection, id: id}.doc()

	for _, sdp := range []string{"v=0 first", "v=0 second"} {
		answer := transport.Description{Type: transport.SDPTypeAnswer, SDP: sdp}
		if err := s.Update(ctx, doc, store.Fields{FieldAnswer: encodeDescription(answer)}); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	eventually(t, "answer applied", func() bool { return tr.RemoteDescription() != nil })
	time.Sleep(50 * time.Millisecond)

	if n := tr.count("SetRemoteDescription:answer"); n != 1 {
		t.Fatalf("answer applied %d times, want 1", n)
	}
	if got := errs.list(); len(got) != 0 {
		t.Fatalf("unexpected async errors: %v", got)
	}
}

func TestCall_MalformedAnswerIsReported(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	tr := newFakeTransport("initiator")
	errs := &errorSink{}
	c := mustCall(t, s, tr, OnError(errs.add))

	id, err := c.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	doc := sessionPaths{collection: DefaultCollection, id: id}.doc()

	if err := s.Update(ctx, doc, store.Fields{FieldAnswer: map[string]any{FieldType: transport.SDPTypeAnswer}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	eventually(t, "malformed answer reported", func() bool { return len(errs.list()) == 1 })
	if tr.RemoteDescription() != nil {
		t.Fatalf("malformed answer was applied")
	}

	answer := transport.Description{Type: transport.SDPTypeAnswer, SDP: "v=0 answer"}
	if err := s.Update(ctx, doc, store.Fields{FieldAnswer: encodeDescription(answer)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	eventually(t, "valid answer applied", func() bool { return tr.RemoteDescription() != nil })
}

func TestCall_JoinRefusals(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	offer := encodeDescription(transport.Description{Type: transport.SDPTypeOffer, SDP: "v=0 offer"})
	answer := encodeDescription(transport.Description{Type: transport.SDPTypeAnswer, SDP: "v=0 answer"})

	_ = s.Set(ctx, store.Join(DefaultCollection, "no-offer"), store.Fields{FieldCreatedAt: time.Now()})
	_ = s.Set(ctx, store.Join(DefaultCollection, "bad-offer"), store.Fields{FieldOffer: "v=0"})
	_ = s.Set(ctx, store.Join(DefaultCollection, "answered"), store.Fields{FieldOffer: offer, FieldAnswer: answer})
	_ = s.Set(ctx, store.Join(DefaultCollection, "open"), store.Fields{FieldOffer: offer})

	tests := []struct {
		name string
		id   string
		want error
	}{
		{name: "malformed id", id: "calls/../x", want: ErrSessionNotFound},
		{name: "empty id", id: "", want: ErrSessionNotFound},
		{name: "missing record", id: "missing", want: ErrSessionNotFound},
		{name: "no offer", id: "no-offer", want: ErrSessionNotFound},
		{name: "malformed offer", id: "bad-offer", want: ErrSessionNotFound},
		{name: "already answered", id: "answered", want: ErrInvalidState},
	}

	tr := newFakeTransport("responder")
	c := mustCall(t, s, tr)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Join(ctx, tt.id); !errors.Is(err, tt.want) {
				t.Fatalf("Join(%q) err=%v, want %v", tt.id, err, tt.want)
			}
			if c.Role() != RoleNone || c.Phase() != PhaseIdle {
				t.Fatalf("refused join left role=%s phase=%s", c.Role(), c.Phase())
			}
		})
	}

	if got := tr.callLog(); len(got) != 0 {
		t.Fatalf("refused joins touched the transport: %v", got)
	}

	// the same call can still join a usable session
	if err := c.Join(ctx, "open"); err != nil {
		t.Fatalf("Join(open): %v", err)
	}
	if c.Phase() != PhaseAnswered || c.SessionID() != "open" {
		t.Fatalf("after join phase=%s id=%q", c.Phase(), c.SessionID())
	}
}

func TestCall_NothingHappensAfterHangup(t *testing.T) {
	ctx := context.Background()
	s := newFlakyStore(store.NewMemory())
	tr := newFakeTransport("initiator")
	tracks := 0
	c := mustCall(t, s, tr, OnRemoteTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver) { tracks++ }))

	id, err := c.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	paths := sessionPaths{collection: DefaultCollection, id: id}

	if err := c.Hangup(ctx); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	adds := s.totalAdds()

	tr.emit("candidate:after 1 udp 1 10.0.0.1 5000 typ host")
	tr.setState(transport.StateConnected)
	tr.track()
	_, _ = s.Add(ctx, paths.answerCandidates(), store.Fields{"candidate": "candidate:remote"})

	time.Sleep(50 * time.Millisecond)

	if n := s.totalAdds(); n != adds+1 {
		t.Fatalf("local candidate written after hangup: %d adds, want %d", n, adds+1)
	}
	if c.Phase() != PhaseClosed {
		t.Fatalf("phase=%s after hangup, want closed", c.Phase())
	}
	if tracks != 0 {
		t.Fatalf("remote track delivered after hangup")
	}
	if got := tr.appliedCandidates(); len(got) != 0 {
		t.Fatalf("remote candidates applied after hangup: %v", got)
	}
}

func TestCall_HangupIsRepeatable(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	tr := newFakeTransport("initiator")
	c := mustCall(t, s, tr)

	if _, err := c.Create(ctx); err != nil {
		t.Fatalf("Create: %v", err)
	}
	tr.emit("candidate:1 1 udp 1 10.0.0.1 5000 typ host")

	for i := 0; i < 2; i++ {
		if err := c.Hangup(ctx); err != nil {
			t.Fatalf("Hangup #%d: %v", i+1, err)
		}
	}
	if !tr.isClosed() {
		t.Fatalf("transport left open")
	}
	if _, err := c.Create(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Create after hangup err=%v, want ErrInvalidState", err)
	}
}

func TestCall_HangupBeforeNegotiation(t *testing.T) {
	tr := newFakeTransport("idle")
	c := mustCall(t, store.NewMemory(), tr)

	if err := c.Hangup(context.Background()); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	if !tr.isClosed() || c.Phase() != PhaseClosed {
		t.Fatalf("idle hangup: closed=%v phase=%s", tr.isClosed(), c.Phase())
	}
}

func TestCall_PhasesAndConnectivity(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	phases := &phaseRecorder{}
	states := make(chan transport.ConnectionState, 4)
	initT := newFakeTransport("initiator")
	initiator := mustCall(t, s, initT,
		OnPhaseChange(phases.record),
		OnConnectionStateChange(func(state transport.ConnectionState) { states <- state }),
	)

	id, err := initiator.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	want := []Phase{PhaseOfferCreated, PhaseOffered, PhaseAwaitingAnswer}
	if got := phases.list(); !reflect.DeepEqual(got, want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}

	// connectivity reported before the responder returns from Join
	respT := newFakeTransport("responder")
	respT.state = transport.StateConnected
	responder := mustCall(t, s, respT)
	if err := responder.Join(ctx, id); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if responder.Phase() != PhaseConnected {
		t.Fatalf("responder phase=%s, want connected", responder.Phase())
	}

	eventually(t, "answer applied", func() bool { return initT.RemoteDescription() != nil })
	initT.setState(transport.StateConnected)

	if initiator.Phase() != PhaseConnected {
		t.Fatalf("initiator phase=%s, want connected", initiator.Phase())
	}
	select {
	case state := <-states:
		if state != transport.StateConnected {
			t.Fatalf("state hook got %s", state)
		}
	case <-time.After(wait):
		t.Fatalf("state hook never fired")
	}
	if initiator.ConnectionState() != transport.StateConnected {
		t.Fatalf("ConnectionState=%s", initiator.ConnectionState())
	}
}

func TestCall_StoreUnavailable(t *testing.T) {
	s := store.NewMemory()
	_ = s.Close()

	c := mustCall(t, s, newFakeTransport("initiator"))
	if _, err := c.Create(context.Background()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Create err=%v, want ErrStoreUnavailable", err)
	}
	if c.Role() != RoleNone {
		t.Fatalf("role=%s after failed create", c.Role())
	}
}

func TestNewCall_Validation(t *testing.T) {
	if _, err := NewCall(nil, newFakeTransport("x")); err == nil {
		t.Fatalf("NewCall without store succeeded")
	}
	if _, err := NewCall(store.NewMemory(), newFakeTransport("x"), WithCollection("")); err == nil {
		t.Fatalf("empty collection accepted")
	}

	s := store.NewMemory()
	c := mustCall(t, s, newFakeTransport("x"), WithCollection("rooms"))
	id, err := c.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := GetRecord(context.Background(), s, "rooms", id); err != nil {
		t.Fatalf("record not under custom collection: %v", err)
	}
}

func TestCall_ListenersOutliveSetupContext(t *testing.T) {
	s := store.NewMemory()
	errs := &errorSink{}

	initT := newFakeTransport("initiator")
	initiator := mustCall(t, s, initT, OnError(errs.add))

	createCtx, cancelCreate := context.WithTimeout(context.Background(), time.Second)
	id, err := initiator.Create(createCtx)
	cancelCreate()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	hungUp := make(chan struct{}, 1)
	respT := newFakeTransport("responder")
	responder := mustCall(t, s, respT, OnError(errs.add), OnPeerHangup(func() { hungUp <- struct{}{} }))

	time.Sleep(50 * time.Millisecond)
	if initiator.Phase() != PhaseAwaitingAnswer {
		t.Fatalf("initiator phase=%s after its create context ended, want %s", initiator.Phase(), PhaseAwaitingAnswer)
	}

	joinCtx, cancelJoin := context.WithTimeout(context.Background(), time.Second)
	err = responder.Join(joinCtx, id)
	cancelJoin()
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	eventually(t, "initiator to apply the answer", func() bool { return initT.RemoteDescription() != nil })
	if initiator.Phase() != PhaseAwaitingAnswer {
		t.Fatalf("initiator phase=%s before hangup, want %s", initiator.Phase(), PhaseAwaitingAnswer)
	}

	initT.emit("candidate:1 1 udp 2130706431 10.0.0.1 50000 typ host")
	respT.emit("candidate:2 1 udp 2130706431 10.0.0.2 50002 typ host")
	eventually(t, "responder to apply the offer candidate", func() bool { return len(respT.appliedCandidates()) == 1 })
	eventually(t, "initiator to apply the answer candidate", func() bool { return len(initT.appliedCandidates()) == 1 })

	if err := initiator.Hangup(context.Background()); err != nil {
		t.Fatalf("initiator Hangup: %v", err)
	}
	if initiator.Phase() != PhaseClosed {
		t.Fatalf("initiator phase=%s after hangup", initiator.Phase())
	}

	select {
	case <-hungUp:
	case <-time.After(wait):
		t.Fatal("responder did not see the record go away")
	}
	if err := responder.Hangup(context.Background()); err != nil {
		t.Fatalf("responder Hangup: %v", err)
	}
	if got := errs.list(); len(got) != 0 {
		t.Fatalf("unexpected errors: %v", got)
	}
}
