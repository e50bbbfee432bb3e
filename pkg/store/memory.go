package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store. Every subscription gets its own delivery goroutine, so handlers
// run asynchronously and in commit order, like snapshot listeners of a remote store.
type Memory struct {
	docs    map[string]Fields
	order   map[string][]string
	docSubs map[string]map[*subscription]struct{}
	colSubs map[string]map[*subscription]struct{}
	closed  bool
	mux     sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{
		docs:    make(map[string]Fields),
		order:   make(map[string][]string),
		docSubs: make(map[string]map[*subscription]struct{}),
		colSubs: make(map[string]map[*subscription]struct{}),
	}
}

func (m *Memory) NewDocumentID(_ context.Context, collection string) (string, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.closed {
		return "", ErrUnavailable
	}

	for {
		id := newID()
		if _, exists := m.docs[Join(collection, id)]; !exists {
			return id, nil
		}
	}
}

func (m *Memory) Get(_ context.Context, doc string) (Fields, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.closed {
		return nil, ErrUnavailable
	}

	fields, exists := m.docs[doc]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, doc)
	}
	return copyFields(fields), nil
}

func (m *Memory) Set(_ context.Context, doc string, fields Fields) error {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.closed {
		return ErrUnavailable
	}

	m.docs[doc] = copyFields(fields)
	m.publishDocument(doc)
	return nil
}

func (m *Memory) Update(_ context.Context, doc string, fields Fields) error {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.closed {
		return ErrUnavailable
	}

	current, exists := m.docs[doc]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, doc)
	}

	for key, value := range copyFields(fields) {
		current[key] = value
	}
	m.publishDocument(doc)
	return nil
}

// Delete removes a single document. Child collections are left alone, the same as Firestore.
func (m *Memory) Delete(_ context.Context, doc string) error {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.closed {
		return ErrUnavailable
	}

	if _, exists := m.docs[doc]; !exists {
		return nil
	}
	delete(m.docs, doc)

	collection, id := splitDoc(doc)
	if ids, ok := m.order[collection]; ok {
		for i := range ids {
			if ids[i] == id {
				m.order[collection] = append(ids[:i:i], ids[i+1:]...)
				break
			}
		}
	}

	m.publishDocument(doc)
	return nil
}

func (m *Memory) Add(_ context.Context, collection string, fields Fields) (string, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.closed {
		return "", ErrUnavailable
	}

	id := newID()
	m.docs[Join(collection, id)] = copyFields(fields)
	m.order[collection] = append(m.order[collection], id)

	entry := Entry{ID: id, Fields: fields}
	for sub := range m.colSubs[collection] {
		e := Entry{ID: entry.ID, Fields: copyFields(entry.Fields)}
		sub.push(func(h any) { h.(EntryHandler)(e) })
	}
	return id, nil
}

func (m *Memory) List(_ context.Context, collection string) ([]Entry, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.closed {
		return nil, ErrUnavailable
	}

	return m.entries(collection), nil
}

func (m *Memory) SubscribeDocument(ctx context.Context, doc string, handler DocumentHandler) (Unsubscribe, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.closed {
		return nil, ErrUnavailable
	}

	sub := newSubscription(handler)
	if m.docSubs[doc] == nil {
		m.docSubs[doc] = make(map[*subscription]struct{})
	}
	m.docSubs[doc][sub] = struct{}{}

	current := m.snapshot(doc)
	sub.push(func(h any) { h.(DocumentHandler)(current) })

	return m.register(ctx, sub, func() { delete(m.docSubs[doc], sub) }), nil
}

func (m *Memory) SubscribeCollection(ctx context.Context, collection string, handler EntryHandler) (Unsubscribe, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.closed {
		return nil, ErrUnavailable
	}

	sub := newSubscription(handler)
	if m.colSubs[collection] == nil {
		m.colSubs[collection] = make(map[*subscription]struct{})
	}
	m.colSubs[collection][sub] = struct{}{}

	// existing entries are delivered first as additions, the same way a listener's first
	// snapshot reports them.
	for _, entry := range m.entries(collection) {
		e := entry
		sub.push(func(h any) { h.(EntryHandler)(e) })
	}

	return m.register(ctx, sub, func() { delete(m.colSubs[collection], sub) }), nil
}

// Close stops every subscription. Any later call fails with ErrUnavailable.
func (m *Memory) Close() error {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	for _, subs := range m.docSubs {
		for sub := range subs {
			sub.stop()
		}
	}
	for _, subs := range m.colSubs {
		for sub := range subs {
			sub.stop()
		}
	}
	m.docSubs = make(map[string]map[*subscription]struct{})
	m.colSubs = make(map[string]map[*subscription]struct{})
	return nil
}

func (m *Memory) register(ctx context.Context, sub *subscription, remove func()) Unsubscribe {
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			sub.stop()

			m.mux.Lock()
			remove()
			m.mux.Unlock()
		})
	}

	go sub.run()
	context.AfterFunc(ctx, unsubscribe)

	return unsubscribe
}

func (m *Memory) publishDocument(doc string) {
	current := m.snapshot(doc)
	for sub := range m.docSubs[doc] {
		fields := copyFields(current)
		sub.push(func(h any) { h.(DocumentHandler)(fields) })
	}
}

func (m *Memory) snapshot(doc string) Fields {
	fields, exists := m.docs[doc]
	if !exists {
		return nil
	}
	return copyFields(fields)
}

func (m *Memory) entries(collection string) []Entry {
	ids := m.order[collection]
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, Entry{ID: id, Fields: copyFields(m.docs[Join(collection, id)])})
	}
	return entries
}

// +++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++

type subscription struct {
	handler any
	queue   []func(any)
	stopped bool
	mux     sync.Mutex
	cond    *sync.Cond
}

func newSubscription(handler any) *subscription {
	s := &subscription{handler: handler}
	s.cond = sync.NewCond(&s.mux)
	return s
}

func (s *subscription) push(deliver func(any)) {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.stopped {
		return
	}
	s.queue = append(s.queue, deliver)
	s.cond.Signal()
}

func (s *subscription) run() {
	for {
		s.mux.Lock()
		for len(s.queue) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped {
			s.mux.Unlock()
			return
		}
		deliver := s.queue[0]
		s.queue = s.queue[1:]
		s.mux.Unlock()

		deliver(s.handler)
	}
}

func (s *subscription) stop() {
	s.mux.Lock()
	defer s.mux.Unlock()

	s.stopped = true
	s.queue = nil
	s.cond.Broadcast()
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func splitDoc(doc string) (collection, id string) {
	i := strings.LastIndex(doc, "/")
	if i < 0 {
		return "", doc
	}
	return doc[:i], doc[i+1:]
}

func copyFields(fields Fields) Fields {
	if fields == nil {
		return nil
	}
	out := make(Fields, len(fields))
	for key, value := range fields {
		out[key] = copyValue(value)
	}
	return out
}

func copyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return copyFields(v)
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = copyValue(v[i])
		}
		return out
	default:
		return v
	}
}
