package store

import (
	"context"
	"errors"
	"path"
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrUnavailable = errors.New("store unavailable")
)

// Fields is the field map of a single document. Values are forwarded as-is.
type Fields = map[string]any

type Entry struct {
	ID     string
	Fields Fields
}

type (
	// DocumentHandler receives the latest state of a document. A nil Fields means the document
	// does not exist (or was deleted).
	DocumentHandler func(Fields)
	// EntryHandler receives every entry added to a collection at least once.
	EntryHandler func(Entry)
	Unsubscribe  func()
)

// Store is the narrow view of a replicated document store used as a signaling relay.
//
// Updates to a single document reach subscribers in commit order, intermediate states may be
// coalesced, and additions to a collection are delivered at least once. Paths are slash
// separated: "calls/<id>" for a document, "calls/<id>/offerCandidates" for a child collection.
type Store interface {
	NewDocumentID(ctx context.Context, collection string) (string, error)
	Get(ctx context.Context, doc string) (Fields, error)
	Set(ctx context.Context, doc string, fields Fields) error
	// Update merges fields into an existing document and fails with ErrNotFound if it is absent.
	Update(ctx context.Context, doc string, fields Fields) error
	Delete(ctx context.Context, doc string) error
	Add(ctx context.Context, collection string, fields Fields) (string, error)
	List(ctx context.Context, collection string) ([]Entry, error)
	SubscribeDocument(ctx context.Context, doc string, handler DocumentHandler) (Unsubscribe, error)
	SubscribeCollection(ctx context.Context, collection string, handler EntryHandler) (Unsubscribe, error)
	Close() error
}

func Join(elem ...string) string {
	return path.Join(elem...)
}
