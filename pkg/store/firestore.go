package store

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore is a Store backed by Cloud Firestore. Document and collection paths map directly onto
// Firestore paths, so "calls/<id>/offerCandidates" is a sub-collection of the call document.
type Firestore struct {
	app    *firebase.App
	client *firestore.Client
	logger zerolog.Logger
}

// NewFirebaseStore creates a Firestore store through the firebase app, using the given client
// options (see FirebaseConfig.ClientOption).
func NewFirebaseStore(ctx context.Context, logger zerolog.Logger, options ...option.ClientOption) (*Firestore, error) {
	app, err := firebase.NewApp(ctx, nil, options...)
	if err != nil {
		return nil, fmt.Errorf("error while creating firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("error while creating firestore client: %w", err)
	}

	return &Firestore{
		app:    app,
		client: client,
		logger: logger.With().Str("module", "store").Str("backend", "firestore").Logger(),
	}, nil
}

// NewFirestore wraps an existing client; used against the emulator in tests.
func NewFirestore(client *firestore.Client, logger zerolog.Logger) *Firestore {
	return &Firestore{
		client: client,
		logger: logger.With().Str("module", "store").Str("backend", "firestore").Logger(),
	}
}

func (s *Firestore) NewDocumentID(_ context.Context, collection string) (string, error) {
	col := s.client.Collection(collection)
	if col == nil {
		return "", fmt.Errorf("invalid collection path %q", collection)
	}
	return col.NewDoc().ID, nil
}

func (s *Firestore) Get(ctx context.Context, doc string) (Fields, error) {
	ref, err := s.doc(doc)
	if err != nil {
		return nil, err
	}

	snapshot, err := ref.Get(ctx)
	if err != nil {
		return nil, classify(err, doc)
	}
	if !snapshot.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, doc)
	}
	return snapshot.Data(), nil
}

func (s *Firestore) Set(ctx context.Context, doc string, fields Fields) error {
	ref, err := s.doc(doc)
	if err != nil {
		return err
	}

	if _, err := ref.Set(ctx, fields); err != nil {
		return classify(err, doc)
	}
	return nil
}

func (s *Firestore) Update(ctx context.Context, doc string, fields Fields) error {
	ref, err := s.doc(doc)
	if err != nil {
		return err
	}

	updates := make([]firestore.Update, 0, len(fields))
	for key, value := range fields {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{key}, Value: value})
	}

	if _, err := ref.Update(ctx, updates); err != nil {
		return classify(err, doc)
	}
	return nil
}

func (s *Firestore) Delete(ctx context.Context, doc string) error {
	ref, err := s.doc(doc)
	if err != nil {
		return err
	}

	if _, err := ref.Delete(ctx); err != nil {
		return classify(err, doc)
	}
	return nil
}

func (s *Firestore) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	col, err := s.collection(collection)
	if err != nil {
		return "", err
	}

	ref, _, err := col.Add(ctx, fields)
	if err != nil {
		return "", classify(err, collection)
	}
	return ref.ID, nil
}

func (s *Firestore) List(ctx context.Context, collection string) ([]Entry, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	snapshots, err := col.Documents(ctx).GetAll()
	if err != nil {
		return nil, classify(err, collection)
	}

	entries := make([]Entry, 0, len(snapshots))
	for _, snapshot := range snapshots {
		entries = append(entries, Entry{ID: snapshot.Ref.ID, Fields: snapshot.Data()})
	}
	return entries, nil
}

func (s *Firestore) SubscribeDocument(ctx context.Context, doc string, handler DocumentHandler) (Unsubscribe, error) {
	ref, err := s.doc(doc)
	if err != nil {
		return nil, err
	}

	ctx2, cancel2 := context.WithCancel(ctx)
	it := ref.Snapshots(ctx2)

	go func() {
		defer it.Stop()
		for {
			snapshot, err := it.Next()
			if err != nil {
				if !stopped(ctx2, err) {
					s.logger.Error().Err(err).Str("doc", doc).Msg("document listener failed")
				}
				return
			}

			if !snapshot.Exists() {
				handler(nil)
				continue
			}
			handler(snapshot.Data())
		}
	}()

	return Unsubscribe(cancel2), nil
}

func (s *Firestore) SubscribeCollection(ctx context.Context, collection string, handler EntryHandler) (Unsubscribe, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	ctx2, cancel2 := context.WithCancel(ctx)
	it := col.Snapshots(ctx2)

	go func() {
		defer it.Stop()
		for {
			snapshot, err := it.Next()
			if err != nil {
				if !stopped(ctx2, err) {
					s.logger.Error().Err(err).Str("collection", collection).Msg("collection listener failed")
				}
				return
			}

			for _, change := range snapshot.Changes {
				if change.Kind != firestore.DocumentAdded {
					continue
				}
				handler(Entry{ID: change.Doc.Ref.ID, Fields: change.Doc.Data()})
			}
		}
	}()

	return Unsubscribe(cancel2), nil
}

func (s *Firestore) Close() error {
	if err := s.client.Close(); err != nil {
		s.logger.Error().Err(err).Msg("failed to close firestore client")
		return err
	}
	return nil
}

func (s *Firestore) doc(path string) (*firestore.DocumentRef, error) {
	ref := s.client.Doc(path)
	if ref == nil {
		return nil, fmt.Errorf("%w: invalid document path %q", ErrNotFound, path)
	}
	return ref, nil
}

func (s *Firestore) collection(path string) (*firestore.CollectionRef, error) {
	col := s.client.Collection(path)
	if col == nil {
		return nil, fmt.Errorf("invalid collection path %q", path)
	}
	return col, nil
}

func classify(err error, path string) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, path, err)
	default:
		return err
	}
}

func stopped(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled
}
