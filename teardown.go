package firecall

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/store"
	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/transport"
)

// Teardown removes every signaling artifact of a session and releases the local transport.
// It is best-effort: each step is attempted even if an earlier one failed.
type Teardown struct {
	store      store.Store
	collection string
	logger     zerolog.Logger
}

func NewTeardown(s store.Store, collection string, logger zerolog.Logger) *Teardown {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Teardown{
		store:      s,
		collection: collection,
		logger:     logger.With().Str("module", "teardown").Logger(),
	}
}

// Run cancels the subscriptions, deletes both candidate collections and then the session record,
// and finally closes t. An empty sessionID skips the store; a nil t skips the close. Missing
// documents count as deleted, so Run can be repeated.
func (td *Teardown) Run(ctx context.Context, sessionID string, t transport.Transport, unsubscribes ...store.Unsubscribe) error {
	for _, unsubscribe := range unsubscribes {
		if unsubscribe != nil {
			unsubscribe()
		}
	}

	var merr error

	if sessionID != "" {
		merr = multierr.Append(merr, td.deleteSession(ctx, sessionID))
	}

	if t != nil {
		if err := t.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
			merr = multierr.Append(merr, fmt.Errorf("close transport: %w", err))
		}
	}

	if merr != nil {
		td.logger.Warn().Err(merr).Str("session", sessionID).Msg("teardown finished with errors")
		return &TeardownError{SessionID: sessionID, Errs: multierr.Errors(merr)}
	}

	td.logger.Info().Str("session", sessionID).Msg("teardown complete")
	return nil
}

func (td *Teardown) deleteSession(ctx context.Context, sessionID string) error {
	if !ValidSessionID(sessionID) {
		return fmt.Errorf("%w: malformed session id %q", ErrSessionNotFound, sessionID)
	}

	paths := sessionPaths{collection: td.collection, id: sessionID}

	var merr error
	for _, collection := range []string{paths.offerCandidates(), paths.answerCandidates()} {
		merr = multierr.Append(merr, td.deleteCollection(ctx, collection))
	}

	if err := td.store.Delete(ctx, paths.doc()); err != nil && !errors.Is(err, store.ErrNotFound) {
		merr = multierr.Append(merr, fmt.Errorf("delete record %s: %w", paths.doc(), err))
	}

	return merr
}

func (td *Teardown) deleteCollection(ctx context.Context, collection string) error {
	entries, err := td.store.List(ctx, collection)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("list %s: %w", collection, err)
	}

	var merr error
	for _, entry := range entries {
		doc := store.Join(collection, entry.ID)
		if err := td.store.Delete(ctx, doc); err != nil && !errors.Is(err, store.ErrNotFound) {
			merr = multierr.Append(merr, fmt.Errorf("delete candidate %s: %w", doc, err))
		}
	}

	td.logger.Debug().Str("collection", collection).Int("entries", len(entries)).Msg("candidates deleted")
	return merr
}
