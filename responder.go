package firecall

import (
	"context"
	"errors"
	"fmt"

	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/store"
)

// Join answers the session with the given id as responder. ctx bounds the setup only; the offer
// candidate listener keeps running until Hangup.
//
// A missing or malformed id, a missing record and a record without a usable offer all return
// ErrSessionNotFound. A session that was already answered is refused with ErrInvalidState. In
// both cases nothing was written and the call can Join again.
func (c *Call) Join(ctx context.Context, id string) error {
	if err := c.begin("join", RoleResponder); err != nil {
		return err
	}

	record, err := GetRecord(ctx, c.store, c.collection, id)
	if err != nil {
		c.release()
		return err
	}
	if record.Answered {
		c.release()
		return &StateError{Op: "join", Phase: PhaseIdle, Reason: "session " + id + " was already answered"}
	}

	c.mux.Lock()
	c.id = id
	c.mux.Unlock()

	if err := c.transport.SetRemoteDescription(*record.Offer); err != nil {
		c.release()
		return fmt.Errorf("error while applying offer of session %s: %w", id, err)
	}

	c.mux.Lock()
	err = c.advanceLocked("join", PhaseJoinedWithOffer)
	if err == nil {
		c.markRemoteReadyLocked()
	}
	c.unlock()
	if err != nil {
		return err
	}

	if err := c.subscribePeerCandidates(ctx); err != nil {
		return fmt.Errorf("error while subscribing to offer candidates of session %s: %w", id, err)
	}

	answer, err := c.transport.CreateAnswer(ctx)
	if err != nil {
		return fmt.Errorf("error while creating answer: %w", err)
	}
	if err := c.transport.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("error while applying local answer: %w", err)
	}
	if err := c.advance("join", PhaseAnswerCreated); err != nil {
		return err
	}

	paths := sessionPaths{collection: c.collection, id: id}
	if err := c.store.Update(ctx, paths.doc(), store.Fields{FieldAnswer: encodeDescription(answer)}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: session %s disappeared before the answer was written", ErrSessionNotFound, id)
		}
		return fmt.Errorf("error while writing answer of session %s: %w", id, err)
	}
	if err := c.advance("join", PhaseAnswered); err != nil {
		return err
	}
	c.markLocalReady()

	if err := c.subscribeRecord(ctx); err != nil {
		return fmt.Errorf("error while subscribing to session %s: %w", id, err)
	}

	c.logger.Info().Str("session", id).Msg("answer written")
	return nil
}
