package firecall

import (
	"context"
	"errors"
	"fmt"

	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/store"
	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/transport"
)

// Create starts the call as initiator. It writes a new session record holding the offer and
// returns its id, which the responder needs to Join. The answer is picked up asynchronously; watch
// OnPhaseChange or OnConnectionStateChange for progress.
//
// ctx bounds the setup only. The answer and candidate listeners keep running after Create returns
// and until Hangup.
//
// A failure before the record is written leaves the call idle and Create can be tried again. A
// later failure leaves whatever was written in the store; Hangup cleans it up.
func (c *Call) Create(ctx context.Context) (string, error) {
	if err := c.begin("create", RoleInitiator); err != nil {
		return "", err
	}

	id, err := c.store.NewDocumentID(ctx, c.collection)
	if err != nil {
		c.release()
		return "", fmt.Errorf("error while allocating session id: %w", err)
	}

	c.mux.Lock()
	c.id = id
	c.mux.Unlock()

	offer, err := c.transport.CreateOffer(ctx)
	if err != nil {
		c.release()
		return "", fmt.Errorf("error while creating offer: %w", err)
	}
	if err := c.transport.SetLocalDescription(offer); err != nil {
		c.release()
		return "", fmt.Errorf("error while applying local offer: %w", err)
	}
	if err := c.advance("create", PhaseOfferCreated); err != nil {
		return id, err
	}

	paths := sessionPaths{collection: c.collection, id: id}
	if err := c.store.Set(ctx, paths.doc(), store.Fields{
		FieldOffer:     encodeDescription(offer),
		FieldCreatedAt: timestamp(),
	}); err != nil {
		return id, fmt.Errorf("error while writing offer of session %s: %w", id, err)
	}
	if err := c.advance("create", PhaseOffered); err != nil {
		return id, err
	}
	c.markLocalReady()

	if err := c.advance("create", PhaseAwaitingAnswer); err != nil {
		return id, err
	}

	if err := c.subscribePeerCandidates(ctx); err != nil {
		return id, fmt.Errorf("error while subscribing to answer candidates of session %s: %w", id, err)
	}
	if err := c.subscribeRecord(ctx); err != nil {
		return id, fmt.Errorf("error while subscribing to session %s: %w", id, err)
	}

	c.logger.Info().Str("session", id).Msg("offer written, waiting for answer")
	return id, nil
}

// observeAnswerLocked applies the answer the first time a snapshot carries one. A snapshot with a
// malformed answer is reported and skipped; a valid answer may still follow.
func (c *Call) observeAnswerLocked(fields store.Fields) {
	if c.answerApplied || c.phase != PhaseAwaitingAnswer {
		return
	}

	raw, ok := fields[FieldAnswer]
	if !ok || raw == nil {
		return
	}

	answer, err := decodeDescription(raw, transport.SDPTypeAnswer)
	if err != nil {
		c.logger.Warn().Err(err).Str("session", c.id).Msg("ignoring malformed answer")
		c.reportErrorLocked(fmt.Errorf("answer of session %s: %w", c.id, err))
		return
	}

	c.answerApplied = true
	if c.transport.RemoteDescription() != nil {
		return
	}

	if err := c.transport.SetRemoteDescription(answer); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return
		}
		c.logger.Error().Err(err).Str("session", c.id).Msg("failed to apply answer")
		c.reportErrorLocked(fmt.Errorf("error while applying answer of session %s: %w", c.id, err))
		return
	}

	c.logger.Info().Str("session", c.id).Msg("answer applied")
	c.markRemoteReadyLocked()
}
