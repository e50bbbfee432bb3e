package firecall

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/store"
	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/transport"
)

const (
	DefaultCollection = "calls"

	FieldOffer     = "offer"
	FieldAnswer    = "answer"
	FieldType      = "type"
	FieldSDP       = "sdp"
	FieldCreatedAt = "createdAt"

	OfferCandidates  = "offerCandidates"
	AnswerCandidates = "answerCandidates"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidSessionID reports whether id can name a session. Valid ids are safe to embed in a URL.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// Record is the decoded session document of one call. Answered is set whenever the answer field
// is present, even if Answer could not be decoded.
type Record struct {
	ID       string
	Offer    *transport.Description
	Answer   *transport.Description
	Answered bool
}

// GetRecord reads and decodes the session document. A missing document or one without a usable
// offer is ErrSessionNotFound.
func GetRecord(ctx context.Context, s store.Store, collection, id string) (Record, error) {
	if !ValidSessionID(id) {
		return Record{}, fmt.Errorf("%w: malformed session id %q", ErrSessionNotFound, id)
	}

	fields, err := s.Get(ctx, sessionPaths{collection: collection, id: id}.doc())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Record{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return Record{}, err
	}

	return decodeRecord(id, fields)
}

func decodeRecord(id string, fields store.Fields) (Record, error) {
	record := Record{ID: id}

	if raw, ok := fields[FieldOffer]; ok && raw != nil {
		offer, err := decodeDescription(raw, transport.SDPTypeOffer)
		if err != nil {
			return record, fmt.Errorf("%w: offer of session %s: %v", ErrSessionNotFound, id, err)
		}
		record.Offer = &offer
	}
	if record.Offer == nil {
		return record, fmt.Errorf("%w: session %s has no offer", ErrSessionNotFound, id)
	}

	if raw, ok := fields[FieldAnswer]; ok && raw != nil {
		record.Answered = true
		if answer, err := decodeDescription(raw, transport.SDPTypeAnswer); err == nil {
			record.Answer = &answer
		}
	}

	return record, nil
}

func decodeDescription(raw any, want string) (transport.Description, error) {
	fields, ok := raw.(map[string]any)
	if !ok {
		return transport.Description{}, fmt.Errorf("malformed description of type %T", raw)
	}

	sdp, _ := fields[FieldSDP].(string)
	kind, _ := fields[FieldType].(string)
	if sdp == "" {
		return transport.Description{}, errors.New("description has no sdp")
	}
	if kind != want {
		return transport.Description{}, fmt.Errorf("description type %q, want %q", kind, want)
	}

	return transport.Description{Type: kind, SDP: sdp}, nil
}

func encodeDescription(desc transport.Description) map[string]any {
	return map[string]any{
		FieldType: desc.Type,
		FieldSDP:  desc.SDP,
	}
}

type sessionPaths struct {
	collection string
	id         string
}

func (p sessionPaths) doc() string {
	return store.Join(p.collection, p.id)
}

func (p sessionPaths) offerCandidates() string {
	return store.Join(p.collection, p.id, OfferCandidates)
}

func (p sessionPaths) answerCandidates() string {
	return store.Join(p.collection, p.id, AnswerCandidates)
}

// owned is the candidate collection the role writes to; peer is the one it reads.
func (p sessionPaths) owned(role Role) string {
	if role == RoleInitiator {
		return p.offerCandidates()
	}
	return p.answerCandidates()
}

func (p sessionPaths) peer(role Role) string {
	if role == RoleInitiator {
		return p.answerCandidates()
	}
	return p.offerCandidates()
}
