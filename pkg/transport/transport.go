// Package transport is the peer-connection capability the call protocol drives: it creates and
// applies session descriptions, takes remote candidates and surfaces local ones, and reports
// connectivity. PeerConnection implements it on top of pion/webrtc.
package transport

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrInvalidState is returned when a negotiation step is issued out of order or twice, such as a
	// second offer on the same instance or a second remote description.
	ErrInvalidState = errors.New("transport: invalid state")
	// ErrDuplicateCandidate is returned when a remote candidate was already applied. It is benign.
	ErrDuplicateCandidate = errors.New("transport: duplicate or stale candidate")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("transport: closed")
)

const (
	SDPTypeOffer  = "offer"
	SDPTypeAnswer = "answer"
)

// Description is a session description as exchanged through the store.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is the JSON form of an ICE candidate ("candidate", "sdpMid", "sdpMLineIndex",
// "usernameFragment"). The call protocol forwards it without looking inside.
type Candidate map[string]any

type ConnectionState int

const (
	StateNew ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type (
	LocalCandidateHandler func(Candidate)
	RemoteTrackHandler    func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	StateHandler          func(ConnectionState)
)

// Transport negotiates at most one session in its lifetime.
//
// AddRemoteCandidate is idempotent: re-applying a candidate returns ErrDuplicateCandidate and
// leaves the transport untouched, and applying after Close returns ErrClosed. Both are non-fatal.
type Transport interface {
	CreateOffer(ctx context.Context) (Description, error)
	CreateAnswer(ctx context.Context) (Description, error)
	SetLocalDescription(desc Description) error
	SetRemoteDescription(desc Description) error
	LocalDescription() *Description
	RemoteDescription() *Description
	AddRemoteCandidate(candidate Candidate) error

	OnLocalCandidate(handler LocalCandidateHandler)
	OnRemoteTrack(handler RemoteTrackHandler)
	OnConnectionStateChange(handler StateHandler)
	ConnectionState() ConnectionState

	Close() error
}
