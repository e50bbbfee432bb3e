package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// PeerConnection is the pion implementation of Transport.
type PeerConnection struct {
	label          string
	peerConnection *webrtc.PeerConnection
	logger         zerolog.Logger

	offerCreated  bool
	answerCreated bool
	remoteSet     bool
	closed        bool
	applied       map[string]struct{}

	onLocalCandidate LocalCandidateHandler
	onRemoteTrack    RemoteTrackHandler
	onStateChange    StateHandler

	once sync.Once
	mux  sync.RWMutex
}

func CreatePeerConnection(label string, api *webrtc.API, config webrtc.Configuration, logger zerolog.Logger) (*PeerConnection, error) {
	peerConnection, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}

	pc := &PeerConnection{
		label:          label,
		peerConnection: peerConnection,
		logger:         logger.With().Str("module", "transport").Str("pc", label).Logger(),
		applied:        make(map[string]struct{}),
	}

	return pc.onConnectionStateChangeEvent().onICEConnectionStateChange().onICECandidate().onTrack(), nil
}

func (pc *PeerConnection) GetPeerConnection() *webrtc.PeerConnection {
	return pc.peerConnection
}

func (pc *PeerConnection) CreateOffer(ctx context.Context) (Description, error) {
	if err := ctx.Err(); err != nil {
		return Description{}, err
	}

	pc.mux.Lock()
	defer pc.mux.Unlock()

	if pc.closed {
		return Description{}, ErrClosed
	}
	if pc.offerCreated || pc.answerCreated || pc.remoteSet {
		return Description{}, fmt.Errorf("%w: offer already negotiated on pc=%s", ErrInvalidState, pc.label)
	}

	offer, err := pc.peerConnection.CreateOffer(nil)
	if err != nil {
		return Description{}, fmt.Errorf("error while creating offer: %w", err)
	}
	pc.offerCreated = true

	return fromSessionDescription(offer), nil
}

func (pc *PeerConnection) CreateAnswer(ctx context.Context) (Description, error) {
	if err := ctx.Err(); err != nil {
		return Description{}, err
	}

	pc.mux.Lock()
	defer pc.mux.Unlock()

	if pc.closed {
		return Description{}, ErrClosed
	}
	if !pc.remoteSet || pc.offerCreated {
		return Description{}, fmt.Errorf("%w: answer needs a remote offer on pc=%s", ErrInvalidState, pc.label)
	}
	if pc.answerCreated {
		return Description{}, fmt.Errorf("%w: answer already created on pc=%s", ErrInvalidState, pc.label)
	}

	answer, err := pc.peerConnection.CreateAnswer(nil)
	if err != nil {
		return Description{}, fmt.Errorf("error while creating answer: %w", err)
	}
	pc.answerCreated = true

	return fromSessionDescription(answer), nil
}

func (pc *PeerConnection) SetLocalDescription(desc Description) error {
	pc.mux.Lock()
	defer pc.mux.Unlock()

	if pc.closed {
		return ErrClosed
	}
	if pc.peerConnection.LocalDescription() != nil {
		return fmt.Errorf("%w: local description already set on pc=%s", ErrInvalidState, pc.label)
	}

	if err := pc.peerConnection.SetLocalDescription(toSessionDescription(desc)); err != nil {
		return fmt.Errorf("error while setting local sdp: %w", err)
	}
	return nil
}

func (pc *PeerConnection) SetRemoteDescription(desc Description) error {
	pc.mux.Lock()
	defer pc.mux.Unlock()

	if pc.closed {
		return ErrClosed
	}
	if pc.remoteSet {
		return fmt.Errorf("%w: remote description already set on pc=%s", ErrInvalidState, pc.label)
	}

	if err := pc.peerConnection.SetRemoteDescription(toSessionDescription(desc)); err != nil {
		return fmt.Errorf("failed to set remote description (pc=%s); err: %w", pc.label, err)
	}
	pc.remoteSet = true

	return nil
}

func (pc *PeerConnection) LocalDescription() *Description {
	pc.mux.RLock()
	defer pc.mux.RUnlock()

	if pc.closed {
		return nil
	}
	return fromSessionDescriptionPtr(pc.peerConnection.LocalDescription())
}

func (pc *PeerConnection) RemoteDescription() *Description {
	pc.mux.RLock()
	defer pc.mux.RUnlock()

	if pc.closed || !pc.remoteSet {
		return nil
	}
	return fromSessionDescriptionPtr(pc.peerConnection.RemoteDescription())
}

func (pc *PeerConnection) AddRemoteCandidate(candidate Candidate) error {
	init, err := CandidateInit(candidate)
	if err != nil {
		return err
	}
	key := candidateKey(init)

	pc.mux.Lock()
	defer pc.mux.Unlock()

	if pc.closed {
		return ErrClosed
	}
	if _, exists := pc.applied[key]; exists {
		return ErrDuplicateCandidate
	}

	if err := pc.peerConnection.AddICECandidate(init); err != nil {
		return fmt.Errorf("error while adding remote candidate (pc=%s): %w", pc.label, err)
	}
	pc.applied[key] = struct{}{}

	return nil
}

func (pc *PeerConnection) OnLocalCandidate(handler LocalCandidateHandler) {
	pc.mux.Lock()
	defer pc.mux.Unlock()

	pc.onLocalCandidate = handler
}

func (pc *PeerConnection) OnRemoteTrack(handler RemoteTrackHandler) {
	pc.mux.Lock()
	defer pc.mux.Unlock()

	pc.onRemoteTrack = handler
}

func (pc *PeerConnection) OnConnectionStateChange(handler StateHandler) {
	pc.mux.Lock()
	defer pc.mux.Unlock()

	pc.onStateChange = handler
}

func (pc *PeerConnection) ConnectionState() ConnectionState {
	return fromPeerConnectionState(pc.peerConnection.ConnectionState())
}

func (pc *PeerConnection) onConnectionStateChangeEvent() *PeerConnection {
	pc.peerConnection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		pc.logger.Info().Str("state", state.String()).Msg("peer connection state changed")

		pc.mux.RLock()
		handler := pc.onStateChange
		pc.mux.RUnlock()

		if handler != nil {
			handler(fromPeerConnectionState(state))
		}
	})
	return pc
}

func (pc *PeerConnection) onICEConnectionStateChange() *PeerConnection {
	pc.peerConnection.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		pc.logger.Debug().Str("ice_state", state.String()).Msg("ICE connection state changed")
	})
	return pc
}

func (pc *PeerConnection) onICECandidate() *PeerConnection {
	pc.peerConnection.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			pc.logger.Debug().Msg("ICE gathering complete")
			return
		}

		pc.mux.RLock()
		handler := pc.onLocalCandidate
		closed := pc.closed
		pc.mux.RUnlock()

		if handler == nil || closed {
			return
		}

		payload, err := FromCandidateInit(candidate.ToJSON())
		if err != nil {
			pc.logger.Error().Err(err).Msg("failed to encode local candidate")
			return
		}

		pc.logger.Debug().Str("candidate", candidate.String()).Str("type", candidate.Typ.String()).Msg("found local candidate")
		handler(payload)
	})
	return pc
}

func (pc *PeerConnection) onTrack() *PeerConnection {
	pc.peerConnection.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		pc.logger.Info().Str("kind", remote.Kind().String()).Str("track_id", remote.ID()).Str("stream_id", remote.StreamID()).Msg("remote track received")

		pc.mux.RLock()
		handler := pc.onRemoteTrack
		pc.mux.RUnlock()

		if handler != nil {
			handler(remote, receiver)
		}
	})
	return pc
}

// Close is idempotent. It also stops local tracks from feeding the connection.
func (pc *PeerConnection) Close() error {
	var err error
	pc.once.Do(func() {
		pc.mux.Lock()
		pc.closed = true
		pc.mux.Unlock()

		if err = pc.peerConnection.Close(); err != nil {
			pc.logger.Error().Err(err).Msg("failed to close peer connection")
			return
		}
		pc.logger.Info().Msg("peer connection closed")
	})

	return err
}

// +++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++

// CandidateInit decodes a stored candidate payload into pion's form.
func CandidateInit(candidate Candidate) (webrtc.ICECandidateInit, error) {
	var init webrtc.ICECandidateInit

	b, err := json.Marshal(candidate)
	if err != nil {
		return init, fmt.Errorf("error while encoding candidate: %w", err)
	}
	if err := json.Unmarshal(b, &init); err != nil {
		return init, fmt.Errorf("malformed candidate payload: %w", err)
	}
	return init, nil
}

// FromCandidateInit encodes a pion candidate as the JSON object stored in the candidate collections.
func FromCandidateInit(init webrtc.ICECandidateInit) (Candidate, error) {
	b, err := json.Marshal(init)
	if err != nil {
		return nil, err
	}

	var candidate Candidate
	if err := json.Unmarshal(b, &candidate); err != nil {
		return nil, err
	}
	return candidate, nil
}

func candidateKey(init webrtc.ICECandidateInit) string {
	key := init.Candidate
	if init.SDPMid != nil {
		key += "|mid=" + *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		key += "|mline=" + strconv.Itoa(int(*init.SDPMLineIndex))
	}
	return key
}

func toSessionDescription(desc Description) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(desc.Type), SDP: desc.SDP}
}

func fromSessionDescription(desc webrtc.SessionDescription) Description {
	return Description{Type: desc.Type.String(), SDP: desc.SDP}
}

func fromSessionDescriptionPtr(desc *webrtc.SessionDescription) *Description {
	if desc == nil {
		return nil
	}
	d := fromSessionDescription(*desc)
	return &d
}

func fromPeerConnectionState(state webrtc.PeerConnectionState) ConnectionState {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	default:
		return StateNew
	}
}
