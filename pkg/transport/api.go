package transport

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// API builds PeerConnections that share one media engine, interceptor registry and setting engine.
type API struct {
	mediaEngine         *webrtc.MediaEngine
	settingsEngine      *webrtc.SettingEngine
	interceptorRegistry *interceptor.Registry
	api                 *webrtc.API
	logger              zerolog.Logger
}

func NewAPI(options ...APIOption) (*API, error) {
	a := &API{
		mediaEngine:         &webrtc.MediaEngine{},
		settingsEngine:      &webrtc.SettingEngine{},
		interceptorRegistry: &interceptor.Registry{},
		logger:              zerolog.Nop(),
	}

	for _, option := range options {
		if err := option(a); err != nil {
			return nil, err
		}
	}

	a.api = webrtc.NewAPI(
		webrtc.WithMediaEngine(a.mediaEngine),
		webrtc.WithInterceptorRegistry(a.interceptorRegistry),
		webrtc.WithSettingEngine(*a.settingsEngine),
	)

	return a, nil
}

// NewPeerConnection returns a fresh transport. Each one negotiates a single call.
func (a *API) NewPeerConnection(label string, config webrtc.Configuration) (*PeerConnection, error) {
	return CreatePeerConnection(label, a.api, config, a.logger)
}
