package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/harshabose/simple_webrtc_comm/firecall"
	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/mediasink"
	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/mediasource"
	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/statusapi"
	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/store"
	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/transport"
)

const (
	sampleRate = 48000
	channels   = 2
)

// peer is one side of a call with a silent Opus track going out and a sink for what comes in.
// With a video codec configured it also offers an idle video track and accepts a remote one.
type peer struct {
	label  string
	pc     *transport.PeerConnection
	audio  *mediasource.RTPTrack
	video  *mediasource.RTPTrack
	sinks  []*mediasink.Sink
	call   *firecall.Call
	hungUp chan struct{}
	once   sync.Once
}

func newPeer(ctx context.Context, label string, config firecall.Config, s store.Store) (*peer, error) {
	logger := log.With().Str("peer", label).Logger()

	api, err := transport.NewAPI(
		transport.WithOpusMediaEngine(sampleRate, channels),
		transport.WithVideoMediaEngine(config.Video),
		transport.WithInterceptorPreset(config.LowLatency),
		transport.WithICETimeouts(5*time.Second, 15*time.Second, 2*time.Second),
		transport.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	pc, err := api.NewPeerConnection(label, config.ICE.Configuration())
	if err != nil {
		return nil, err
	}

	audio, err := mediasource.CreateRTPTrack(ctx, "audio", pc.GetPeerConnection(), mediasource.WithOpusTrack(sampleRate, channels), mediasource.WithStreamID(label))
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	sink, err := mediasink.CreateSink(mediasink.WithOpusTrack(sampleRate, channels), mediasink.WithLogger(logger))
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	p := &peer{label: label, pc: pc, audio: audio, sinks: []*mediasink.Sink{sink}, hungUp: make(chan struct{})}

	if config.Video != "" {
		// No capture is wired; the track only reserves a video m-line so the codec is negotiated.
		if p.video, err = mediasource.CreateRTPTrack(ctx, "video", pc.GetPeerConnection(), mediasource.WithVideoTrack(config.Video), mediasource.WithStreamID(label)); err != nil {
			_ = pc.Close()
			return nil, err
		}
		videoSink, err := mediasink.CreateSink(mediasink.WithVideoTrack(config.Video), mediasink.WithLogger(logger))
		if err != nil {
			_ = pc.Close()
			return nil, err
		}
		p.sinks = append(p.sinks, videoSink)
	}

	call, err := firecall.NewCall(s, pc,
		firecall.WithLogger(logger),
		firecall.WithCollection(config.Collection),
		firecall.OnPhaseChange(func(phase firecall.Phase) {
			logger.Info().Str("phase", phase.String()).Msg("call phase")
		}),
		firecall.OnConnectionStateChange(func(state transport.ConnectionState) {
			logger.Info().Str("state", state.String()).Msg("connectivity")
		}),
		firecall.OnRemoteTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
			for _, sink := range p.sinks {
				if sink.Accepts(remote) {
					if err := sink.Attach(ctx, remote, receiver); err != nil {
						logger.Warn().Err(err).Msg("ignoring remote track")
					}
					return
				}
			}
			logger.Warn().Str("codec", remote.Codec().MimeType).Msg("no sink for remote track")
		}),
		firecall.OnPeerHangup(func() {
			p.once.Do(func() { close(p.hungUp) })
		}),
		firecall.OnError(func(err error) {
			logger.Error().Err(err).Msg("call error")
		}),
	)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	p.call = call

	go func() {
		if err := audio.StreamOpusSilence(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Debug().Err(err).Msg("audio stopped")
		}
	}()

	return p, nil
}

// wait blocks until ctx is done or the other side hangs up, then tears the call down.
func (p *peer) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-p.hungUp:
		log.Info().Str("peer", p.label).Msg("peer hung up")
	}
	return p.hangup()
}

func (p *peer) hangup() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = p.audio.Close()
	if p.video != nil {
		_ = p.video.Close()
	}
	err := p.call.Hangup(ctx)
	log.Info().Str("peer", p.label).Uint64("packets_received", p.packets()).Msg("call ended")
	return err
}

func (p *peer) packets() uint64 {
	var total uint64
	for _, sink := range p.sinks {
		total += sink.Packets()
	}
	return total
}

func serveStatus(ctx context.Context, addr string, call statusapi.CallView) {
	if addr == "" {
		return
	}

	server := statusapi.NewServer(addr, call, log.Logger)
	go func() {
		log.Info().Str("addr", addr).Msg("status server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("status server error")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

func runCreate(ctx context.Context, config firecall.Config, s store.Store) error {
	p, err := newPeer(ctx, "initiator", config, s)
	if err != nil {
		return err
	}

	id, err := p.call.Create(ctx)
	if err != nil {
		return errors.Join(err, p.hangup())
	}
	fmt.Println(id)

	serveStatus(ctx, config.StatusAddr, p.call)
	return p.wait(ctx)
}

func runJoin(ctx context.Context, config firecall.Config, s store.Store, id string) error {
	p, err := newPeer(ctx, "responder", config, s)
	if err != nil {
		return err
	}

	if err := p.call.Join(ctx, id); err != nil {
		return errors.Join(err, p.hangup())
	}

	serveStatus(ctx, config.StatusAddr, p.call)
	return p.wait(ctx)
}

// runLoopback calls itself through an in-memory store and hangs up once audio flows.
func runLoopback(ctx context.Context, config firecall.Config) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	s := store.NewMemory()
	defer func() { _ = s.Close() }()

	initiator, err := newPeer(ctx, "initiator", config, s)
	if err != nil {
		return err
	}
	responder, err := newPeer(ctx, "responder", config, s)
	if err != nil {
		return errors.Join(err, initiator.hangup())
	}

	id, err := initiator.call.Create(ctx)
	if err != nil {
		return errors.Join(err, initiator.hangup(), responder.hangup())
	}
	if err := responder.call.Join(ctx, id); err != nil {
		return errors.Join(err, initiator.hangup(), responder.hangup())
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var waitErr error
	for responder.sinks[0].Packets() == 0 || initiator.sinks[0].Packets() == 0 {
		select {
		case <-ctx.Done():
			waitErr = fmt.Errorf("no audio in both directions on session %s: %w", id, ctx.Err())
		case <-ticker.C:
			continue
		}
		break
	}
	if waitErr == nil {
		log.Info().Str("session", id).Msg("loopback call established, audio flowing both ways")
	}

	return errors.Join(waitErr, responder.hangup(), initiator.hangup())
}
