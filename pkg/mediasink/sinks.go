package mediasink

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type PacketHandler = func(*rtp.Packet)

// Sink consumes one remote track. Packets go to the handler; RTCP from the receiver is drained so
// interceptors keep working.
type Sink struct {
	codecCapability *webrtc.RTPCodecParameters
	onPacket        PacketHandler
	packets         atomic.Uint64
	logger          zerolog.Logger
}

func CreateSink(options ...SinkOption) (*Sink, error) {
	sink := &Sink{logger: zerolog.Nop()}

	for _, option := range options {
		if err := option(sink); err != nil {
			return nil, err
		}
	}

	if sink.codecCapability == nil {
		return nil, errors.New("no sink capabilities given")
	}

	return sink, nil
}

// Accepts reports whether the remote track carries the codec the sink was created for.
func (s *Sink) Accepts(remote *webrtc.TrackRemote) bool {
	codec := remote.Codec()
	return codec.MimeType == s.codecCapability.MimeType && codec.ClockRate == s.codecCapability.ClockRate
}

// Attach starts reading from the remote track until ctx is done or the track ends.
func (s *Sink) Attach(ctx context.Context, remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) error {
	if !s.Accepts(remote) {
		return fmt.Errorf("sink codec %s does not match track codec %s", s.codecCapability.MimeType, remote.Codec().MimeType)
	}

	go s.rtcpReceiverLoop(ctx, receiver)
	go s.rtpLoop(ctx, remote)

	return nil
}

func (s *Sink) Packets() uint64 {
	return s.packets.Load()
}

func (s *Sink) rtpLoop(ctx context.Context, remote *webrtc.TrackRemote) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			packet, _, err := remote.ReadRTP()
			if err != nil {
				s.logger.Debug().Err(err).Str("track_id", remote.ID()).Msg("remote track ended")
				return
			}

			s.packets.Add(1)
			if s.onPacket != nil {
				s.onPacket(packet)
			}
		}
	}
}

func (s *Sink) rtcpReceiverLoop(ctx context.Context, receiver *webrtc.RTPReceiver) {
	rtcpBuf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if _, _, err := receiver.Read(rtcpBuf); err != nil {
				return
			}
		}
	}
}
