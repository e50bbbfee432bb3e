package mediasink

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/transport"
)

type SinkOption = func(*Sink) error

func WithH264Track(clockrate uint32) SinkOption {
	return func(sink *Sink) error {
		if sink.codecCapability != nil {
			return errors.New("multiple tracks are not supported on single media sink")
		}
		sink.codecCapability = &webrtc.RTPCodecParameters{}
		sink.codecCapability.MimeType = webrtc.MimeTypeH264
		sink.codecCapability.ClockRate = clockrate
		return nil
	}
}

// WithVideoTrack picks the video sink option by codec name, matching transport.WithVideoMediaEngine.
func WithVideoTrack(codec string) SinkOption {
	switch codec {
	case transport.VideoCodecH264:
		return WithH264Track(transport.VideoClockRate)
	case transport.VideoCodecVP8:
		return WithVP8Track(transport.VideoClockRate)
	default:
		return func(*Sink) error {
			return fmt.Errorf("unsupported video codec %q", codec)
		}
	}
}

func WithVP8Track(clockrate uint32) SinkOption {
	return func(sink *Sink) error {
		if sink.codecCapability != nil {
			return errors.New("multiple tracks are not supported on single media sink")
		}
		sink.codecCapability = &webrtc.RTPCodecParameters{}
		sink.codecCapability.MimeType = webrtc.MimeTypeVP8
		sink.codecCapability.ClockRate = clockrate
		return nil
	}
}

func WithOpusTrack(samplerate uint32, channelLayout uint16) SinkOption {
	return func(sink *Sink) error {
		if sink.codecCapability != nil {
			return errors.New("multiple tracks are not supported on single media sink")
		}
		sink.codecCapability = &webrtc.RTPCodecParameters{}
		sink.codecCapability.MimeType = webrtc.MimeTypeOpus
		sink.codecCapability.ClockRate = samplerate
		sink.codecCapability.Channels = channelLayout
		return nil
	}
}

func WithPacketHandler(handler PacketHandler) SinkOption {
	return func(sink *Sink) error {
		sink.onPacket = handler
		return nil
	}
}

func WithLogger(logger zerolog.Logger) SinkOption {
	return func(sink *Sink) error {
		sink.logger = logger.With().Str("module", "mediasink").Logger()
		return nil
	}
}
