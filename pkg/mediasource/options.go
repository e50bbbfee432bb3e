package mediasource

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/transport"
)

type TrackOption = func(*track) error

func WithH264Track(clockrate uint32) TrackOption {
	return func(track *track) error {
		if track.codecCapability != nil {
			return errors.New("multiple tracks are not supported on single media source")
		}
		track.codecCapability = &webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: clockrate}
		return nil
	}
}

func WithVP8Track(clockrate uint32) TrackOption {
	return func(track *track) error {
		if track.codecCapability != nil {
			return errors.New("multiple tracks are not supported on single media source")
		}
		track.codecCapability = &webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: clockrate}
		return nil
	}
}

// WithVideoTrack picks the video track option by codec name, matching transport.WithVideoMediaEngine.
func WithVideoTrack(codec string) TrackOption {
	switch codec {
	case transport.VideoCodecH264:
		return WithH264Track(transport.VideoClockRate)
	case transport.VideoCodecVP8:
		return WithVP8Track(transport.VideoClockRate)
	default:
		return func(*track) error {
			return fmt.Errorf("unsupported video codec %q", codec)
		}
	}
}

func WithOpusTrack(samplerate uint32, channelLayout uint16) TrackOption {
	return func(track *track) error {
		if track.codecCapability != nil {
			return errors.New("multiple tracks are not supported on single media source")
		}
		track.codecCapability = &webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: samplerate, Channels: channelLayout}
		return nil
	}
}

func WithStreamID(id string) TrackOption {
	return func(track *track) error {
		track.streamID = id
		return nil
	}
}
