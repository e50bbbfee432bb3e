package mediasource

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type track struct {
	codecCapability *webrtc.RTPCodecCapability
	streamID        string
}

// RTPTrack is a local track fed with ready-made RTP packets. It must be attached before the
// offer or answer is created so that it is part of the negotiated media.
type RTPTrack struct {
	*track
	local     *webrtc.TrackLocalStaticRTP
	rtpSender *webrtc.RTPSender

	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
}

func CreateRTPTrack(ctx context.Context, label string, pc *webrtc.PeerConnection, options ...TrackOption) (*RTPTrack, error) {
	t := &track{streamID: "firecall"}

	for _, option := range options {
		if err := option(t); err != nil {
			return nil, err
		}
	}

	if t.codecCapability == nil {
		return nil, errors.New("no track capabilities given")
	}

	local, err := webrtc.NewTrackLocalStaticRTP(*t.codecCapability, label, t.streamID)
	if err != nil {
		return nil, err
	}

	sender, err := pc.AddTrack(local)
	if err != nil {
		return nil, err
	}

	ctx2, cancel2 := context.WithCancel(ctx)
	rtpTrack := &RTPTrack{
		track:     t,
		local:     local,
		rtpSender: sender,
		ctx:       ctx2,
		cancel:    cancel2,
	}

	go rtpTrack.rtcpReaderLoop()

	return rtpTrack, nil
}

func (track *RTPTrack) Codec() webrtc.RTPCodecCapability {
	return *track.codecCapability
}

// rtcpReaderLoop drains incoming RTCP so that interceptors (NACK, reports) see it.
func (track *RTPTrack) rtcpReaderLoop() {
	rtcpBuf := make([]byte, 1500)
	for {
		select {
		case <-track.ctx.Done():
			return
		default:
			if _, _, err := track.rtpSender.Read(rtcpBuf); err != nil {
				return
			}
		}
	}
}

func (track *RTPTrack) WriteRTP(packet *rtp.Packet) error {
	if packet == nil {
		return nil
	}
	return track.local.WriteRTP(packet)
}

func (track *RTPTrack) Close() error {
	track.once.Do(func() {
		track.cancel()
	})
	return nil
}
