package mediasource

import (
	"context"
	"time"

	"github.com/pion/rtp"

	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/transport"
)

// opusSilenceFrame is a 20ms Opus comfort-silence frame.
var opusSilenceFrame = []byte{0xf8, 0xff, 0xfe}

// StreamOpusSilence writes one 20ms silence packet per tick until ctx is done or a write fails.
// It stands in for a capture device when there is none.
func (track *RTPTrack) StreamOpusSilence(ctx context.Context) error {
	const frame = 20 * time.Millisecond

	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	samplesPerFrame := track.codecCapability.ClockRate / uint32(time.Second/frame)
	packet := opusSilencePacket()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-track.ctx.Done():
			return nil
		case <-ticker.C:
			if err := track.WriteRTP(packet); err != nil {
				return err
			}
			packet.SequenceNumber++
			packet.Timestamp += samplesPerFrame
		}
	}
}

func opusSilencePacket() *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:     2,
			PayloadType: uint8(transport.OpusPayloadType),
			SSRC:        0x46434c4c,
		},
		Payload: opusSilenceFrame,
	}
}
