package mediasource

import (
	"bytes"
	"testing"

	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/transport"
)

func TestOpusSilencePacket(t *testing.T) {
	packet := opusSilencePacket()

	if packet.PayloadType != uint8(transport.OpusPayloadType) {
		t.Fatalf("payload type=%d, want %d", packet.PayloadType, transport.OpusPayloadType)
	}
	if packet.Version != 2 || !bytes.Equal(packet.Payload, opusSilenceFrame) {
		t.Fatalf("packet=%+v", packet)
	}
}
