package transport

import (
	"time"

	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/webrtc/v4"
)

const (
	H264PayloadType    webrtc.PayloadType = 102
	H264RTXPayloadType webrtc.PayloadType = 103
	VP8PayloadType     webrtc.PayloadType = 96
	VP8RTXPayloadType  webrtc.PayloadType = 97
	OpusPayloadType    webrtc.PayloadType = 111
)

const (
	VideoCodecH264 = "h264"
	VideoCodecVP8  = "vp8"

	VideoClockRate uint32 = 90000
)

type NACKGeneratorOptions []nack.GeneratorOption

var (
	NACKGeneratorLowLatency = NACKGeneratorOptions{nack.GeneratorSize(256), nack.GeneratorSkipLastN(2), nack.GeneratorMaxNacksPerPacket(1), nack.GeneratorInterval(10 * time.Millisecond)}
	NACKGeneratorDefault    = NACKGeneratorOptions{nack.GeneratorSize(512), nack.GeneratorSkipLastN(5), nack.GeneratorMaxNacksPerPacket(2), nack.GeneratorInterval(50 * time.Millisecond)}
)

type NACKResponderOptions []nack.ResponderOption

var (
	NACKResponderLowLatency = NACKResponderOptions{nack.ResponderSize(256)}
	NACKResponderDefault    = NACKResponderOptions{nack.ResponderSize(1024)}
)

type TWCCSenderInterval time.Duration

const (
	TWCCIntervalLowLatency = TWCCSenderInterval(100 * time.Millisecond)
	TWCCIntervalDefault    = TWCCSenderInterval(200 * time.Millisecond)
)

type RTCPReportInterval time.Duration

const (
	RTCPReportIntervalLowLatency = RTCPReportInterval(1 * time.Second)
	RTCPReportIntervalDefault    = RTCPReportInterval(3 * time.Second)
)
