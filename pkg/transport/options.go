package transport

import (
	"fmt"
	"time"

	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/interceptor/pkg/report"
	"github.com/pion/interceptor/pkg/twcc"
	"github.com/pion/sdp/v3"
	piontransport "github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type APIOption = func(*API) error

func WithH264MediaEngine(clockrate uint32) APIOption {
	return func(a *API) error {
		RTCPFeedback := []webrtc.RTCPFeedback{{Type: webrtc.TypeRTCPFBGoogREMB}, {Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"}, {Type: webrtc.TypeRTCPFBNACK}, {Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"}}
		if err := a.mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     webrtc.MimeTypeH264,
				ClockRate:    clockrate,
				SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
				RTCPFeedback: RTCPFeedback,
			},
			PayloadType: H264PayloadType,
		}, webrtc.RTPCodecTypeVideo); err != nil {
			return err
		}

		return a.mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeRTX,
				ClockRate:   clockrate,
				SDPFmtpLine: fmt.Sprintf("apt=%d", H264PayloadType),
			},
			PayloadType: H264RTXPayloadType,
		}, webrtc.RTPCodecTypeVideo)
	}
}

func WithVP8MediaEngine(clockrate uint32) APIOption {
	return func(a *API) error {
		RTCPFeedback := []webrtc.RTCPFeedback{{Type: webrtc.TypeRTCPFBGoogREMB}, {Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"}, {Type: webrtc.TypeRTCPFBNACK}, {Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"}}
		if err := a.mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     webrtc.MimeTypeVP8,
				ClockRate:    clockrate,
				RTCPFeedback: RTCPFeedback,
			},
			PayloadType: VP8PayloadType,
		}, webrtc.RTPCodecTypeVideo); err != nil {
			return err
		}

		return a.mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeRTX,
				ClockRate:   clockrate,
				SDPFmtpLine: fmt.Sprintf("apt=%d", VP8PayloadType),
			},
			PayloadType: VP8RTXPayloadType,
		}, webrtc.RTPCodecTypeVideo)
	}
}

func WithOpusMediaEngine(samplerate uint32, channelLayout uint16) APIOption {
	return func(a *API) error {
		return a.mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeOpus,
				ClockRate:   samplerate,
				Channels:    channelLayout,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			PayloadType: OpusPayloadType,
		}, webrtc.RTPCodecTypeAudio)
	}
}

// WithVideoMediaEngine registers the named video codec (VideoCodecH264 or VideoCodecVP8). An empty
// name registers nothing.
func WithVideoMediaEngine(codec string) APIOption {
	return func(a *API) error {
		switch codec {
		case "":
			return nil
		case VideoCodecH264:
			return WithH264MediaEngine(VideoClockRate)(a)
		case VideoCodecVP8:
			return WithVP8MediaEngine(VideoClockRate)(a)
		default:
			return fmt.Errorf("unsupported video codec %q", codec)
		}
	}
}

func WithDefaultMediaEngine() APIOption {
	return func(a *API) error {
		return a.mediaEngine.RegisterDefaultCodecs()
	}
}

func WithDefaultInterceptorRegistry() APIOption {
	return func(a *API) error {
		return webrtc.RegisterDefaultInterceptors(a.mediaEngine, a.interceptorRegistry)
	}
}

func WithNACKInterceptor(generatorOptions NACKGeneratorOptions, responderOptions NACKResponderOptions) APIOption {
	return func(a *API) error {
		generator, err := nack.NewGeneratorInterceptor(generatorOptions...)
		if err != nil {
			return err
		}
		responder, err := nack.NewResponderInterceptor(responderOptions...)
		if err != nil {
			return err
		}

		a.mediaEngine.RegisterFeedback(webrtc.RTCPFeedback{Type: webrtc.TypeRTCPFBNACK}, webrtc.RTPCodecTypeVideo)
		a.mediaEngine.RegisterFeedback(webrtc.RTCPFeedback{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"}, webrtc.RTPCodecTypeVideo)
		a.interceptorRegistry.Add(responder)
		a.interceptorRegistry.Add(generator)

		return nil
	}
}

func WithTWCCSenderInterceptor(interval TWCCSenderInterval) APIOption {
	return func(a *API) error {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
			a.mediaEngine.RegisterFeedback(webrtc.RTCPFeedback{Type: webrtc.TypeRTCPFBTransportCC}, kind)
			if err := a.mediaEngine.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: sdp.TransportCCURI}, kind); err != nil {
				return err
			}
		}

		generator, err := twcc.NewSenderInterceptor(twcc.SendInterval(time.Duration(interval)))
		if err != nil {
			return err
		}

		a.interceptorRegistry.Add(generator)
		return nil
	}
}

func WithRTCPReportsInterceptor(interval RTCPReportInterval) APIOption {
	return func(a *API) error {
		receiver, err := report.NewReceiverInterceptor(report.ReceiverInterval(time.Duration(interval)))
		if err != nil {
			return err
		}
		sender, err := report.NewSenderInterceptor(report.SenderInterval(time.Duration(interval)))
		if err != nil {
			return err
		}

		a.interceptorRegistry.Add(receiver)
		a.interceptorRegistry.Add(sender)

		return nil
	}
}

// WithInterceptorPreset installs NACK, TWCC and RTCP report interceptors tuned either for low
// latency or for the default trade-off.
func WithInterceptorPreset(lowLatency bool) APIOption {
	return func(a *API) error {
		options := []APIOption{
			WithNACKInterceptor(NACKGeneratorDefault, NACKResponderDefault),
			WithTWCCSenderInterceptor(TWCCIntervalDefault),
			WithRTCPReportsInterceptor(RTCPReportIntervalDefault),
		}
		if lowLatency {
			options = []APIOption{
				WithNACKInterceptor(NACKGeneratorLowLatency, NACKResponderLowLatency),
				WithTWCCSenderInterceptor(TWCCIntervalLowLatency),
				WithRTCPReportsInterceptor(RTCPReportIntervalLowLatency),
			}
		}

		for _, option := range options {
			if err := option(a); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithLogger sends both the adapter's own logs and pion's internal logs to logger.
func WithLogger(logger zerolog.Logger) APIOption {
	return func(a *API) error {
		a.logger = logger
		a.settingsEngine.LoggerFactory = NewLoggerFactory(logger)
		return nil
	}
}

// WithNet replaces the network stack, e.g. with a vnet.Net.
func WithNet(n piontransport.Net) APIOption {
	return func(a *API) error {
		a.settingsEngine.SetNet(n)
		return nil
	}
}

// WithICETimeouts tunes how fast an unreachable peer is reported as disconnected and failed.
func WithICETimeouts(disconnected, failed, keepAlive time.Duration) APIOption {
	return func(a *API) error {
		a.settingsEngine.SetICETimeouts(disconnected, failed, keepAlive)
		return nil
	}
}
