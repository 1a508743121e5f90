package rtc

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// Config holds the network settings shared by every peer connection the
// engine creates.
type Config struct {
	STUNURLs      []string
	PublicIP      string
	UDPPortMin    uint16
	UDPPortMax    uint16
	GatherTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		STUNURLs:      []string{"stun:stun.l.google.com:19302"},
		GatherTimeout: 5 * time.Second,
	}
}

func (c Config) WebRTCConfig() webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(c.STUNURLs) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: c.STUNURLs}}
	}
	return cfg
}

func (c Config) gatherTimeout() time.Duration {
	if c.GatherTimeout <= 0 {
		return DefaultConfig().GatherTimeout
	}
	return c.GatherTimeout
}

func (c Config) settingEngine() (webrtc.SettingEngine, error) {
	se := webrtc.SettingEngine{}
	if c.UDPPortMin > 0 && c.UDPPortMax >= c.UDPPortMin {
		if err := se.SetEphemeralUDPPortRange(c.UDPPortMin, c.UDPPortMax); err != nil {
			return se, err
		}
	}
	if c.PublicIP != "" {
		se.SetNAT1To1IPs([]string{c.PublicIP}, webrtc.ICECandidateTypeHost)
	}
	return se, nil
}

var codecs = []struct {
	kind   webrtc.RTPCodecType
	params webrtc.RTPCodecParameters
}{
	{
		kind: webrtc.RTPCodecTypeAudio,
		params: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeOpus,
				ClockRate:   48000,
				Channels:    2,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			PayloadType: 111,
		},
	},
	{
		kind: webrtc.RTPCodecTypeVideo,
		params: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  webrtc.MimeTypeVP8,
				ClockRate: 90000,
			},
			PayloadType: 96,
		},
	},
}

// NewMediaEngine registers the codecs every room routes.
func NewMediaEngine() (*webrtc.MediaEngine, error) {
	me := &webrtc.MediaEngine{}
	for _, c := range codecs {
		if err := me.RegisterCodec(c.params, c.kind); err != nil {
			return nil, err
		}
	}
	return me, nil
}

func codecFor(kind webrtc.RTPCodecType) webrtc.RTPCodecCapability {
	for _, c := range codecs {
		if c.kind == kind {
			return c.params.RTPCodecCapability
		}
	}
	return webrtc.RTPCodecCapability{}
}

type codecInfo struct {
	Kind      string `json:"kind"`
	MimeType  string `json:"mimeType"`
	ClockRate uint32 `json:"clockRate"`
	Channels  uint16 `json:"channels,omitempty"`
	Fmtp      string `json:"sdpFmtpLine,omitempty"`
}

type capabilities struct {
	Codecs []codecInfo `json:"codecs"`
}

func routerCapabilities() capabilities {
	caps := capabilities{}
	for _, c := range codecs {
		caps.Codecs = append(caps.Codecs, codecInfo{
			Kind:      c.kind.String(),
			MimeType:  c.params.MimeType,
			ClockRate: c.params.ClockRate,
			Channels:  c.params.Channels,
			Fmtp:      c.params.SDPFmtpLine,
		})
	}
	return caps
}
