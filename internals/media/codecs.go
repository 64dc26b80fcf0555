package media

import (
	"fmt"
	"strings"
)

// DefaultCodecs is the room codec profile: one audio and one video codec.
func DefaultCodecs(videoStartBitrate int) []RtpCodecCapability {
	video := RtpCodecCapability{
		Kind:                 KindVideo,
		MimeType:             "video/VP8",
		PreferredPayloadType: 96,
		ClockRate:            90000,
		RtcpFeedback: []RtcpFeedback{
			{Type: "nack"},
			{Type: "nack", Parameter: "pli"},
			{Type: "ccm", Parameter: "fir"},
			{Type: "goog-remb"},
		},
	}
	if videoStartBitrate > 0 {
		video.Parameters = map[string]interface{}{"x-google-start-bitrate": videoStartBitrate}
	}
	return []RtpCodecCapability{
		{
			Kind:                 KindAudio,
			MimeType:             "audio/opus",
			PreferredPayloadType: 111,
			ClockRate:            48000,
			Channels:             2,
		},
		video,
	}
}

// KindOfMime derives the kind from a mime type such as "video/VP8".
func KindOfMime(mimeType string) Kind {
	prefix, _, _ := strings.Cut(strings.ToLower(mimeType), "/")
	return Kind(prefix)
}

func codecMatches(c RtpCodecCapability, mimeType string, clockRate uint32, channels uint16) bool {
	if !strings.EqualFold(c.MimeType, mimeType) || c.ClockRate != clockRate {
		return false
	}
	if c.Kind == KindAudio || KindOfMime(c.MimeType) == KindAudio {
		want, have := channels, c.Channels
		if want == 0 {
			want = 1
		}
		if have == 0 {
			have = 1
		}
		return want == have
	}
	return true
}

// FindCodec returns the capability matching the codec, if any.
func FindCodec(caps RtpCapabilities, mimeType string, clockRate uint32, channels uint16) (RtpCodecCapability, bool) {
	for _, c := range caps.Codecs {
		if codecMatches(c, mimeType, clockRate, channels) {
			return c, true
		}
	}
	return RtpCodecCapability{}, false
}

// CanConsume reports whether a device advertising caps can decode a producer
// sending params.
func CanConsume(params RtpParameters, caps RtpCapabilities) bool {
	if len(params.Codecs) == 0 {
		return false
	}
	c := params.Codecs[0]
	_, ok := FindCodec(caps, c.MimeType, c.ClockRate, c.Channels)
	return ok
}

// ValidateProduce checks produce parameters against the router profile.
func ValidateProduce(kind Kind, params RtpParameters, routerCaps RtpCapabilities) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrBadParameters, kind)
	}
	if len(params.Codecs) == 0 {
		return fmt.Errorf("%w: no codecs", ErrBadParameters)
	}
	c := params.Codecs[0]
	if KindOfMime(c.MimeType) != kind {
		return fmt.Errorf("%w: codec %s is not %s", ErrBadParameters, c.MimeType, kind)
	}
	if _, ok := FindCodec(routerCaps, c.MimeType, c.ClockRate, c.Channels); !ok {
		return fmt.Errorf("%w: %s/%d", ErrUnsupported, c.MimeType, c.ClockRate)
	}
	return nil
}

// ConsumerRtpParameters builds the parameters a consumer receives for a
// producer: the router's payload type for the producer's codec and the given
// outbound SSRC.
func ConsumerRtpParameters(routerCaps RtpCapabilities, producer RtpParameters, ssrc uint32, mid string) (RtpParameters, error) {
	if len(producer.Codecs) == 0 {
		return RtpParameters{}, ErrCannotConsume
	}
	pc := producer.Codecs[0]
	rc, ok := FindCodec(routerCaps, pc.MimeType, pc.ClockRate, pc.Channels)
	if !ok {
		return RtpParameters{}, ErrCannotConsume
	}
	return RtpParameters{
		Mid: mid,
		Codecs: []RtpCodecParameters{{
			MimeType:     rc.MimeType,
			PayloadType:  rc.PreferredPayloadType,
			ClockRate:    rc.ClockRate,
			Channels:     rc.Channels,
			Parameters:   rc.Parameters,
			RtcpFeedback: rc.RtcpFeedback,
		}},
		Encodings: []RtpEncodingParameters{{Ssrc: ssrc}},
	}, nil
}
