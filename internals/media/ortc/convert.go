package ortc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mynameaksh/SkillXChange/internals/media"
	"github.com/pion/webrtc/v3"
)

func codecType(kind media.Kind) webrtc.RTPCodecType {
	if kind == media.KindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

// fmtpLine renders codec parameters in a stable order.
func fmtpLine(params map[string]interface{}) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, ";")
}

func toFeedback(fb []media.RtcpFeedback) []webrtc.RTCPFeedback {
	out := make([]webrtc.RTCPFeedback, 0, len(fb))
	for _, f := range fb {
		out = append(out, webrtc.RTCPFeedback{Type: f.Type, Parameter: f.Parameter})
	}
	return out
}

func toCodecParameters(c media.RtpCodecCapability) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     c.MimeType,
			ClockRate:    c.ClockRate,
			Channels:     c.Channels,
			SDPFmtpLine:  fmtpLine(c.Parameters),
			RTCPFeedback: toFeedback(c.RtcpFeedback),
		},
		PayloadType: webrtc.PayloadType(c.PreferredPayloadType),
	}
}

func toCodecCapability(c media.RtpCodecParameters) webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:     c.MimeType,
		ClockRate:    c.ClockRate,
		Channels:     c.Channels,
		SDPFmtpLine:  fmtpLine(c.Parameters),
		RTCPFeedback: toFeedback(c.RtcpFeedback),
	}
}

func fromICEParameters(p webrtc.ICEParameters) media.IceParameters {
	return media.IceParameters{UsernameFragment: p.UsernameFragment, Password: p.Password, IceLite: p.ICELite}
}

func toICEParameters(p media.IceParameters) webrtc.ICEParameters {
	return webrtc.ICEParameters{UsernameFragment: p.UsernameFragment, Password: p.Password, ICELite: p.IceLite}
}

func fromICECandidates(cands []webrtc.ICECandidate) []media.IceCandidate {
	out := make([]media.IceCandidate, 0, len(cands))
	for _, c := range cands {
		out = append(out, media.IceCandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			IP:         c.Address,
			Protocol:   c.Protocol.String(),
			Port:       c.Port,
			Type:       c.Typ.String(),
			TCPType:    c.TCPType,
		})
	}
	return out
}

func toICECandidates(cands []media.IceCandidate) ([]webrtc.ICECandidate, error) {
	out := make([]webrtc.ICECandidate, 0, len(cands))
	for _, c := range cands {
		proto, err := webrtc.NewICEProtocol(c.Protocol)
		if err != nil {
			return nil, fmt.Errorf("%w: candidate protocol %q", media.ErrBadParameters, c.Protocol)
		}
		typ, err := webrtc.NewICECandidateType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: candidate type %q", media.ErrBadParameters, c.Type)
		}
		out = append(out, webrtc.ICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Address:    c.IP,
			Protocol:   proto,
			Port:       c.Port,
			Typ:        typ,
			Component:  1,
			TCPType:    c.TCPType,
		})
	}
	return out, nil
}

func fromDTLSParameters(p webrtc.DTLSParameters) media.DtlsParameters {
	out := media.DtlsParameters{Role: media.DtlsRoleAuto}
	for _, f := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, media.DtlsFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out
}

func toDTLSParameters(p media.DtlsParameters) (webrtc.DTLSParameters, error) {
	out := webrtc.DTLSParameters{}
	switch p.Role {
	case "", media.DtlsRoleAuto:
		out.Role = webrtc.DTLSRoleAuto
	case media.DtlsRoleClient:
		out.Role = webrtc.DTLSRoleClient
	case media.DtlsRoleServer:
		out.Role = webrtc.DTLSRoleServer
	default:
		return out, fmt.Errorf("%w: dtls role %q", media.ErrBadParameters, p.Role)
	}
	if len(p.Fingerprints) == 0 {
		return out, fmt.Errorf("%w: no dtls fingerprints", media.ErrBadParameters)
	}
	for _, f := range p.Fingerprints {
		if f.Algorithm == "" || f.Value == "" {
			return out, fmt.Errorf("%w: empty dtls fingerprint", media.ErrBadParameters)
		}
		out.Fingerprints = append(out.Fingerprints, webrtc.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out, nil
}
