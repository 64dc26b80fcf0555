package ortc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mynameaksh/SkillXChange/internals/media"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestWorker(t *testing.T) *Worker {
	t.Helper()
	e := NewEngine(Options{UDPPortMin: 40000, UDPPortMax: 40100, ListenIP: "0.0.0.0", AnnouncedIP: "127.0.0.1"}, zap.NewNop())
	w, err := e.NewWorker(context.Background(), 3)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w.(*Worker)
}

func TestWorkerCreatesRouterWithProfile(t *testing.T) {
	w := newTestWorker(t)
	assert.Equal(t, "worker-3", w.ID())

	r, err := w.CreateRouter(context.Background(), media.DefaultCodecs(1000))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, "worker-3", r.WorkerID())
	require.Len(t, r.Capabilities().Codecs, 2)
	assert.False(t, r.CanConsume("missing", r.Capabilities()))
}

func TestWorkerRejectsInvalidCodecKind(t *testing.T) {
	w := newTestWorker(t)
	_, err := w.CreateRouter(context.Background(), []media.RtpCodecCapability{{MimeType: "text/plain", ClockRate: 1}})
	assert.ErrorIs(t, err, media.ErrBadParameters)
}

func TestClosedWorkerRefusesRequests(t *testing.T) {
	w := newTestWorker(t)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err := w.CreateRouter(context.Background(), media.DefaultCodecs(0))
	assert.ErrorIs(t, err, media.ErrClosed)
}

func TestWorkerDoHonoursDeadline(t *testing.T) {
	w := newTestWorker(t)
	release := make(chan struct{})
	started := make(chan struct{})
	go w.do(context.Background(), "block", func() error {
		close(started)
		<-release
		return nil
	})
	defer close(release)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := w.do(ctx, "late", func() error { return nil })
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

type fakeCloser struct{ closed chan struct{} }

func (f *fakeCloser) Close() error {
	close(f.closed)
	return nil
}

func TestCreateClosesLateResult(t *testing.T) {
	w := newTestWorker(t)
	release := make(chan struct{})
	obj := &fakeCloser{closed: make(chan struct{})}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := create(ctx, w, "slow", func() (*fakeCloser, error) {
		<-release
		return obj, nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)

	select {
	case <-obj.closed:
	case <-time.After(time.Second):
		t.Fatal("late result was not closed")
	}
}

func TestFmtpLineIsSorted(t *testing.T) {
	assert.Equal(t, "", fmtpLine(nil))
	assert.Equal(t, "a=1;x-google-start-bitrate=1000",
		fmtpLine(map[string]interface{}{"x-google-start-bitrate": 1000, "a": 1}))
}

func TestToDTLSParameters(t *testing.T) {
	_, err := toDTLSParameters(media.DtlsParameters{Role: media.DtlsRoleClient})
	assert.ErrorIs(t, err, media.ErrBadParameters)

	_, err = toDTLSParameters(media.DtlsParameters{
		Role:         "sideways",
		Fingerprints: []media.DtlsFingerprint{{Algorithm: "sha-256", Value: "AA"}},
	})
	assert.ErrorIs(t, err, media.ErrBadParameters)

	p, err := toDTLSParameters(media.DtlsParameters{
		Role:         media.DtlsRoleClient,
		Fingerprints: []media.DtlsFingerprint{{Algorithm: "sha-256", Value: "AA"}},
	})
	require.NoError(t, err)
	assert.Equal(t, webrtc.DTLSRoleClient, p.Role)
	assert.Len(t, p.Fingerprints, 1)
}

func TestICECandidateConversion(t *testing.T) {
	in := []media.IceCandidate{{Foundation: "1", Priority: 10, IP: "10.0.0.1", Protocol: "udp", Port: 5000, Type: "host"}}
	out, err := toICECandidates(in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, webrtc.ICEProtocolUDP, out[0].Protocol)
	assert.Equal(t, in, fromICECandidates(out))

	_, err = toICECandidates([]media.IceCandidate{{Protocol: "sctp", Type: "host"}})
	assert.ErrorIs(t, err, media.ErrBadParameters)
}

func TestStatsRecorder(t *testing.T) {
	var s statsRecorder
	s.received(&rtp.Packet{Payload: make([]byte, 100)})
	s.sent(&rtp.Packet{Payload: make([]byte, 40)})
	s.dropped()

	assert.True(t, s.rtcp(&rtcp.PictureLossIndication{MediaSSRC: 1}, zap.NewNop()))
	assert.True(t, s.rtcp(&rtcp.FullIntraRequest{MediaSSRC: 1}, zap.NewNop()))
	assert.False(t, s.rtcp(&rtcp.ReceiverReport{Reports: []rtcp.ReceptionReport{{TotalLost: 3, Jitter: 7}}}, zap.NewNop()))

	snap := s.snapshot()
	assert.Equal(t, uint64(1), snap.PacketsReceived)
	assert.Equal(t, uint64(100), snap.BytesReceived)
	assert.Equal(t, uint64(40), snap.BytesSent)
	assert.Equal(t, uint64(1), snap.PacketsDropped)
	assert.Equal(t, uint64(3), snap.PacketsLost)
	assert.Equal(t, uint64(2), snap.KeyFrameReqs)
}
