package ptz

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/technosupport/ts-ptz/internal/data"
	"github.com/technosupport/ts-ptz/internal/events"
	"github.com/technosupport/ts-ptz/internal/ptz/adapters"
	"github.com/technosupport/ts-ptz/internal/ptz/adapters/hanwha"
	"github.com/technosupport/ts-ptz/internal/ptz/adapters/onvif"
	"github.com/technosupport/ts-ptz/internal/ptz/adapters/vms"
	"github.com/technosupport/ts-ptz/internal/ptz/autostop"
)

type MockVMSRegistry struct{ mock.Mock }

func (m *MockVMSRegistry) GetByName(ctx context.Context, name string) (*data.VMSConnectionInfo, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*data.VMSConnectionInfo), args.Error(1)
}

type MockAccessPoints struct{ mock.Mock }

func (m *MockAccessPoints) Get(ctx context.Context, mainServiceName, cameraID string) (*data.AccessPoint, error) {
	args := m.Called(ctx, mainServiceName, cameraID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*data.AccessPoint), args.Error(1)
}

func (m *MockAccessPoints) GetByIP(ctx context.Context, ip string) (*data.AccessPoint, error) {
	args := m.Called(ctx, ip)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*data.AccessPoint), args.Error(1)
}

type MockProber struct{ mock.Mock }

func (m *MockProber) Send(ctx context.Context, srv vms.Server, cameraID string, cmd adapters.Command) (*vms.Outcome, error) {
	args := m.Called(ctx, srv, cameraID, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*vms.Outcome), args.Error(1)
}

type MockONVIF struct{ mock.Mock }

func (m *MockONVIF) Send(ctx context.Context, t adapters.CameraTarget, cmd adapters.Command, hold time.Duration) (onvif.AuthScheme, error) {
	args := m.Called(ctx, t, cmd, hold)
	return args.Get(0).(onvif.AuthScheme), args.Error(1)
}

func (m *MockONVIF) GetProfileToken(ctx context.Context, host string, cred onvif.Credentials) (string, error) {
	args := m.Called(ctx, host, cred)
	return args.String(0), args.Error(1)
}

func (m *MockONVIF) CachedToken(host string) (string, bool) {
	args := m.Called(host)
	return args.String(0), args.Bool(1)
}

type MockHanwha struct{ mock.Mock }

func (m *MockHanwha) Probe(ctx context.Context, host string) error {
	return m.Called(ctx, host).Error(0)
}

func (m *MockHanwha) Send(ctx context.Context, t adapters.CameraTarget, cmd adapters.Command) (*hanwha.BurstResult, error) {
	args := m.Called(ctx, t, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*hanwha.BurstResult), args.Error(1)
}

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.CommandEvent
}

func (p *recordingPublisher) Publish(ev *events.CommandEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Events() []*events.CommandEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*events.CommandEvent(nil), p.events...)
}

func code(c adapters.Code) interface{} {
	return mock.MatchedBy(func(cmd adapters.Command) bool { return cmd.Code == c })
}

var vms1 = &data.VMSConnectionInfo{Name: "vms1", IP: "10.0.0.5", Port: 7001, Username: "admin", Password: "secret"}

func TestDispatch_InvalidRequest(t *testing.T) {
	s := NewService(Deps{})
	res, err := s.Dispatch(context.Background(), Request{Direction: "left", EventType: "mousedown"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRequest))
	assert.False(t, res.Success)
}

func TestDispatch_VMSNotFound(t *testing.T) {
	reg := new(MockVMSRegistry)
	prober := new(MockProber)
	reg.On("GetByName", mock.Anything, "ghost").Return(nil, data.ErrVMSNotFound)

	s := NewService(Deps{VMSRegistry: reg, VMS: prober})
	res, err := s.Dispatch(context.Background(), Request{CameraID: "cam-7", VMSName: "ghost", Direction: "left", EventType: "mousedown"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, adapters.ErrResolution))
	assert.Contains(t, err.Error(), "VMS info not found")
	assert.Empty(t, res.Attempts)
	prober.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_VMSExhaustion(t *testing.T) {
	reg := new(MockVMSRegistry)
	prober := new(MockProber)
	reg.On("GetByName", mock.Anything, "vms1").Return(vms1, nil)
	prober.On("Send", mock.Anything, mock.Anything, "cam-7", code(adapters.Up)).
		Return(nil, adapters.NewStatusError(adapters.KindExhaustion, adapters.ProtocolVMS, "VMS PTZ endpoints rejected", 404, []byte("nope")))

	s := NewService(Deps{VMSRegistry: reg, VMS: prober})
	res, err := s.Dispatch(context.Background(), Request{CameraID: "cam-7", VMSName: "vms1", Direction: "up", EventType: "mousedown"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, adapters.ErrExhaustion))
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, adapters.ProtocolVMS, res.Attempts[0].Protocol)
	assert.False(t, res.Attempts[0].Success)
}

func TestDispatch_VMSArmsAutoStop(t *testing.T) {
	reg := new(MockVMSRegistry)
	prober := new(MockProber)
	reg.On("GetByName", mock.Anything, "vms1").Return(vms1, nil)

	stopped := make(chan adapters.Command, 1)
	prober.On("Send", mock.Anything, mock.Anything, "cam-7", code(adapters.Left)).
		Return(&vms.Outcome{Method: "GET", URL: "http://10.0.0.5:7001/x", Attempts: 1}, nil).Once()
	prober.On("Send", mock.Anything, mock.Anything, "cam-7", code(adapters.Stop)).
		Run(func(args mock.Arguments) { stopped <- args.Get(3).(adapters.Command) }).
		Return(&vms.Outcome{Method: "GET", Attempts: 1}, nil).Once()

	reg2 := autostop.New(autostop.Options{Coalesce: true}, zap.NewNop())
	defer reg2.Close()
	pub := &recordingPublisher{}

	s := NewService(Deps{VMSRegistry: reg, VMS: prober, AutoStop: reg2, Events: pub})
	res, err := s.Dispatch(context.Background(), Request{
		CameraID: "cam-7", VMSName: "vms1", Direction: "left", EventType: "mousedown", AutoStopMs: 200,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, adapters.ProtocolVMS, res.Path)
	assert.Equal(t, 1, reg2.PendingFor("vms:vms1:cam-7"))

	select {
	case cmd := <-stopped:
		assert.Equal(t, adapters.Left, cmd.Direction)
		assert.False(t, cmd.IsPress)
	case <-time.After(2 * time.Second):
		t.Fatal("auto-stop never fired")
	}

	// the stop re-reads the registry
	reg.AssertNumberOfCalls(t, "GetByName", 2)
	assert.Eventually(t, func() bool { return len(pub.Events()) == 2 }, time.Second, 10*time.Millisecond)
	sources := map[string]int{}
	for _, ev := range pub.Events() {
		sources[ev.Source]++
		assert.True(t, ev.Success)
	}
	assert.Equal(t, map[string]int{events.SourceRequest: 1, events.SourceAutoStop: 1}, sources)
}

func TestDispatch_ExplicitStopCancelsAutoStop(t *testing.T) {
	reg := new(MockVMSRegistry)
	prober := new(MockProber)
	reg.On("GetByName", mock.Anything, "vms1").Return(vms1, nil)
	prober.On("Send", mock.Anything, mock.Anything, "cam-7", mock.Anything).
		Return(&vms.Outcome{Method: "GET", Attempts: 1}, nil)

	stops := autostop.New(autostop.Options{Coalesce: true}, zap.NewNop())
	defer stops.Close()
	s := NewService(Deps{VMSRegistry: reg, VMS: prober, AutoStop: stops})

	ctx := context.Background()
	_, err := s.Dispatch(ctx, Request{CameraID: "cam-7", VMSName: "vms1", Direction: "right", EventType: "mousedown", AutoStopMs: 10000})
	require.NoError(t, err)
	assert.Equal(t, 1, stops.Pending())

	_, err = s.Dispatch(ctx, Request{CameraID: "cam-7", VMSName: "vms1", Direction: "right", EventType: "mouseup"})
	require.NoError(t, err)
	assert.Equal(t, 0, stops.Pending())

	// a second stop is harmless
	_, err = s.Dispatch(ctx, Request{CameraID: "cam-7", VMSName: "vms1", Direction: "right", EventType: "mouseup"})
	require.NoError(t, err)
	prober.AssertNumberOfCalls(t, "Send", 3)
}

func TestDispatch_ONVIFWithPackedCredentials(t *testing.T) {
	aps := new(MockAccessPoints)
	ov := new(MockONVIF)
	hw := new(MockHanwha)

	aps.On("Get", mock.Anything, "site-a", "cam-9").Return(&data.AccessPoint{
		MainServiceName: "site-a",
		CameraID:        "cam-9",
		IP:              "192.168.1.64",
		Credentials:     data.PackedCredentials{Username: "operator", Password: "pw", ProfileTokens: []string{"Profile_1", "Profile_2"}},
	}, nil)
	ov.On("Send", mock.Anything, mock.MatchedBy(func(tg adapters.CameraTarget) bool {
		return tg.IP == "192.168.1.64" && tg.Username == "operator" && tg.ProfileToken == "Profile_1"
	}), code(adapters.ZoomIn), time.Duration(0)).Return(onvif.AuthDigest, nil)

	s := NewService(Deps{AccessPoints: aps, ONVIF: ov, Hanwha: hw})
	res, err := s.Dispatch(context.Background(), Request{
		CameraID: "cam-9", MainServiceName: "site-a", Direction: "zoom_in", EventType: "mousedown",
	})

	require.NoError(t, err)
	assert.Equal(t, adapters.ProtocolONVIF, res.Path)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, "auth digest", res.Attempts[0].Diagnostic)
	ov.AssertNotCalled(t, "GetProfileToken", mock.Anything, mock.Anything, mock.Anything)
	hw.AssertNotCalled(t, "Probe", mock.Anything, mock.Anything)
}

func TestDispatch_CameraNotFound(t *testing.T) {
	aps := new(MockAccessPoints)
	ov := new(MockONVIF)
	aps.On("Get", mock.Anything, "site-a", "cam-404").Return(nil, data.ErrAccessPointNotFound)

	s := NewService(Deps{AccessPoints: aps, ONVIF: ov})
	_, err := s.Dispatch(context.Background(), Request{CameraID: "cam-404", MainServiceName: "site-a", Direction: "left", EventType: "mousedown"})

	require.Error(t, err)
	assert.True(t, IsResolution(err))
	ov.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_FallsBackToHanwha(t *testing.T) {
	ov := new(MockONVIF)
	hw := new(MockHanwha)
	ov.On("CachedToken", "10.1.1.20").Return("", false)
	ov.On("GetProfileToken", mock.Anything, "10.1.1.20", onvif.Credentials{Username: "admin", Password: "pw"}).
		Return("", adapters.NewError(adapters.KindTransport, adapters.ProtocolONVIF, "discovery failed", nil))
	hw.On("Probe", mock.Anything, "10.1.1.20").Return(nil)
	hw.On("Send", mock.Anything, mock.Anything, code(adapters.Down)).
		Return(&hanwha.BurstResult{Requests: 3, Accepted: 3, Tilt: -5}, nil)

	s := NewService(Deps{ONVIF: ov, Hanwha: hw})
	res, err := s.Dispatch(context.Background(), Request{
		CameraIP: "10.1.1.20", CameraUser: "admin", CameraPass: "pw", Direction: "down", EventType: "mousedown",
	})

	require.NoError(t, err)
	assert.Equal(t, adapters.ProtocolHanwha, res.Path)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, adapters.ProtocolONVIF, res.Attempts[0].Protocol)
	assert.Equal(t, "3/3 requests accepted", res.Attempts[1].Diagnostic)
	ov.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_Unreachable(t *testing.T) {
	ov := new(MockONVIF)
	hw := new(MockHanwha)
	ov.On("CachedToken", mock.Anything).Return("tok", true)
	ov.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(onvif.AuthScheme(""), adapters.NewError(adapters.KindAuthNegotiation, adapters.ProtocolONVIF, "all schemes rejected", nil))
	hw.On("Probe", mock.Anything, "10.1.1.21").
		Return(adapters.NewError(adapters.KindUnreachable, adapters.ProtocolHanwha, "Hanwha REST unreachable", errors.New("connection refused")))

	s := NewService(Deps{ONVIF: ov, Hanwha: hw})
	res, err := s.Dispatch(context.Background(), Request{
		CameraIP: "10.1.1.21", CameraUser: "admin", CameraPass: "pw", Direction: "left", EventType: "mousedown",
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, adapters.ErrUnreachable))
	assert.Contains(t, err.Error(), "Hanwha REST unreachable")
	assert.False(t, res.Success)
	assert.Len(t, res.Attempts, 2)
	hw.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_RepeatedStops(t *testing.T) {
	ov := new(MockONVIF)
	ov.On("Send", mock.Anything, mock.Anything, code(adapters.Stop), mock.Anything).Return(onvif.AuthBasic, nil)

	s := NewService(Deps{ONVIF: ov})
	for i := 0; i < 3; i++ {
		res, err := s.Dispatch(context.Background(), Request{
			CameraIP: "10.1.1.22", CameraUser: "u", CameraPass: "p", CameraProfileToken: "t",
			Direction: "up", EventType: "mouseup",
		})
		require.NoError(t, err)
		assert.True(t, res.Success)
	}
	ov.AssertNumberOfCalls(t, "Send", 3)
}

// A camera with no ONVIF service but a Hanwha CGI behind Digest auth.
func TestDispatch_HanwhaEndToEnd(t *testing.T) {
	var (
		mu     sync.Mutex
		onvifN int
		burst  []string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case strings.HasPrefix(r.URL.Path, "/onvif/"):
			onvifN++
			http.NotFound(w, r)
		case r.URL.Path == "/stw-cgi/ptzcontrol.cgi":
			if !strings.HasPrefix(r.Header.Get("Authorization"), "Digest ") {
				w.Header().Set("WWW-Authenticate", `Digest realm="iPolis", nonce="abc123", qop="auth"`)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			burst = append(burst, r.URL.RawQuery)
			w.Write([]byte("OK"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	host := strings.TrimPrefix(ts.URL, "http://")
	logger := zap.NewNop()
	s := NewService(Deps{
		ONVIF:  onvif.NewClient(onvif.Config{Timeout: time.Second}, onvif.NewCache(8, time.Minute), logger),
		Hanwha: hanwha.NewClient(hanwha.Config{Tuning: hanwha.Tuning{BurstInterval: 5 * time.Millisecond}}, logger),
		Logger: logger,
	})

	res, err := s.Dispatch(context.Background(), Request{
		CameraIP: host, CameraUser: "admin", CameraPass: "4dm1n!", Direction: "left", EventType: "mousedown",
	})
	require.NoError(t, err)
	assert.Equal(t, adapters.ProtocolHanwha, res.Path)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, onvifN, "GetServices then GetCapabilities")
	require.Len(t, burst, 3)
	for _, q := range burst {
		assert.Equal(t, "msubmenu=relative&action=control&Channel=0&Pan=-5&Tilt=0&Zoom=0", q)
	}
}
