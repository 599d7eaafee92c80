package hanwha

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/icholy/digest"
	"go.uber.org/zap"

	"github.com/technosupport/ts-ptz/internal/ptz/adapters"
)

const (
	DefaultProbeTimeout  = 1500 * time.Millisecond
	DefaultTimeout       = 3 * time.Second
	DefaultBurstCount    = 3
	DefaultBurstInterval = 100 * time.Millisecond
	DefaultPanStep       = 5
	DefaultTiltStep      = 5
	DefaultZoomStep      = 1

	controlPath = "/stw-cgi/ptzcontrol.cgi"
)

// Tuning holds the hot-reloadable knobs of the burst emulation.
type Tuning struct {
	PanStep       float64
	TiltStep      float64
	ZoomStep      float64
	InvertPan     bool
	BurstCount    int
	BurstInterval time.Duration
}

func (t Tuning) withDefaults() Tuning {
	if t.PanStep <= 0 {
		t.PanStep = DefaultPanStep
	}
	if t.TiltStep <= 0 {
		t.TiltStep = DefaultTiltStep
	}
	if t.ZoomStep <= 0 {
		t.ZoomStep = DefaultZoomStep
	}
	if t.BurstCount <= 0 {
		t.BurstCount = DefaultBurstCount
	}
	if t.BurstInterval < 0 {
		t.BurstInterval = 0
	}
	return t
}

type Config struct {
	Channel      int
	ProbeTimeout time.Duration
	Timeout      time.Duration
	Tuning       Tuning
}

// BurstResult reports how many requests of a burst the camera accepted.
type BurstResult struct {
	Requests int
	Accepted int
	Pan      float64
	Tilt     float64
	Zoom     float64
}

// Client drives Hanwha (Wisenet) cameras through the SUNAPI relative-move CGI.
// The CGI has no continuous primitive, so motion is emulated by short bursts.
type Client struct {
	cfg       Config
	transport *http.Transport
	probe     *http.Client
	logger    *zap.Logger

	mu     sync.RWMutex
	tuning Tuning
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		cfg:       cfg,
		transport: transport,
		probe:     &http.Client{Timeout: cfg.ProbeTimeout, Transport: transport},
		logger:    logger,
		tuning:    cfg.Tuning.withDefaults(),
	}
}

// SetTuning swaps the burst and step settings.
func (c *Client) SetTuning(t Tuning) {
	c.mu.Lock()
	c.tuning = t.withDefaults()
	c.mu.Unlock()
}

func (c *Client) Tuning() Tuning {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tuning
}

// ControlURL builds the relative-move request for host.
func (c *Client) ControlURL(host string, pan, tilt, zoom float64) string {
	return fmt.Sprintf("http://%s%s?msubmenu=relative&action=control&Channel=%d&Pan=%s&Tilt=%s&Zoom=%s",
		host, controlPath, c.cfg.Channel, formatFloat(pan), formatFloat(tilt), formatFloat(zoom))
}

// Vector translates cmd into a relative displacement. Stop is the zero vector.
func (c *Client) Vector(cmd adapters.Command) (pan, tilt, zoom float64) {
	t := c.Tuning()
	switch cmd.Code {
	case adapters.Left:
		pan = -t.PanStep
	case adapters.Right:
		pan = t.PanStep
	case adapters.Up:
		tilt = t.TiltStep
	case adapters.Down:
		tilt = -t.TiltStep
	case adapters.ZoomIn:
		zoom = t.ZoomStep
	case adapters.ZoomOut:
		zoom = -t.ZoomStep
	}
	if t.InvertPan && pan != 0 {
		pan = -pan
	}
	return pan, tilt, zoom
}

// Probe sends one unauthenticated zero-displacement request. Any HTTP
// response, including 401, means the CGI is there; only a network failure
// makes the camera unreachable.
func (c *Client) Probe(ctx context.Context, host string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ControlURL(host, 0, 0, 0), nil)
	if err != nil {
		return adapters.NewError(adapters.KindUnreachable, adapters.ProtocolHanwha, "Hanwha REST unreachable", err)
	}
	resp, err := c.probe.Do(req)
	if err != nil {
		return adapters.NewError(adapters.KindUnreachable, adapters.ProtocolHanwha, "Hanwha REST unreachable", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	c.logger.Debug("hanwha probe", zap.String("host", host), zap.Int("status", resp.StatusCode))
	return nil
}

// Send issues the burst for cmd: one request for stop, BurstCount otherwise,
// all with the same vector. Individual failures are logged and the burst
// continues; it only fails when no request was accepted.
func (c *Client) Send(ctx context.Context, t adapters.CameraTarget, cmd adapters.Command) (*BurstResult, error) {
	tuning := c.Tuning()
	pan, tilt, zoom := c.Vector(cmd)
	target := c.ControlURL(t.Host(), pan, tilt, zoom)

	httpClient := &http.Client{
		Timeout: c.cfg.Timeout,
		Transport: &digest.Transport{
			Username:  t.Username,
			Password:  t.Password,
			Transport: c.transport,
		},
	}

	n := tuning.BurstCount
	if cmd.IsStop() {
		n = 1
	}

	res := &BurstResult{Requests: n, Pan: pan, Tilt: tilt, Zoom: zoom}
	var (
		lastStatus int
		lastBody   []byte
		lastErr    error
	)
	for i := 0; i < n; i++ {
		if i > 0 && tuning.BurstInterval > 0 {
			select {
			case <-ctx.Done():
				return res, adapters.NewError(adapters.KindTransport, adapters.ProtocolHanwha, "burst interrupted", ctx.Err())
			case <-time.After(tuning.BurstInterval):
			}
		}

		status, body, err := c.get(ctx, httpClient, target)
		if err != nil {
			lastErr = err
			c.logger.Warn("hanwha request failed",
				zap.String("url", adapters.RedactURL(target)),
				zap.Int("seq", i+1),
				zap.Error(err))
			continue
		}
		lastStatus, lastBody = status, body
		if status < 200 || status >= 300 {
			c.logger.Warn("hanwha request rejected",
				zap.String("url", adapters.RedactURL(target)),
				zap.Int("seq", i+1),
				zap.Int("status", status),
				zap.String("body", adapters.Snippet(body)))
			continue
		}
		res.Accepted++
	}

	c.logger.Debug("hanwha burst",
		zap.String("host", t.Host()),
		zap.Int("requests", res.Requests),
		zap.Int("accepted", res.Accepted))

	if res.Accepted == 0 {
		if lastStatus != 0 {
			return res, adapters.NewStatusError(adapters.KindTransport, adapters.ProtocolHanwha, "burst rejected", lastStatus, lastBody)
		}
		return res, adapters.NewError(adapters.KindTransport, adapters.ProtocolHanwha, "burst failed", lastErr)
	}
	return res, nil
}

func (c *Client) get(ctx context.Context, httpClient *http.Client, target string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, adapters.MaxBodySnippet*4))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
