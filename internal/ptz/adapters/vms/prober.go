package vms

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/technosupport/ts-ptz/internal/ptz/adapters"
)

const (
	DefaultTimeout = 3 * time.Second
	DefaultSpeed   = 0.5
)

// Statuses that suggest the VMS wants a different verb or body for the same path.
var retryWithPostStatuses = map[int]bool{
	http.StatusBadRequest:           true,
	http.StatusNotFound:             true,
	http.StatusMethodNotAllowed:     true,
	http.StatusUnsupportedMediaType: true,
	http.StatusInternalServerError:  true,
}

type Config struct {
	Timeout time.Duration
	Speed   float64
}

// Outcome describes the attempt that the VMS accepted.
type Outcome struct {
	Method   string
	URL      string
	Variant  string
	Status   int
	Attempts int
}

// Prober walks the candidate table against one VMS until a request is accepted.
type Prober struct {
	cfg    Config
	client *resty.Client
	logger *zap.Logger

	mu    sync.RWMutex
	speed float64
}

func NewProber(cfg Config, logger *zap.Logger) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Speed <= 0 {
		cfg.Speed = DefaultSpeed
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) // on-prem VMS use self-signed certs
	return &Prober{cfg: cfg, client: client, logger: logger, speed: cfg.Speed}
}

// Speed is the telemetry speed used for non-stop commands.
func (p *Prober) Speed() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.speed
}

func (p *Prober) SetSpeed(speed float64) {
	if speed <= 0 {
		speed = DefaultSpeed
	}
	p.mu.Lock()
	p.speed = speed
	p.mu.Unlock()
}

// Send issues cmd for cameraID through srv. It returns an ExhaustionError
// carrying the last status and body if no candidate is accepted.
func (p *Prober) Send(ctx context.Context, srv Server, cameraID string, cmd adapters.Command) (*Outcome, error) {
	base := BaseURL(srv)
	candidates := BuildCandidates(srv, cameraID, cmd, p.Speed())

	var (
		attempts   int
		lastStatus int
		lastBody   []byte
		lastErr    error
	)

	for _, c := range candidates {
		for _, method := range []string{"GET", "POST_FORM", "POST_JSON"} {
			attempts++
			resp, err := p.do(ctx, srv, base+c.Path, method, c)
			if err != nil {
				lastErr = err
				p.logger.Debug("vms attempt failed",
					zap.String("method", method),
					zap.String("url", adapters.RedactURL(c.URL(base))),
					zap.Error(err))
				if ctx.Err() != nil {
					return nil, adapters.NewError(adapters.KindExhaustion, adapters.ProtocolVMS, "VMS PTZ endpoints rejected", ctx.Err())
				}
				break
			}

			status := resp.StatusCode()
			lastStatus, lastBody, lastErr = status, resp.Body(), nil
			p.logger.Debug("vms attempt",
				zap.String("method", method),
				zap.String("url", adapters.RedactURL(c.URL(base))),
				zap.String("variant", c.Variant),
				zap.Int("status", status))

			if status >= 200 && status < 300 {
				return &Outcome{
					Method:   method,
					URL:      c.URL(base),
					Variant:  c.Variant,
					Status:   status,
					Attempts: attempts,
				}, nil
			}
			if !retryWithPostStatuses[status] {
				break
			}
		}
	}

	if lastStatus == 0 {
		return nil, adapters.NewError(adapters.KindExhaustion, adapters.ProtocolVMS, "VMS PTZ endpoints rejected", lastErr)
	}
	return nil, adapters.NewStatusError(adapters.KindExhaustion, adapters.ProtocolVMS, "VMS PTZ endpoints rejected", lastStatus, lastBody)
}

func (p *Prober) do(ctx context.Context, srv Server, endpoint, method string, c Candidate) (*resty.Response, error) {
	req := p.client.R().
		SetContext(ctx).
		SetBasicAuth(srv.Username, srv.Password)

	switch method {
	case "POST_FORM":
		return req.SetFormDataFromValues(c.Query).Post(endpoint)
	case "POST_JSON":
		body := make(map[string]string, len(c.Query))
		for k := range c.Query {
			body[k] = c.Query.Get(k)
		}
		return req.SetHeader("Content-Type", "application/json").SetBody(body).Post(endpoint)
	default:
		return req.SetQueryParamsFromValues(c.Query).Get(endpoint)
	}
}
