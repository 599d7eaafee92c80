package onvif

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/icholy/digest"
	"go.uber.org/zap"

	"github.com/technosupport/ts-ptz/internal/ptz/adapters"
)

// AuthScheme is one of the authentication modes tried against a device.
type AuthScheme string

const (
	AuthDigest     AuthScheme = "digest"
	AuthBasic      AuthScheme = "basic"
	AuthWSSecurity AuthScheme = "ws-security"
)

// Negotiation order. Only a 401 advances to the next scheme.
var authOrder = []AuthScheme{AuthDigest, AuthBasic, AuthWSSecurity}

const (
	DefaultTimeout     = 5 * time.Second
	DefaultSpeed       = 0.04
	DefaultMoveTimeout = 2 * time.Second
	maxResponseBytes   = 1 << 20
)

type Config struct {
	Timeout     time.Duration
	Speed       float64
	MoveTimeout time.Duration
}

type Credentials struct {
	Username string
	Password string
}

// Client speaks ONVIF SOAP 1.2 to independent cameras.
type Client struct {
	cfg    Config
	http   *http.Client
	cache  *Cache
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	speed float64
}

func NewClient(cfg Config, cache *Cache, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Speed <= 0 {
		cfg.Speed = DefaultSpeed
	}
	if cfg.MoveTimeout <= 0 {
		cfg.MoveTimeout = DefaultMoveTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		cache:  cache,
		logger: logger,
		now:    time.Now,
		speed:  cfg.Speed,
	}
}

// Speed is the ContinuousMove velocity magnitude before clamping.
func (c *Client) Speed() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.speed
}

func (c *Client) SetSpeed(speed float64) {
	if speed <= 0 {
		speed = DefaultSpeed
	}
	c.mu.Lock()
	c.speed = speed
	c.mu.Unlock()
}

// CachedToken returns a previously discovered profile token for host.
func (c *Client) CachedToken(host string) (string, bool) {
	e, ok := c.cache.Get(host)
	if !ok || e.ProfileToken == "" {
		return "", false
	}
	return e.ProfileToken, true
}

// Call posts one SOAP operation to endpoint, negotiating authentication.
// It returns the response body and the scheme that was accepted.
func (c *Client) Call(ctx context.Context, endpoint, op, body string, cred Credentials) ([]byte, AuthScheme, error) {
	var (
		lastStatus int
		lastBody   []byte
	)
	for _, scheme := range authOrder {
		status, respBody, err := c.attempt(ctx, endpoint, op, body, scheme, cred)
		if err != nil {
			c.logger.Debug("onvif attempt failed",
				zap.String("op", op),
				zap.String("scheme", string(scheme)),
				zap.String("endpoint", adapters.RedactURL(endpoint)),
				zap.Error(err))
			return nil, scheme, adapters.NewError(adapters.KindTransport, adapters.ProtocolONVIF, op+" request failed", err)
		}

		c.logger.Debug("onvif attempt",
			zap.String("op", op),
			zap.String("scheme", string(scheme)),
			zap.String("endpoint", adapters.RedactURL(endpoint)),
			zap.Int("status", status))

		switch {
		case status >= 200 && status < 300:
			return respBody, scheme, nil
		case status == http.StatusUnauthorized:
			lastStatus, lastBody = status, respBody
			continue
		default:
			return nil, scheme, adapters.NewStatusError(adapters.KindTransport, adapters.ProtocolONVIF, op+" rejected", status, respBody)
		}
	}
	return nil, "", adapters.NewStatusError(adapters.KindAuthNegotiation, adapters.ProtocolONVIF, "all authentication modes rejected", lastStatus, lastBody)
}

func (c *Client) attempt(ctx context.Context, endpoint, op, body string, scheme AuthScheme, cred Credentials) (int, []byte, error) {
	var payload string
	if scheme == AuthWSSecurity {
		payload = Envelope(body, cred.Username, cred.Password, c.now())
	} else {
		payload = Envelope(body, "", "", c.now())
	}

	resp, err := c.post(ctx, endpoint, op, payload, func(r *http.Request) {
		if scheme == AuthBasic {
			r.SetBasicAuth(cred.Username, cred.Password)
		}
	})
	if err != nil {
		return 0, nil, err
	}
	respBody, err := readBody(resp)
	if err != nil {
		return 0, nil, err
	}

	if scheme != AuthDigest || resp.StatusCode != http.StatusUnauthorized {
		return resp.StatusCode, respBody, nil
	}

	// Digest needs the server's challenge; without one there is nothing to answer.
	chal, err := digest.FindChallenge(resp.Header)
	if err != nil {
		return resp.StatusCode, respBody, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return 0, nil, err
	}
	creds, err := digest.Digest(chal, digest.Options{
		Method:   http.MethodPost,
		URI:      u.RequestURI(),
		Username: cred.Username,
		Password: cred.Password,
		Count:    1,
	})
	if err != nil {
		return 0, nil, fmt.Errorf("digest: %w", err)
	}

	resp, err = c.post(ctx, endpoint, op, payload, func(r *http.Request) {
		r.Header.Set("Authorization", creds.String())
	})
	if err != nil {
		return 0, nil, err
	}
	respBody, err = readBody(resp)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func (c *Client) post(ctx context.Context, endpoint, op, payload string, decorate func(*http.Request)) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload))
	if err != nil {
		cancel()
		return nil, err
	}
	action := SOAPAction(op)
	req.Header.Set("Content-Type", fmt.Sprintf(`application/soap+xml; charset=utf-8; action="%s"`, action))
	req.Header.Set("SOAPAction", action)
	decorate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

// DiscoverServices asks the device for its service list, falling back to
// GetCapabilities for devices that return nothing from GetServices.
func (c *Client) DiscoverServices(ctx context.Context, host string, cred Credentials) ([]Service, error) {
	endpoint := DeviceServiceURL(host)

	body, _, err := c.Call(ctx, endpoint, ActionGetServices, getServicesBody(), cred)
	var services []Service
	if err == nil {
		services, err = NormalizeServices(body)
	}
	if err != nil || len(services) == 0 {
		c.logger.Debug("GetServices empty, trying GetCapabilities", zap.String("host", host), zap.Error(err))
		capsBody, _, capsErr := c.Call(ctx, endpoint, ActionGetCapabilities, getCapabilitiesBody(), cred)
		if capsErr != nil {
			return nil, capsErr
		}
		services, err = NormalizeServices(capsBody)
		if err != nil {
			return nil, adapters.NewError(adapters.KindTransport, adapters.ProtocolONVIF, "bad capabilities response", err)
		}
	}

	for i := range services {
		services[i].Address = ResolveAddress(host, services[i].Address)
	}
	return services, nil
}

// Endpoints returns the PTZ and media service addresses for host, from the
// cache when possible.
func (c *Client) Endpoints(ctx context.Context, host string, cred Credentials) (Entry, error) {
	if e, ok := c.cache.Get(host); ok && e.PTZAddress != "" {
		return e, nil
	}

	services, err := c.DiscoverServices(ctx, host, cred)
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if s, ok := FindService(services, "ptz"); ok {
		e.PTZAddress = s.Address
	}
	if s, ok := FindService(services, "media"); ok {
		e.MediaAddress = s.Address
	}
	if e.PTZAddress == "" {
		return Entry{}, adapters.NewError(adapters.KindTransport, adapters.ProtocolONVIF, "device does not advertise a PTZ service", nil)
	}
	c.cache.Put(host, e)
	if cached, ok := c.cache.Get(host); ok {
		e = cached
	}
	return e, nil
}

// GetProfileToken returns the first media profile token of the device.
func (c *Client) GetProfileToken(ctx context.Context, host string, cred Credentials) (string, error) {
	if e, ok := c.cache.Get(host); ok && e.ProfileToken != "" {
		return e.ProfileToken, nil
	}

	e, err := c.Endpoints(ctx, host, cred)
	if err != nil {
		return "", err
	}
	if e.MediaAddress == "" {
		return "", adapters.NewError(adapters.KindTransport, adapters.ProtocolONVIF, "device does not advertise a media service", nil)
	}

	body, _, err := c.Call(ctx, e.MediaAddress, ActionGetProfiles, getProfilesBody(), cred)
	if err != nil {
		return "", err
	}
	token, err := parseFirstProfileToken(body)
	if err != nil {
		return "", adapters.NewError(adapters.KindTransport, adapters.ProtocolONVIF, "no media profile", err)
	}
	c.cache.Put(host, Entry{ProfileToken: token})
	return token, nil
}

func parseFirstProfileToken(body []byte) (string, error) {
	var parsed struct {
		Body struct {
			GetProfilesResponse struct {
				Profiles []struct {
					Token string `xml:"token,attr"`
				} `xml:"Profiles"`
			} `xml:"GetProfilesResponse"`
		}
	}
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	for _, p := range parsed.Body.GetProfilesResponse.Profiles {
		if p.Token != "" {
			return p.Token, nil
		}
	}
	return "", errors.New("GetProfiles returned no tokens")
}

// Send issues ContinuousMove or Stop for cmd. hold overrides the configured
// move timeout when positive.
func (c *Client) Send(ctx context.Context, t adapters.CameraTarget, cmd adapters.Command, hold time.Duration) (AuthScheme, error) {
	if t.ProfileToken == "" {
		return "", adapters.NewError(adapters.KindTransport, adapters.ProtocolONVIF, "no profile token", nil)
	}
	cred := Credentials{Username: t.Username, Password: t.Password}
	host := t.Host()

	e, err := c.Endpoints(ctx, host, cred)
	if err != nil {
		return "", err
	}

	op, body := ActionStop, StopBody(t.ProfileToken)
	if !cmd.IsStop() {
		if hold <= 0 {
			hold = c.cfg.MoveTimeout
		}
		pan, tilt, zoom := cmd.Velocity(c.Speed())
		op, body = ActionContinuousMove, ContinuousMoveBody(t.ProfileToken, pan, tilt, zoom, hold)
	}

	_, scheme, err := c.Call(ctx, e.PTZAddress, op, body, cred)
	if err != nil {
		if adapters.KindOf(err) == adapters.KindTransport {
			c.cache.Invalidate(host)
		}
		return "", err
	}
	return scheme, nil
}
