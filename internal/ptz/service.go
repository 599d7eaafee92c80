// Package ptz dispatches operator PTZ events to cameras, either through a VMS
// aggregator or directly over ONVIF with a Hanwha CGI fallback.
package ptz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/technosupport/ts-ptz/internal/data"
	"github.com/technosupport/ts-ptz/internal/events"
	"github.com/technosupport/ts-ptz/internal/metrics"
	"github.com/technosupport/ts-ptz/internal/ptz/adapters"
	"github.com/technosupport/ts-ptz/internal/ptz/adapters/hanwha"
	"github.com/technosupport/ts-ptz/internal/ptz/adapters/onvif"
	"github.com/technosupport/ts-ptz/internal/ptz/adapters/vms"
	"github.com/technosupport/ts-ptz/internal/ptz/autostop"
)

type VMSRegistry interface {
	GetByName(ctx context.Context, name string) (*data.VMSConnectionInfo, error)
}

type AccessPointRegistry interface {
	Get(ctx context.Context, mainServiceName, cameraID string) (*data.AccessPoint, error)
	GetByIP(ctx context.Context, ip string) (*data.AccessPoint, error)
}

type VMSProber interface {
	Send(ctx context.Context, srv vms.Server, cameraID string, cmd adapters.Command) (*vms.Outcome, error)
}

type ONVIFClient interface {
	Send(ctx context.Context, t adapters.CameraTarget, cmd adapters.Command, hold time.Duration) (onvif.AuthScheme, error)
	GetProfileToken(ctx context.Context, host string, cred onvif.Credentials) (string, error)
	CachedToken(host string) (string, bool)
}

type HanwhaClient interface {
	Probe(ctx context.Context, host string) error
	Send(ctx context.Context, t adapters.CameraTarget, cmd adapters.Command) (*hanwha.BurstResult, error)
}

type StopScheduler interface {
	Arm(key string, delay time.Duration, fn autostop.StopFunc) bool
	Cancel(key string) int
	Coalescing() bool
	Pending() int
}

type Deps struct {
	VMSRegistry  VMSRegistry
	AccessPoints AccessPointRegistry
	VMS          VMSProber
	ONVIF        ONVIFClient
	Hanwha       HanwhaClient
	AutoStop     StopScheduler
	Events       events.Publisher
	Logger       *zap.Logger
}

type Service struct {
	vmsRegistry  VMSRegistry
	accessPoints AccessPointRegistry
	vms          VMSProber
	onvif        ONVIFClient
	hanwha       HanwhaClient
	autoStop     StopScheduler
	events       events.Publisher
	logger       *zap.Logger
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Events == nil {
		d.Events = events.NopPublisher{}
	}
	return &Service{
		vmsRegistry:  d.VMSRegistry,
		accessPoints: d.AccessPoints,
		vms:          d.VMS,
		onvif:        d.ONVIF,
		hanwha:       d.Hanwha,
		autoStop:     d.AutoStop,
		events:       d.Events,
		logger:       d.Logger,
	}
}

// Dispatch normalizes the UI event and sends it down the first protocol path
// that accepts it. On a press with autoStopMs set, a stop is armed for the
// same camera. The returned Result is non-nil even on error and lists the
// attempts made.
func (s *Service) Dispatch(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return &Result{}, err
	}
	cmd := adapters.Normalize(req.Direction, req.EventType)
	return s.dispatch(ctx, req, cmd, events.SourceRequest)
}

func (s *Service) dispatch(ctx context.Context, req Request, cmd adapters.Command, source string) (*Result, error) {
	start := time.Now()

	var (
		res    *Result
		target adapters.CameraTarget
		err    error
	)
	if req.VMSName != "" {
		res, target, err = s.dispatchVMS(ctx, req, cmd)
	} else {
		res, target, err = s.dispatchIndependent(ctx, req, cmd)
	}

	elapsed := time.Since(start)
	pathLabel := res.Path
	if pathLabel == "" {
		pathLabel = "none"
	}
	metrics.DispatchTotal.WithLabelValues(pathLabel, metrics.ResultLabel(err)).Inc()
	if err == nil {
		metrics.DispatchDuration.WithLabelValues(pathLabel).Observe(elapsed.Seconds())
	}

	log := s.logger.With(
		zap.String("camera", target.Key()),
		zap.String("code", string(cmd.Code)),
		zap.String("direction", string(cmd.Direction)),
		zap.String("source", source),
		zap.Duration("elapsed", elapsed))
	if err != nil {
		log.Warn("ptz dispatch failed", zap.Error(err))
	} else {
		log.Info("ptz dispatched", zap.String("path", res.Path))
	}

	s.publish(req, cmd, target, res, err, source, elapsed)

	if err == nil && source == events.SourceRequest {
		s.scheduleStop(req, cmd, target)
	}
	return res, err
}

func (s *Service) dispatchVMS(ctx context.Context, req Request, cmd adapters.Command) (*Result, adapters.CameraTarget, error) {
	res := &Result{}
	srv, target, err := s.resolveVMS(ctx, req)
	if err != nil {
		return res, target, err
	}

	out, err := s.vms.Send(ctx, srv, req.CameraID, cmd)
	if err != nil {
		metrics.ProtocolAttempts.WithLabelValues(adapters.ProtocolVMS, metrics.ResultFailure).Inc()
		res.Attempts = append(res.Attempts, adapters.AttemptResult{Protocol: adapters.ProtocolVMS, Diagnostic: err.Error()})
		return res, target, err
	}

	metrics.ProtocolAttempts.WithLabelValues(adapters.ProtocolVMS, metrics.ResultSuccess).Inc()
	metrics.VMSCandidatesTried.Observe(float64(out.Attempts))
	res.Attempts = append(res.Attempts, adapters.AttemptResult{
		Protocol:   adapters.ProtocolVMS,
		Success:    true,
		Diagnostic: fmt.Sprintf("%s %s (%s) after %d requests", out.Method, adapters.RedactURL(out.URL), out.Variant, out.Attempts),
	})
	res.Success, res.Path = true, adapters.ProtocolVMS
	return res, target, nil
}

func (s *Service) dispatchIndependent(ctx context.Context, req Request, cmd adapters.Command) (*Result, adapters.CameraTarget, error) {
	res := &Result{}
	target, err := s.resolveIndependent(ctx, req)
	if err != nil {
		return res, target, err
	}
	host := target.Host()

	onvifErr := s.tryONVIF(ctx, req, cmd, &target, res)
	if onvifErr == nil {
		res.Success, res.Path = true, adapters.ProtocolONVIF
		return res, target, nil
	}

	s.logger.Info("onvif failed, probing hanwha",
		zap.String("host", host),
		zap.String("kind", string(adapters.KindOf(onvifErr))),
		zap.Error(onvifErr))

	if s.hanwha == nil {
		return res, target, adapters.NewError(adapters.KindUnreachable, adapters.ProtocolHanwha, "Hanwha REST unreachable", onvifErr)
	}
	if err := s.hanwha.Probe(ctx, host); err != nil {
		metrics.ProtocolAttempts.WithLabelValues(adapters.ProtocolHanwha, metrics.ResultFailure).Inc()
		res.Attempts = append(res.Attempts, adapters.AttemptResult{Protocol: adapters.ProtocolHanwha, Diagnostic: err.Error()})
		return res, target, err
	}

	burst, err := s.hanwha.Send(ctx, target, cmd)
	if burst != nil {
		metrics.HanwhaBurstRequests.WithLabelValues(metrics.ResultSuccess).Add(float64(burst.Accepted))
		metrics.HanwhaBurstRequests.WithLabelValues(metrics.ResultFailure).Add(float64(burst.Requests - burst.Accepted))
	}
	if err != nil {
		metrics.ProtocolAttempts.WithLabelValues(adapters.ProtocolHanwha, metrics.ResultFailure).Inc()
		res.Attempts = append(res.Attempts, adapters.AttemptResult{Protocol: adapters.ProtocolHanwha, Diagnostic: err.Error()})
		return res, target, err
	}

	metrics.ProtocolAttempts.WithLabelValues(adapters.ProtocolHanwha, metrics.ResultSuccess).Inc()
	res.Attempts = append(res.Attempts, adapters.AttemptResult{
		Protocol:   adapters.ProtocolHanwha,
		Success:    true,
		Diagnostic: fmt.Sprintf("%d/%d requests accepted", burst.Accepted, burst.Requests),
	})
	res.Success, res.Path = true, adapters.ProtocolHanwha
	return res, target, nil
}

// tryONVIF discovers a profile token if needed and sends the command. Any
// returned error makes the caller fall back to Hanwha.
func (s *Service) tryONVIF(ctx context.Context, req Request, cmd adapters.Command, target *adapters.CameraTarget, res *Result) error {
	if s.onvif == nil {
		return adapters.NewError(adapters.KindTransport, adapters.ProtocolONVIF, "onvif disabled", nil)
	}

	if target.ProfileToken == "" {
		token, err := s.onvif.GetProfileToken(ctx, target.Host(), onvif.Credentials{Username: target.Username, Password: target.Password})
		if err != nil {
			metrics.ProtocolAttempts.WithLabelValues(adapters.ProtocolONVIF, metrics.ResultFailure).Inc()
			res.Attempts = append(res.Attempts, adapters.AttemptResult{Protocol: adapters.ProtocolONVIF, Diagnostic: "profile discovery: " + err.Error()})
			return err
		}
		target.ProfileToken = token
	}

	scheme, err := s.onvif.Send(ctx, *target, cmd, req.HoldTimeout())
	if err != nil {
		metrics.ProtocolAttempts.WithLabelValues(adapters.ProtocolONVIF, metrics.ResultFailure).Inc()
		res.Attempts = append(res.Attempts, adapters.AttemptResult{Protocol: adapters.ProtocolONVIF, Diagnostic: err.Error()})
		return err
	}

	metrics.ProtocolAttempts.WithLabelValues(adapters.ProtocolONVIF, metrics.ResultSuccess).Inc()
	metrics.ONVIFAuthScheme.WithLabelValues(string(scheme)).Inc()
	res.Attempts = append(res.Attempts, adapters.AttemptResult{Protocol: adapters.ProtocolONVIF, Success: true, Diagnostic: "auth " + string(scheme)})
	return nil
}

// scheduleStop arms the auto-stop for a press, and drops pending ones on an
// explicit stop when coalescing.
func (s *Service) scheduleStop(req Request, cmd adapters.Command, target adapters.CameraTarget) {
	if s.autoStop == nil {
		return
	}
	key := target.Key()
	defer func() { metrics.AutoStopPending.Set(float64(s.autoStop.Pending())) }()

	if cmd.IsStop() {
		if s.autoStop.Coalescing() {
			s.autoStop.Cancel(key)
		}
		return
	}
	if !cmd.IsPress || req.AutoStopMs <= 0 {
		return
	}

	// Pin the resolved address so the stop reaches the same device.
	stopReq := req
	if !target.VMSRouted() {
		stopReq.CameraIP = target.Host()
		stopReq.CameraUser = target.Username
		stopReq.CameraPass = target.Password
		stopReq.CameraProfileToken = target.ProfileToken
	}
	stop := cmd.AsStop()
	s.autoStop.Arm(key, time.Duration(req.AutoStopMs)*time.Millisecond, func(ctx context.Context) error {
		_, err := s.dispatch(ctx, stopReq, stop, events.SourceAutoStop)
		return err
	})
}

func (s *Service) publish(req Request, cmd adapters.Command, target adapters.CameraTarget, res *Result, err error, source string, elapsed time.Duration) {
	ev := &events.CommandEvent{
		Source:     source,
		CameraKey:  target.Key(),
		CameraID:   req.CameraID,
		VMSName:    req.VMSName,
		Code:       string(cmd.Code),
		Direction:  string(cmd.Direction),
		IsPress:    cmd.IsPress,
		Path:       res.Path,
		Success:    err == nil,
		DurationMs: elapsed.Milliseconds(),
	}
	if err != nil {
		ev.Error = err.Error()
		ev.ErrorKind = string(adapters.KindOf(err))
	}

	go func() {
		if perr := s.events.Publish(ev); perr != nil {
			metrics.EventPublishFailures.Inc()
			s.logger.Warn("ptz event publish failed", zap.Error(perr))
		}
	}()
}

// IsResolution reports whether err means the camera or VMS record is missing.
func IsResolution(err error) bool {
	return errors.Is(err, adapters.ErrResolution)
}
