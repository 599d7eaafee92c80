package ptz

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/technosupport/ts-ptz/internal/data"
	"github.com/technosupport/ts-ptz/internal/ptz/adapters"
	"github.com/technosupport/ts-ptz/internal/ptz/adapters/vms"
)

// resolveVMS reads the VMS connection info fresh from the registry.
func (s *Service) resolveVMS(ctx context.Context, req Request) (vms.Server, adapters.CameraTarget, error) {
	target := adapters.CameraTarget{CameraID: req.CameraID, VMSName: req.VMSName}
	if s.vmsRegistry == nil {
		return vms.Server{}, target, adapters.NewError(adapters.KindResolution, adapters.ProtocolVMS, "VMS info not found", data.ErrVMSNotFound)
	}

	info, err := s.vmsRegistry.GetByName(ctx, req.VMSName)
	if err != nil {
		if errors.Is(err, data.ErrVMSNotFound) {
			return vms.Server{}, target, adapters.NewError(adapters.KindResolution, adapters.ProtocolVMS, "VMS info not found", err)
		}
		return vms.Server{}, target, err
	}

	return vms.Server{
		Name:     info.Name,
		IP:       info.IP,
		Port:     info.Port,
		UseHTTPS: info.UseHTTPS,
		Username: info.Username,
		Password: info.Password,
	}, target, nil
}

// resolveIndependent fills address, credentials and profile token for a
// directly addressed camera. Request fields win over the registry; the
// token falls back to the registry, then the discovery cache.
func (s *Service) resolveIndependent(ctx context.Context, req Request) (adapters.CameraTarget, error) {
	ip, port := splitCameraAddress(req.CameraIP)
	t := adapters.CameraTarget{
		CameraID:     req.CameraID,
		IP:           ip,
		Port:         port,
		Username:     req.CameraUser,
		Password:     req.CameraPass,
		ProfileToken: req.CameraProfileToken,
	}

	needRegistry := t.IP == "" || t.Username == ""
	if needRegistry || t.ProfileToken == "" {
		if err := s.fillFromRegistry(ctx, req, &t, needRegistry); err != nil {
			return t, err
		}
	}

	if t.ProfileToken == "" && s.onvif != nil {
		if tok, ok := s.onvif.CachedToken(t.Host()); ok {
			t.ProfileToken = tok
		}
	}
	return t, nil
}

func (s *Service) fillFromRegistry(ctx context.Context, req Request, t *adapters.CameraTarget, needRegistry bool) error {
	ap, err := s.lookupAccessPoint(ctx, req, t.IP)
	switch {
	case err == nil:
		if t.IP == "" {
			t.IP, t.Port = ap.IP, ap.Port
		}
		if t.Username == "" {
			t.Username = ap.Credentials.Username
			t.Password = ap.Credentials.Password
		}
		if t.ProfileToken == "" {
			t.ProfileToken = ap.Credentials.Token()
		}
	case needRegistry && errors.Is(err, data.ErrAccessPointNotFound):
		if t.IP == "" {
			return adapters.NewError(adapters.KindResolution, adapters.ProtocolONVIF, "camera not found", err)
		}
		// an address without credentials is still worth a try
		s.logger.Info("no registry credentials for camera", zap.String("ip", t.IP))
	case needRegistry:
		return err
	default:
		s.logger.Debug("registry token lookup failed", zap.String("ip", t.IP), zap.Error(err))
	}
	return nil
}

func (s *Service) lookupAccessPoint(ctx context.Context, req Request, ip string) (*data.AccessPoint, error) {
	if s.accessPoints == nil {
		return nil, data.ErrAccessPointNotFound
	}
	if req.MainServiceName != "" && req.CameraID != "" {
		ap, err := s.accessPoints.Get(ctx, req.MainServiceName, req.CameraID)
		if err == nil || ip == "" || !errors.Is(err, data.ErrAccessPointNotFound) {
			return ap, err
		}
	}
	if ip != "" {
		return s.accessPoints.GetByIP(ctx, ip)
	}
	return nil, data.ErrAccessPointNotFound
}
