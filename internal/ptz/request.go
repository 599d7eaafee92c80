package ptz

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/technosupport/ts-ptz/internal/ptz/adapters"
)

var ErrInvalidRequest = errors.New("invalid ptz request")

// Request is the control input as posted by the operator UI.
type Request struct {
	CameraID           string  `json:"cameraId"`
	Direction          string  `json:"direction"`
	EventType          string  `json:"eventType"`
	VMSName            string  `json:"vmsName,omitempty"`
	MainServiceName    string  `json:"mainServiceName"`
	CameraIP           string  `json:"cameraIp,omitempty"`
	CameraUser         string  `json:"cameraUser,omitempty"`
	CameraPass         string  `json:"cameraPass,omitempty"`
	CameraProfileToken string  `json:"cameraProfileToken,omitempty"`
	AutoStopMs         int     `json:"autoStopMs,omitempty"`
	HoldTimeoutSec     float64 `json:"holdTimeoutSec,omitempty"`
}

// Result is returned for every dispatch. Attempts lists the protocol
// branches in the order they were tried.
type Result struct {
	Success  bool                     `json:"success"`
	Path     string                   `json:"path,omitempty"`
	Attempts []adapters.AttemptResult `json:"attempts,omitempty"`
}

func (r Request) Validate() error {
	if r.VMSName != "" && strings.TrimSpace(r.CameraID) == "" {
		return fmt.Errorf("%w: cameraId is required for VMS cameras", ErrInvalidRequest)
	}
	if r.VMSName == "" && r.CameraIP == "" && (r.CameraID == "" || r.MainServiceName == "") {
		return fmt.Errorf("%w: cameraIp or mainServiceName and cameraId are required", ErrInvalidRequest)
	}
	if r.AutoStopMs < 0 {
		return fmt.Errorf("%w: autoStopMs must not be negative", ErrInvalidRequest)
	}
	if r.HoldTimeoutSec < 0 {
		return fmt.Errorf("%w: holdTimeoutSec must not be negative", ErrInvalidRequest)
	}
	return nil
}

// HoldTimeout is the ContinuousMove timeout the caller asked for, zero if none.
func (r Request) HoldTimeout() time.Duration {
	return time.Duration(r.HoldTimeoutSec * float64(time.Second))
}

// LimitKey identifies the camera before any registry lookup, for rate limiting.
func (r Request) LimitKey() string {
	switch {
	case r.VMSName != "":
		return "vms:" + strings.ToLower(r.VMSName) + ":" + r.CameraID
	case r.CameraIP != "":
		ip, _ := splitCameraAddress(r.CameraIP)
		return "ip:" + ip
	default:
		return "ap:" + r.MainServiceName + ":" + r.CameraID
	}
}

// splitCameraAddress accepts "ip" or "ip:port".
func splitCameraAddress(addr string) (string, int) {
	addr = strings.TrimSpace(addr)
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.Trim(addr, "[]"), 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}
