package adapters

import (
	"fmt"
	"net"
	"strconv"
)

// Protocol names used in attempt results, metrics and the dispatch result.
const (
	ProtocolVMS    = "vms"
	ProtocolONVIF  = "onvif"
	ProtocolHanwha = "hanwha"
)

// CameraTarget identifies the device a command is for.
// Exactly one routing mode is active: VMSName set means VMS-routed,
// otherwise the camera is addressed directly by IP.
type CameraTarget struct {
	CameraID string

	// VMS-routed
	VMSName string

	// Independent
	IP           string
	Port         int
	Username     string
	Password     string
	ProfileToken string
}

// VMSRouted reports whether the target goes through a VMS aggregator.
func (t CameraTarget) VMSRouted() bool {
	return t.VMSName != ""
}

// Host returns ip[:port] for independent cameras.
func (t CameraTarget) Host() string {
	if t.Port == 0 || t.Port == 80 {
		return t.IP
	}
	return net.JoinHostPort(t.IP, strconv.Itoa(t.Port))
}

// Key is the identity used for auto-stop bookkeeping and caches.
func (t CameraTarget) Key() string {
	if t.VMSRouted() {
		return fmt.Sprintf("vms:%s:%s", t.VMSName, t.CameraID)
	}
	return fmt.Sprintf("ip:%s", t.Host())
}

// AttemptResult records one protocol attempt in fallback order.
type AttemptResult struct {
	Protocol   string `json:"protocol"`
	Success    bool   `json:"success"`
	Diagnostic string `json:"diagnostic,omitempty"`
}
