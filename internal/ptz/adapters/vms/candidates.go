package vms

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/technosupport/ts-ptz/internal/ptz/adapters"
)

// Server is the connection info of a VMS aggregator.
type Server struct {
	Name     string
	IP       string
	Port     int
	UseHTTPS bool
	Username string
	Password string
}

// Query variant names, in probing order.
const (
	VariantFull          = "full"
	VariantNoSessionID   = "no_session_id"
	VariantNoMode        = "no_mode"
	continuousMode       = "continuous"
	defaultSessionID     = "0"
	telemetryControl     = "TelemetryControl"
	telemetryControlZero = "TelemetryControl.0"
)

// Candidate is one path/query combination to try against the VMS.
type Candidate struct {
	Path    string
	Query   url.Values
	Variant string
}

// URL joins the candidate onto a base URL, with the query string.
func (c Candidate) URL(base string) string {
	if len(c.Query) == 0 {
		return base + c.Path
	}
	return base + c.Path + "?" + c.Query.Encode()
}

type deviceForm struct {
	segment       string
	trailingSlash bool
}

// BaseURL uses https only for port 443 or when the server is flagged for it.
func BaseURL(s Server) string {
	scheme := "http"
	if s.Port == 443 || s.UseHTTPS {
		scheme = "https"
	}
	if s.Port == 0 {
		return fmt.Sprintf("%s://%s", scheme, s.IP)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, s.IP, s.Port)
}

// Operation picks the telemetry endpoint. Stops follow the prior direction.
func Operation(cmd adapters.Command) string {
	if cmd.IsZoom() {
		return "zoom"
	}
	return "move"
}

// BuildPaths returns the ordered path variants for one camera:
// device form x {vms-prefixed, unprefixed} x {default, /openapi} x {no slash, slash}.
// Trailing-slash variants exist only for the TelemetryControl forms.
func BuildPaths(vmsName, cameraID, op string) []string {
	id := url.PathEscape(cameraID)
	forms := []deviceForm{
		{segment: "DeviceIpint." + id + "/" + telemetryControlZero, trailingSlash: true},
		{segment: "DeviceIpint." + id + "/" + telemetryControl, trailingSlash: true},
		{segment: "DeviceIpint." + id},
		{segment: id + "/" + telemetryControlZero},
	}
	prefixes := []string{url.PathEscape(vmsName) + "/", ""}
	roots := []string{"", "/openapi"}

	var out []string
	for _, f := range forms {
		for _, prefix := range prefixes {
			for _, root := range roots {
				p := root + "/control/telemetry/" + op + "/" + prefix + f.segment
				out = append(out, p)
				if f.trailingSlash {
					out = append(out, p+"/")
				}
			}
		}
	}
	return out
}

// QueryVariants returns full, without session_id and without mode, in that order.
func QueryVariants(cmd adapters.Command, speed float64) []Candidate {
	pan, tilt, zoom := cmd.Velocity(speed)

	full := url.Values{}
	full.Set("mode", continuousMode)
	if cmd.IsZoom() {
		full.Set("value", formatFloat(zoom))
	} else {
		full.Set("pan", formatFloat(pan))
		full.Set("tilt", formatFloat(tilt))
	}
	full.Set("session_id", defaultSessionID)

	noSession := cloneValues(full)
	noSession.Del("session_id")

	noMode := cloneValues(full)
	noMode.Del("mode")

	return []Candidate{
		{Query: full, Variant: VariantFull},
		{Query: noSession, Variant: VariantNoSessionID},
		{Query: noMode, Variant: VariantNoMode},
	}
}

// BuildCandidates returns every path/query combination in probing order (path-major).
func BuildCandidates(s Server, cameraID string, cmd adapters.Command, speed float64) []Candidate {
	paths := BuildPaths(s.Name, cameraID, Operation(cmd))
	queries := QueryVariants(cmd, speed)

	out := make([]Candidate, 0, len(paths)*len(queries))
	for _, p := range paths {
		for _, q := range queries {
			out = append(out, Candidate{Path: p, Query: q.Query, Variant: q.Variant})
		}
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
