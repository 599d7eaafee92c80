package onvif

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/technosupport/ts-ptz/internal/ptz/adapters"
)

const (
	ActionContinuousMove  = "ContinuousMove"
	ActionStop            = "Stop"
	ActionGetServices     = "GetServices"
	ActionGetCapabilities = "GetCapabilities"
	ActionGetProfiles     = "GetProfiles"

	ptzActionPrefix    = "http://www.onvif.org/ver20/ptz/wsdl/"
	deviceActionPrefix = "http://www.onvif.org/ver10/device/wsdl/"
	mediaActionPrefix  = "http://www.onvif.org/ver10/media/wsdl/"

	MinVelocity    = 0.02
	MaxVelocity    = 0.3
	MinMoveTimeout = 200 * time.Millisecond
	MaxMoveTimeout = 10 * time.Second

	wsseNS       = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	wsuNS        = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	passwordText = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordText"
)

// SOAPAction returns the action URI for an operation name.
func SOAPAction(op string) string {
	switch op {
	case ActionGetServices, ActionGetCapabilities:
		return deviceActionPrefix + op
	case ActionGetProfiles:
		return mediaActionPrefix + op
	}
	return ptzActionPrefix + op
}

// ClampVelocity bounds the magnitude to [MinVelocity, MaxVelocity], keeping
// the sign. Zero stays zero.
func ClampVelocity(v float64) float64 {
	switch {
	case v == 0:
		return 0
	case v < 0:
		return -adapters.ClampFloat(-v, MinVelocity, MaxVelocity)
	default:
		return adapters.ClampFloat(v, MinVelocity, MaxVelocity)
	}
}

// ClampTimeout bounds a ContinuousMove timeout to [MinMoveTimeout, MaxMoveTimeout].
func ClampTimeout(d time.Duration) time.Duration {
	if d < MinMoveTimeout {
		return MinMoveTimeout
	}
	if d > MaxMoveTimeout {
		return MaxMoveTimeout
	}
	return d
}

// Duration renders d as an xs:duration in seconds, e.g. PT1.5S.
func Duration(d time.Duration) string {
	return "PT" + strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "S"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ContinuousMoveBody builds the ContinuousMove request body. Velocities are clamped.
func ContinuousMoveBody(token string, pan, tilt, zoom float64, timeout time.Duration) string {
	pan, tilt, zoom = ClampVelocity(pan), ClampVelocity(tilt), ClampVelocity(zoom)

	var velocity strings.Builder
	if pan != 0 || tilt != 0 || zoom == 0 {
		fmt.Fprintf(&velocity, `<tt:PanTilt x="%s" y="%s"/>`, formatFloat(pan), formatFloat(tilt))
	}
	if zoom != 0 {
		fmt.Fprintf(&velocity, `<tt:Zoom x="%s"/>`, formatFloat(zoom))
	}

	return fmt.Sprintf(`<tptz:ContinuousMove xmlns:tptz="http://www.onvif.org/ver20/ptz/wsdl" xmlns:tt="http://www.onvif.org/ver10/schema">`+
		`<tptz:ProfileToken>%s</tptz:ProfileToken>`+
		`<tptz:Velocity>%s</tptz:Velocity>`+
		`<tptz:Timeout>%s</tptz:Timeout>`+
		`</tptz:ContinuousMove>`,
		escape(token), velocity.String(), Duration(ClampTimeout(timeout)))
}

// StopBody halts both pan/tilt and zoom.
func StopBody(token string) string {
	return fmt.Sprintf(`<tptz:Stop xmlns:tptz="http://www.onvif.org/ver20/ptz/wsdl">`+
		`<tptz:ProfileToken>%s</tptz:ProfileToken>`+
		`<tptz:PanTilt>true</tptz:PanTilt>`+
		`<tptz:Zoom>true</tptz:Zoom>`+
		`</tptz:Stop>`, escape(token))
}

func getServicesBody() string {
	return `<tds:GetServices xmlns:tds="http://www.onvif.org/ver10/device/wsdl"><tds:IncludeCapability>false</tds:IncludeCapability></tds:GetServices>`
}

func getCapabilitiesBody() string {
	return `<tds:GetCapabilities xmlns:tds="http://www.onvif.org/ver10/device/wsdl"><tds:Category>All</tds:Category></tds:GetCapabilities>`
}

func getProfilesBody() string {
	return `<trt:GetProfiles xmlns:trt="http://www.onvif.org/ver10/media/wsdl"/>`
}

// Envelope wraps body in a SOAP 1.2 envelope. A non-empty username adds a
// WS-Security UsernameToken header with a cleartext password.
func Envelope(body, username, password string, now time.Time) string {
	header := ""
	if username != "" {
		header = fmt.Sprintf(`<s:Header><wsse:Security s:mustUnderstand="1" xmlns:wsse="%s" xmlns:wsu="%s">`+
			`<wsse:UsernameToken><wsse:Username>%s</wsse:Username>`+
			`<wsse:Password Type="%s">%s</wsse:Password>`+
			`<wsu:Created>%s</wsu:Created></wsse:UsernameToken></wsse:Security></s:Header>`,
			wsseNS, wsuNS, escape(username), passwordText, escape(password), now.UTC().Format(time.RFC3339))
	}
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope">` +
		header + `<s:Body>` + body + `</s:Body></s:Envelope>`
}

func escape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
