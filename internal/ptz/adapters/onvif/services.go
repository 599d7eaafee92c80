package onvif

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
)

// Service is one entry of a device's service list, flattened from whatever
// shape the vendor returned.
type Service struct {
	Address   string
	Namespace string
}

// Namespaces reported for GetCapabilities categories, which carry no namespace of their own.
var capabilityNamespaces = map[string]string{
	"device":    "http://www.onvif.org/ver10/device/wsdl",
	"media":     "http://www.onvif.org/ver10/media/wsdl",
	"ptz":       "http://www.onvif.org/ver20/ptz/wsdl",
	"events":    "http://www.onvif.org/ver10/events/wsdl",
	"imaging":   "http://www.onvif.org/ver20/imaging/wsdl",
	"analytics": "http://www.onvif.org/ver20/analytics/wsdl",
	"deviceio":  "http://www.onvif.org/ver10/deviceIO/wsdl",
	"recording": "http://www.onvif.org/ver10/recording/wsdl",
}

type node struct {
	XMLName  xml.Name
	Children []node `xml:",any"`
	Text     string `xml:",chardata"`
}

func (n node) child(local string) (node, bool) {
	for _, c := range n.Children {
		if strings.EqualFold(c.XMLName.Local, local) {
			return c, true
		}
	}
	return node{}, false
}

// NormalizeServices flattens a GetServices or GetCapabilities response into a
// single list. Any element with an XAddr child is a service: its namespace is
// the sibling Namespace element if present, else derived from the element name
// (Capabilities/PTZ, Capabilities/Extension/DeviceIO, ...).
func NormalizeServices(body []byte) ([]Service, error) {
	var root node
	if err := xml.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("parse service list: %w", err)
	}

	var out []Service
	seen := make(map[Service]bool)
	var walk func(n node)
	walk = func(n node) {
		if x, ok := n.child("XAddr"); ok {
			addr := firstField(x.Text)
			ns := ""
			if nsNode, ok := n.child("Namespace"); ok {
				ns = strings.TrimSpace(nsNode.Text)
			}
			if ns == "" {
				ns = namespaceFor(n.XMLName.Local)
			}
			s := Service{Address: addr, Namespace: ns}
			if addr != "" && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return out, nil
}

func namespaceFor(local string) string {
	if ns, ok := capabilityNamespaces[strings.ToLower(local)]; ok {
		return ns
	}
	return strings.ToLower(local)
}

// Some devices list several space-separated XAddrs; the first is used.
func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// FindService returns the first service whose namespace contains keyword, case-insensitively.
func FindService(services []Service, keyword string) (Service, bool) {
	kw := strings.ToLower(keyword)
	for _, s := range services {
		if strings.Contains(strings.ToLower(s.Namespace), kw) {
			return s, true
		}
	}
	return Service{}, false
}

// ResolveAddress makes a service address absolute. Relative addresses are
// resolved against http://host.
func ResolveAddress(host, address string) string {
	base := &url.URL{Scheme: "http", Host: host, Path: "/"}
	ref, err := url.Parse(strings.TrimSpace(address))
	if err != nil {
		return address
	}
	if ref.IsAbs() {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// DeviceServiceURL is the well-known device management endpoint.
func DeviceServiceURL(host string) string {
	return "http://" + host + "/onvif/device_service"
}
