package onvif

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const getServicesResponse = `<?xml version="1.0" encoding="UTF-8"?>
<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://www.w3.org/2003/05/soap-envelope" xmlns:tds="http://www.onvif.org/ver10/device/wsdl" xmlns:tt="http://www.onvif.org/ver10/schema">
<SOAP-ENV:Body>
<tds:GetServicesResponse>
	<tds:Service>
		<tds:Namespace>http://www.onvif.org/ver10/device/wsdl</tds:Namespace>
		<tds:XAddr>http://192.168.1.10/onvif/device_service</tds:XAddr>
		<tds:Version><tt:Major>2</tt:Major><tt:Minor>60</tt:Minor></tds:Version>
	</tds:Service>
	<tds:Service>
		<tds:Namespace>http://www.onvif.org/ver10/media/wsdl</tds:Namespace>
		<tds:XAddr>http://192.168.1.10/onvif/Media</tds:XAddr>
	</tds:Service>
	<tds:Service>
		<tds:Namespace>http://www.onvif.org/ver20/PTZ/wsdl</tds:Namespace>
		<tds:XAddr>http://192.168.1.10/onvif/PTZ</tds:XAddr>
	</tds:Service>
</tds:GetServicesResponse>
</SOAP-ENV:Body>
</SOAP-ENV:Envelope>`

// Capabilities shape with PTZ as a category and DeviceIO under Extension.
const getCapabilitiesResponse = `<?xml version="1.0" encoding="UTF-8"?>
<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope" xmlns:tds="http://www.onvif.org/ver10/device/wsdl" xmlns:tt="http://www.onvif.org/ver10/schema">
<env:Body>
<tds:GetCapabilitiesResponse>
	<tds:Capabilities>
		<tt:Device><tt:XAddr>http://10.0.0.7/onvif/device_service</tt:XAddr></tt:Device>
		<tt:Media><tt:XAddr>http://10.0.0.7/onvif/media_service</tt:XAddr><tt:StreamingCapabilities/></tt:Media>
		<tt:PTZ><tt:XAddr>http://10.0.0.7/onvif/ptz_service</tt:XAddr></tt:PTZ>
		<tt:Extension>
			<tt:DeviceIO><tt:XAddr>http://10.0.0.7/onvif/deviceio_service</tt:XAddr></tt:DeviceIO>
		</tt:Extension>
	</tds:Capabilities>
</tds:GetCapabilitiesResponse>
</env:Body>
</env:Envelope>`

// Unprefixed elements, relative addresses and multiple XAddrs in one field.
const relativeServicesResponse = `<Envelope xmlns="http://www.w3.org/2003/05/soap-envelope">
<Body>
<GetServicesResponse xmlns="http://www.onvif.org/ver10/device/wsdl">
	<Service>
		<Namespace>http://www.onvif.org/ver20/ptz/wsdl</Namespace>
		<XAddr>/onvif/ptz_service http://[fe80::1]/onvif/ptz_service</XAddr>
	</Service>
	<Service>
		<Namespace>http://www.onvif.org/ver20/media/wsdl</Namespace>
		<XAddr>onvif/media2</XAddr>
	</Service>
</GetServicesResponse>
</Body>
</Envelope>`

func TestNormalizeServicesGetServicesShape(t *testing.T) {
	services, err := NormalizeServices([]byte(getServicesResponse))
	require.NoError(t, err)
	require.Len(t, services, 3)

	ptz, ok := FindService(services, "ptz")
	require.True(t, ok)
	assert.Equal(t, "http://192.168.1.10/onvif/PTZ", ptz.Address)

	media, ok := FindService(services, "media")
	require.True(t, ok)
	assert.Equal(t, "http://192.168.1.10/onvif/Media", media.Address)
}

func TestNormalizeServicesCapabilitiesShape(t *testing.T) {
	services, err := NormalizeServices([]byte(getCapabilitiesResponse))
	require.NoError(t, err)

	assert.Contains(t, services, Service{Address: "http://10.0.0.7/onvif/ptz_service", Namespace: "http://www.onvif.org/ver20/ptz/wsdl"})
	assert.Contains(t, services, Service{Address: "http://10.0.0.7/onvif/media_service", Namespace: "http://www.onvif.org/ver10/media/wsdl"})
	assert.Contains(t, services, Service{Address: "http://10.0.0.7/onvif/deviceio_service", Namespace: "http://www.onvif.org/ver10/deviceIO/wsdl"})
}

func TestNormalizeServicesRelativeShape(t *testing.T) {
	services, err := NormalizeServices([]byte(relativeServicesResponse))
	require.NoError(t, err)
	require.Len(t, services, 2)

	ptz, ok := FindService(services, "PTZ")
	require.True(t, ok)
	assert.Equal(t, "/onvif/ptz_service", ptz.Address)
	assert.Equal(t, "http://10.1.1.1:8080/onvif/ptz_service", ResolveAddress("10.1.1.1:8080", ptz.Address))

	media, ok := FindService(services, "media")
	require.True(t, ok)
	assert.Equal(t, "http://10.1.1.1/onvif/media2", ResolveAddress("10.1.1.1", media.Address))
}

func TestNormalizeServicesRejectsGarbage(t *testing.T) {
	_, err := NormalizeServices([]byte("not xml"))
	assert.Error(t, err)
}

func TestFindServiceMissing(t *testing.T) {
	_, ok := FindService([]Service{{Address: "http://x/onvif/device_service", Namespace: "http://www.onvif.org/ver10/device/wsdl"}}, "ptz")
	assert.False(t, ok)
}

func TestResolveAddressKeepsAbsolute(t *testing.T) {
	assert.Equal(t, "https://cam.local/onvif/ptz", ResolveAddress("10.0.0.1", "https://cam.local/onvif/ptz"))
}
