package services

import (
	"slices"

	"github.com/anstrom/netscope/internal/discovery"
)

// DeviceType is a coarse guess of what a host is, from its open ports and
// the DNS-SD services it advertises.
type DeviceType string

const (
	DeviceUnknown       DeviceType = ""
	DeviceRouter        DeviceType = "router"
	DevicePrinter       DeviceType = "printer"
	DeviceDatabase      DeviceType = "database"
	DeviceMail          DeviceType = "mail"
	DeviceNAS           DeviceType = "nas"
	DeviceMedia         DeviceType = "media"
	DeviceCamera        DeviceType = "camera"
	DeviceDevelopment   DeviceType = "development"
	DeviceWindowsServer DeviceType = "windows-server"
	DeviceLinuxServer   DeviceType = "linux-server"
	DeviceWebServer     DeviceType = "web-server"
)

var (
	webPorts     = []int{80, 443}
	printerPorts = []int{631, 9100, 515}
	dbPorts      = []int{3306, 5432, 27017, 6379}
	mailPorts    = []int{25, 110, 143, 465, 993, 995}
	nasPorts     = []int{5000, 5001, 2049, 548}
	mediaPorts   = []int{8008, 8009, 7000, 32469, 1900}
	cameraPorts  = []int{554, 8554, 1935}
	devPorts     = []int{3000, 3001, 5000, 8000, 8001}
	domainPorts  = []int{88, 389, 636}
)

// advertisedTypes maps DNS-SD service types to the device they announce, in
// order of precedence. SSH and HTTP are announced by too many kinds of
// device to say anything.
var advertisedTypes = []struct {
	device   DeviceType
	services []string
}{
	{DevicePrinter, []string{"_ipp._tcp", "_ipps._tcp", "_printer._tcp", "_pdl-datastream._tcp"}},
	{DeviceMedia, []string{"_googlecast._tcp", "_airplay._tcp", "_raop._tcp"}},
	{DeviceCamera, []string{"_rtsp._tcp"}},
	{DeviceNAS, []string{"_smb._tcp", "_afpovertcp._tcp"}},
}

func advertisedDevice(advertised []string) DeviceType {
	for _, t := range advertisedTypes {
		for _, s := range t.services {
			if slices.Contains(advertised, s) {
				return t.device
			}
		}
	}
	return DeviceUnknown
}

// GuessDeviceType classifies host from its open services. What the host
// advertises over DNS-SD wins over its ports. The rules are conservative:
// most clients stay DeviceUnknown.
func GuessDeviceType(host discovery.Host, open []Detected) DeviceType {
	if host.Addr.IsLoopback() {
		return DeviceUnknown
	}

	ports := make([]int, 0, len(open))
	for _, d := range open {
		if !slices.Contains(ports, d.Service.Port) {
			ports = append(ports, d.Service.Port)
		}
	}
	count := func(set []int) int {
		n := 0
		for _, p := range ports {
			if slices.Contains(set, p) {
				n++
			}
		}
		return n
	}

	if host.Gateway {
		return DeviceRouter
	}
	if device := advertisedDevice(host.Advertised); device != DeviceUnknown {
		return device
	}
	if count(printerPorts) > 0 {
		return DevicePrinter
	}

	if db := count(dbPorts); db > 0 {
		other := 0
		for _, p := range ports {
			if !slices.Contains(dbPorts, p) && p != 22 && !slices.Contains(webPorts, p) {
				other++
			}
		}
		if other <= 1 {
			return DeviceDatabase
		}
	}

	switch {
	case count(mailPorts) >= 2:
		return DeviceMail
	case count(nasPorts) > 0:
		return DeviceNAS
	case count(mediaPorts) > 0:
		return DeviceMedia
	case count(cameraPorts) > 0:
		return DeviceCamera
	case count(devPorts) > 0 && len(ports) <= 3:
		return DeviceDevelopment
	}

	indicators := 0
	if count(webPorts) > 0 && len(ports) >= 5 {
		indicators++
	}
	if slices.Contains(ports, 22) && len(ports) >= 5 {
		indicators++
	}
	if count(mailPorts) > 0 {
		indicators++
	}
	if count(domainPorts) > 0 {
		indicators++
	}
	if indicators >= 2 {
		switch {
		case slices.Contains(ports, 3389):
			return DeviceWindowsServer
		case slices.Contains(ports, 22):
			return DeviceLinuxServer
		case count(webPorts) > 0:
			return DeviceWebServer
		}
	}
	return DeviceUnknown
}
