package agent

import (
	"net"

	"go.uber.org/zap"
)

// DetectIPv4 returns the first non-loopback IPv4 address of an up interface.
func DetectIPv4() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		zap.L().Debug("ip detect", zap.Error(err))
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() {
				continue
			}
			if ip = ip.To4(); ip != nil {
				return ip.String()
			}
		}
	}
	return ""
}
