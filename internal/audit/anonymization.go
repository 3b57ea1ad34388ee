package audit

import (
	"net/netip"
)

// AnonymizeIP truncates an IP address before it is stored.
// IPv4 keeps the /24 network (192.168.1.100 becomes 192.168.1.0) and IPv6
// keeps the /48 network. Invalid input yields "".
func AnonymizeIP(ipStr string) string {
	addr, err := netip.ParseAddr(ipStr)
	if err != nil {
		return ""
	}
	addr = addr.Unmap().WithZone("")

	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return ""
	}
	return prefix.Addr().String()
}
