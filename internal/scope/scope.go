// Package scope decides whether a scan or probe target is inside the
// allow-listed address space. Checks are pure string/IP matching; the guard
// must never resolve DNS, so an attacker-controlled resolver cannot widen the
// allowed range.
package scope

import (
	"net"
	"strings"
)

var allowedCIDRs = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
}

var allowedNets []*net.IPNet

func init() {
	for _, cidr := range allowedCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("scope: invalid builtin CIDR " + cidr)
		}
		allowedNets = append(allowedNets, network)
	}
}

// IsAllowed reports whether the target may be scanned or probed. A target is
// allowed if it is localhost or an IPv4 literal inside the loopback or
// RFC1918 private ranges. Hostnames other than localhost are not allowed:
// resolving them here would reopen the exact bypass this guard exists to
// close.
func IsAllowed(target string) bool {
	target = strings.ToLower(strings.TrimSpace(target))
	if target == "" {
		return false
	}
	if target == "localhost" {
		return true
	}

	ip := net.ParseIP(target)
	if ip == nil {
		return false
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	for _, network := range allowedNets {
		if network.Contains(ip4) {
			return true
		}
	}
	return false
}
