// Package privacy reduces identifiers to forms that are safe for logs and
// traces.
package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"net/netip"
)

// AnonymizeIP masks an address to its /24 (IPv4) or /48 (IPv6) network.
// IPv4-mapped IPv6 addresses are treated as IPv4. Empty input yields
// "unknown" and unparseable input "invalid".
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap()
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.WithZone("").Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.Addr().String()
}

// HolderToken turns a holder id into a short stable token for correlating
// log lines and spans without the raw id.
func HolderToken(holderID string) string {
	if holderID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(holderID))
	return hex.EncodeToString(sum[:8])
}
