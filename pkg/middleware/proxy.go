package middleware

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"

	"cryptofx/pkg/logging"
)

// ParseTrustedProxies normalizes a list of CIDRs or bare IPs into CIDRs.
// Bare IPs become single-host ranges. Unparseable entries are returned
// separately.
func ParseTrustedProxies(entries []string) (cidrs []string, invalid []string) {
	for _, entry := range entries {
		value := strings.TrimSpace(entry)
		if value == "" {
			continue
		}
		if strings.Contains(value, "/") {
			if _, cidr, err := net.ParseCIDR(value); err == nil {
				cidrs = append(cidrs, cidr.String())
			} else {
				invalid = append(invalid, value)
			}
			continue
		}
		ip := net.ParseIP(value)
		if ip == nil {
			invalid = append(invalid, value)
			continue
		}
		maskBits := 128
		if ip.To4() != nil {
			maskBits = 32
		}
		cidrs = append(cidrs, (&net.IPNet{IP: ip, Mask: net.CIDRMask(maskBits, maskBits)}).String())
	}
	return cidrs, invalid
}

// ConfigureTrustedProxies restricts which peers may set forwarding headers.
// With no valid entries nothing is trusted and ClientIP is the socket
// address.
func ConfigureTrustedProxies(r *gin.Engine, entries []string, logger logging.Logger) {
	cidrs, invalid := ParseTrustedProxies(entries)
	if len(invalid) > 0 {
		logger.WithField("invalid", invalid).Warn("Ignoring invalid trusted proxy entries")
	}
	if err := r.SetTrustedProxies(cidrs); err != nil {
		logger.WithError(err).Warn("Failed to set trusted proxies; trusting none")
		_ = r.SetTrustedProxies(nil)
	}
}
