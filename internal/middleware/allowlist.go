package middleware

import (
	"fmt"
	"net"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aura-stream/backend/pkg/response"
)

// ParseCIDRs parses a comma-separated list of CIDRs or bare IPs.
func ParseCIDRs(s string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "/") {
			ip := net.ParseIP(part)
			if ip == nil {
				return nil, fmt.Errorf("invalid ip %q", part)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			part = fmt.Sprintf("%s/%d", part, bits)
		}
		_, n, err := net.ParseCIDR(part)
		if err != nil {
			return nil, fmt.Errorf("invalid cidr %q: %w", part, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// AllowIPs rejects requests whose client IP is outside nets. An empty list allows everyone.
// Webhooks carry no signature, so this is their only protection.
func AllowIPs(nets []*net.IPNet) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(nets) == 0 {
			c.Next()
			return
		}
		ip := net.ParseIP(c.ClientIP())
		for _, n := range nets {
			if ip != nil && n.Contains(ip) {
				c.Next()
				return
			}
		}
		response.Forbidden(c, "source address not allowed")
		c.Abort()
	}
}
