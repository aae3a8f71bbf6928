// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders, which attaches a conservative set of
// HTTP security headers. Stored images are served from the same engine as the
// JSON job API, so cache suppression is scoped to path prefixes instead of
// applying to every response.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultHSTSMaxAge = 180 * 24 * time.Hour

// SecurityOptions configures HTTP security headers emitted by SecurityHeaders.
//
// EnableHSTS emits Strict-Transport-Security for HTTPS requests only. Enable
// it only when traffic is HTTPS end-to-end. HSTSMaxAge defaults to 180 days.
//
// NoStorePrefixes lists request path prefixes whose responses must not be
// cached (Cache-Control: no-store plus legacy Pragma/Expires). Public image
// routes are left out so the messaging platform and browsers may cache them.
type SecurityOptions struct {
	EnableHSTS      bool
	HSTSMaxAge      time.Duration
	NoStorePrefixes []string
	EnablePolicy    bool // Permissions-Policy, X-Permitted-Cross-Domain-Policies
}

// SecurityHeaders returns a Gin middleware that adds security headers to each
// response.
//
//   - Always: X-Content-Type-Options: nosniff, X-Frame-Options: DENY,
//     Referrer-Policy: no-referrer
//   - EnablePolicy: Permissions-Policy and X-Permitted-Cross-Domain-Policies
//   - Path under a NoStorePrefixes entry: Cache-Control: no-store, Pragma, Expires
//   - EnableHSTS on an HTTPS request: Strict-Transport-Security
//   - X-Request-ID present: listed in Access-Control-Expose-Headers
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := "max-age=" + strconv.Itoa(int(maxAge.Seconds())) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}

		if hasAnyPrefix(c.Request.URL.Path, opt.NoStorePrefixes) {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}

		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		if rid := h.Get("X-Request-ID"); rid != "" {
			const hdr = "Access-Control-Expose-Headers"
			cur := h.Get(hdr)
			if cur == "" {
				h.Set(hdr, "X-Request-ID")
			} else if !strings.Contains(cur, "X-Request-ID") {
				h.Set(hdr, cur+", X-Request-ID")
			}
		}

		c.Next()
	}
}

// hasAnyPrefix reports whether path equals a prefix or lies below it.
func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		p = strings.TrimRight(p, "/")
		if p == "" {
			return true
		}
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// isHTTPS reports whether the incoming request used HTTPS either directly
// (r.TLS != nil) or via a reverse proxy that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
