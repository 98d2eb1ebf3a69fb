// Package security holds the outermost request filters: scanner detection,
// client address resolution and response hardening headers.
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"moneta/internal/log"
)

const maxURLLength = 2048

// DetectionMetrics counts flagged and rejected requests since start.
type DetectionMetrics struct {
	Suspicious int64 `json:"suspicious"`
	Blocked    int64 `json:"blocked"`
}

type rule struct {
	reason string
	match  func(r *http.Request) bool
}

var (
	probePaths = []string{
		"../", "..\\", ".env", ".git", ".ssh", "wp-admin", "phpmyadmin",
		"admin.php", "config.php", "etc/passwd", "cmd.exe",
	}
	injectionMarkers = []string{"<script", "javascript:", "eval(", "union select"}
	// Plain HTTP clients such as curl are legitimate API callers.
	scannerAgents  = []string{"sqlmap", "nmap", "nikto", "gobuster", "dirb", "masscan", "zgrab"}
	blockedMethods = []string{"TRACE", "TRACK", "DEBUG", "CONNECT"}
)

func lowerContains(s string, needles []string) bool {
	s = strings.ToLower(s)
	return slices.ContainsFunc(needles, func(n string) bool { return strings.Contains(s, n) })
}

var rules = []rule{
	{"probe path", func(r *http.Request) bool { return lowerContains(r.URL.Path, probePaths) }},
	{"injection marker", func(r *http.Request) bool {
		q, err := url.QueryUnescape(r.URL.RawQuery)
		if err != nil {
			q = r.URL.RawQuery
		}
		return lowerContains(q, injectionMarkers) || lowerContains(q, probePaths)
	}},
	{"scanner agent", func(r *http.Request) bool { return lowerContains(r.UserAgent(), scannerAgents) }},
	{"debug method", func(r *http.Request) bool { return slices.Contains(blockedMethods, r.Method) }},
	{"oversized url", func(r *http.Request) bool { return len(r.URL.String()) > maxURLLength }},
	{"forwarding chain", func(r *http.Request) bool { return strings.Count(r.Header.Get("X-Forwarded-For"), ",") > 5 }},
}

// Detector flags scanner traffic and resolves client addresses behind
// trusted proxies.
type Detector struct {
	mu      sync.RWMutex
	trusted []netip.Prefix

	suspicious atomic.Int64
	blocked    atomic.Int64
}

// NewDetector trusts loopback and the RFC 1918 ranges as proxies.
func NewDetector() *Detector {
	d := &Detector{}
	for _, cidr := range []string{"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"} {
		d.trusted = append(d.trusted, netip.MustParsePrefix(cidr))
	}
	return d
}

func (d *Detector) TrustProxy(cidr string) error {
	p, err := netip.ParsePrefix(cidr)
	if err != nil {
		return fmt.Errorf("invalid proxy range %q: %w", cidr, err)
	}
	d.mu.Lock()
	d.trusted = append(d.trusted, p.Masked())
	d.mu.Unlock()
	return nil
}

// Inspect returns the first rule r trips, counting it as suspicious.
func (d *Detector) Inspect(r *http.Request) (string, bool) {
	for _, rl := range rules {
		if rl.match(r) {
			d.suspicious.Add(1)
			return rl.reason, true
		}
	}
	return "", false
}

func (d *Detector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reason, hit := d.Inspect(r); hit {
			log.FromContext(r.Context()).WithComponent(log.ComponentSecurity).WarnContext(r.Context(), "Suspicious request",
				"reason", reason,
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldClientIP, d.ClientIP(r),
				log.FieldUserAgent, r.UserAgent())
		}
		if slices.Contains(blockedMethods, r.Method) {
			d.blocked.Add(1)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (d *Detector) isTrusted(addr netip.Addr) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addr = addr.Unmap()
	return slices.ContainsFunc(d.trusted, func(p netip.Prefix) bool { return p.Contains(addr) })
}

// ClientIP returns the peer address, or the forwarded client address when
// the peer is a trusted proxy.
func (d *Detector) ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil || !d.isTrusted(peer) {
		return host
	}

	first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
	for _, candidate := range []string{first, r.Header.Get("X-Real-IP")} {
		if a, err := netip.ParseAddr(strings.TrimSpace(candidate)); err == nil {
			return a.String()
		}
	}
	return host
}

func (d *Detector) Metrics() DetectionMetrics {
	return DetectionMetrics{Suspicious: d.suspicious.Load(), Blocked: d.blocked.Load()}
}
