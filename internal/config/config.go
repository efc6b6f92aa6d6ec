// Package config holds mesh-core sidecar configuration: listen addresses,
// port policy, and the timeouts named in spec §5/§6.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"
)

// Backoff describes a reconnect backoff schedule (spec §4.5 "Endpoint → Connection").
type Backoff struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Jitter float64       `json:"jitter"`
}

// H1Settings holds HTTP/1 server tuning knobs.
type H1Settings struct {
	HeaderReadTimeout time.Duration `json:"header_read_timeout"`
}

// H2Settings holds HTTP/2 server tuning knobs.
type H2Settings struct {
	KeepaliveInterval time.Duration `json:"keepalive_interval"`
}

// PortSet is a set of TCP ports, JSON-encoded as a list.
type PortSet map[uint16]struct{}

// Has reports whether port p is a member of the set.
func (s PortSet) Has(p uint16) bool {
	_, ok := s[p]
	return ok
}

func (s PortSet) MarshalJSON() ([]byte, error) {
	ports := make([]uint16, 0, len(s))
	for p := range s {
		ports = append(ports, p)
	}
	return json.Marshal(ports)
}

func (s *PortSet) UnmarshalJSON(data []byte) error {
	var ports []uint16
	if err := json.Unmarshal(data, &ports); err != nil {
		return err
	}
	out := make(PortSet, len(ports))
	for _, p := range ports {
		out[p] = struct{}{}
	}
	*s = out
	return nil
}

// AllowDiscovery gates which logical names may be resolved (spec §4.9 allow-list).
type AllowDiscovery struct {
	NameSuffixes []string     `json:"name_suffixes"`
	CIDRStrings  []string     `json:"cidrs"`
	CIDRs        []*net.IPNet `json:"-"`
}

// Allows reports whether name or addr is permitted to perform discovery.
func (a *AllowDiscovery) Allows(name string, addr netip.Addr) bool {
	if len(a.NameSuffixes) == 0 && len(a.CIDRs) == 0 {
		return true
	}
	for _, suffix := range a.NameSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	if addr.IsValid() {
		ip := net.IP(addr.AsSlice())
		for _, cidr := range a.CIDRs {
			if cidr.Contains(ip) {
				return true
			}
		}
	}
	return false
}

// Config holds every sidecar option named in spec §6.
type Config struct {
	ConnectTimeout        time.Duration `json:"connect_timeout"`
	ConnectKeepalive      time.Duration `json:"connect_keepalive"`
	ConnectBackoff        Backoff       `json:"connect_backoff"`
	DetectProtocolTimeout time.Duration `json:"detect_protocol_timeout"`
	DispatchTimeout       time.Duration `json:"dispatch_timeout"`
	CacheMaxIdleAge       time.Duration `json:"cache_max_idle_age"`
	ProfileIdleTimeout    time.Duration `json:"profile_idle_timeout"`
	DrainGrace            time.Duration `json:"drain_grace"`

	RequireIdentityForInboundPorts   PortSet `json:"require_identity_for_inbound_ports"`
	DisableProtocolDetectionForPorts PortSet `json:"disable_protocol_detection_for_ports"`

	AllowDiscovery AllowDiscovery `json:"allow_discovery"`

	BufferCapacity      int `json:"buffer_capacity"`
	MaxInFlightRequests int `json:"max_in_flight_requests"`

	H1 H1Settings `json:"h1_settings"`
	H2 H2Settings `json:"h2_settings"`

	InboundListen string `json:"inbound_listen"`
	MetricsListen string `json:"metrics_listen"`

	LocalIdentity string `json:"local_identity"`
	CertFile      string `json:"cert_file"`
	KeyFile       string `json:"key_file"`

	// Env holds environment-derived settings, loaded separately (see env.go).
	Env *EnvConfig `json:"-"`
}

// Load reads sidecar configuration from config.json (if present) layered
// over sensible defaults, the way tamecalm-signal-proxy's config.Load does.
func Load() *Config {
	cfg := &Config{
		ConnectTimeout:        1 * time.Second,
		ConnectKeepalive:      10 * time.Second,
		ConnectBackoff:        Backoff{Min: 50 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.2},
		DetectProtocolTimeout: 10 * time.Second,
		DispatchTimeout:       30 * time.Second,
		CacheMaxIdleAge:       5 * time.Minute,
		ProfileIdleTimeout:    500 * time.Millisecond,
		DrainGrace:            30 * time.Second,

		RequireIdentityForInboundPorts:   PortSet{},
		DisableProtocolDetectionForPorts: PortSet{},

		BufferCapacity:      10_000,
		MaxInFlightRequests: 100_000,

		H1: H1Settings{HeaderReadTimeout: 10 * time.Second},
		H2: H2Settings{KeepaliveInterval: 10 * time.Second},

		InboundListen: ":4143",
		MetricsListen: ":4191",

		Env: LoadEnv(),
	}

	if file, err := os.Open("config.json"); err == nil {
		defer file.Close()
		_ = json.NewDecoder(file).Decode(cfg)
	}

	cidrs := make([]*net.IPNet, 0, len(cfg.AllowDiscovery.CIDRStrings))
	for _, s := range cfg.AllowDiscovery.CIDRStrings {
		if ipNet, err := parseCIDR(s); err == nil {
			cidrs = append(cidrs, ipNet)
		}
	}
	cfg.AllowDiscovery.CIDRs = cidrs

	return cfg
}

// Validate checks the configuration, accumulating human-readable errors the
// way tamecalm-signal-proxy's Config.Validate does.
func (c *Config) Validate() error {
	var errs []string

	if c.InboundListen == "" {
		errs = append(errs, "inbound_listen is required")
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, "connect_timeout must be positive")
	}
	if c.DetectProtocolTimeout <= 0 {
		errs = append(errs, "detect_protocol_timeout must be positive")
	}
	if c.CacheMaxIdleAge <= 0 {
		errs = append(errs, "cache_max_idle_age must be positive")
	}
	if c.CertFile != "" {
		if _, err := os.Stat(c.CertFile); os.IsNotExist(err) {
			errs = append(errs, fmt.Sprintf("certificate file not found: %s", c.CertFile))
		}
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}

// parseCIDR parses a CIDR string, treating a bare IP as a /32 or /128.
func parseCIDR(cidr string) (*net.IPNet, error) {
	if !strings.Contains(cidr, "/") {
		if strings.Contains(cidr, ":") {
			cidr += "/128"
		} else {
			cidr += "/32"
		}
	}
	_, ipNet, err := net.ParseCIDR(cidr)
	return ipNet, err
}
