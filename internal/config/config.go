// Package config loads the router daemon's typed YAML configuration:
// endpoints, routes, and per-connection negotiation defaults. This
// replaces the teacher's map[string]interface{} device-config pattern
// with struct tags, since the router's endpoint/route shape is fixed
// and known at compile time.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/txpc-project/txpc"
)

// EndpointKind names a transport the router daemon knows how to open.
type EndpointKind string

const (
	KindSerial EndpointKind = "serial"
	KindPTY    EndpointKind = "pty"
	KindNet    EndpointKind = "net"
)

// EndpointConfig describes one I/O adapter the daemon should open and
// register with the router.
type EndpointConfig struct {
	Name string       `yaml:"name"`
	Kind EndpointKind `yaml:"kind"`

	// Device is a serial device path (kind: serial) or a pre-opened PTY
	// name (kind: pty, informational only: the daemon always allocates a
	// fresh pair).
	Device string `yaml:"device,omitempty"`
	Baud   int    `yaml:"baud,omitempty"`

	// Net endpoints either listen or dial, never both.
	Listen string `yaml:"listen,omitempty"`
	Dial   string `yaml:"dial,omitempty"`

	CRCBits       int  `yaml:"crc_bits"`
	BigEndian     bool `yaml:"big_endian"`
	RequireMsgAck bool `yaml:"require_msg_ack"`
}

// ConnConfig converts the YAML-level negotiation defaults into the
// protocol's ConnConfig type.
func (e EndpointConfig) ConnConfig() txpc.ConnConfig {
	return txpc.ConnConfig{
		CRCBits:       e.CRCBits,
		BigEndian:     e.BigEndian,
		RequireMsgAck: e.RequireMsgAck,
	}
}

// RouteConfig describes one switch-table entry.
type RouteConfig struct {
	InEndpoint  string `yaml:"in_endpoint"`
	InChannel   uint8  `yaml:"in_channel"`
	OutEndpoint string `yaml:"out_endpoint"`
	OutChannel  uint8  `yaml:"out_channel"`
}

// Advertise configures optional mDNS/DNS-SD service advertisement for
// the daemon's network endpoints.
type Advertise struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
	Port    int    `yaml:"port"`
}

// Config is the top-level router daemon configuration document.
type Config struct {
	LogLevel      string           `yaml:"log_level"`
	LogTimeFormat string           `yaml:"log_time_format"`
	Endpoints     []EndpointConfig `yaml:"endpoints"`
	Routes        []RouteConfig    `yaml:"routes"`
	Advertise     Advertise        `yaml:"advertise"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks structural invariants YAML parsing can't enforce:
// unique endpoint names, route endpoints that actually exist, and valid
// CRC widths.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Endpoints))
	for _, ep := range c.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("endpoint with empty name")
		}
		if seen[ep.Name] {
			return fmt.Errorf("duplicate endpoint name %q", ep.Name)
		}
		seen[ep.Name] = true

		switch ep.CRCBits {
		case 0, 8, 16, 32:
		default:
			return fmt.Errorf("endpoint %q: unsupported crc_bits %d", ep.Name, ep.CRCBits)
		}

		switch ep.Kind {
		case KindSerial:
			if ep.Device == "" {
				return fmt.Errorf("endpoint %q: serial kind requires device", ep.Name)
			}
		case KindNet:
			if ep.Listen == "" && ep.Dial == "" {
				return fmt.Errorf("endpoint %q: net kind requires listen or dial", ep.Name)
			}
		case KindPTY:
		default:
			return fmt.Errorf("endpoint %q: unknown kind %q", ep.Name, ep.Kind)
		}
	}

	for _, rt := range c.Routes {
		if !seen[rt.InEndpoint] {
			return fmt.Errorf("route references unknown input endpoint %q", rt.InEndpoint)
		}
		if !seen[rt.OutEndpoint] {
			return fmt.Errorf("route references unknown output endpoint %q", rt.OutEndpoint)
		}
	}
	return nil
}
