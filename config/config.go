// Package config defines catalystd's on-disk configuration: node identity,
// the bind addresses, the port pool, TLS material, and the timing knobs the
// Peering Engine uses. Validate/DefaultConfig follows the shape
// telemetry/flow-ingest/internal/server/config.go uses for its own Config.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is catalystd's top-level configuration, loaded from YAML.
type Config struct {
	Node NodeConfig `yaml:"node"`

	BindAddress       string `yaml:"bindAddress"`
	EnvoyBindAddress  string `yaml:"envoyBindAddress"`
	EgressBindAddress string `yaml:"egressBindAddress"`

	Ports PortPoolSpec `yaml:"ports"`

	Peers []PeerSpec `yaml:"peers"`

	TLS *TLSConfig `yaml:"tls"`

	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	ReconnectInitial  time.Duration `yaml:"reconnectInitial"`
	ReconnectMax      time.Duration `yaml:"reconnectMax"`
	AuthFailureLimit  int           `yaml:"authFailureLimit"`
	AuthFailureWindow time.Duration `yaml:"authFailureWindow"`

	ConnectionGracePeriod time.Duration `yaml:"connectionGracePeriod"`

	GatewayURL string `yaml:"gatewayURL"`

	MetricsAddress string `yaml:"metricsAddress"`
	EnablePprof    bool   `yaml:"enablePprof"`
}

// NodeConfig is this node's immutable identity.
type NodeConfig struct {
	Name     string   `yaml:"name"`
	Endpoint string   `yaml:"endpoint"`
	Domains  []string `yaml:"domains"`
}

// PeerSpec configures one statically-known peer to dial at startup.
type PeerSpec struct {
	Name      string `yaml:"name"`
	Endpoint  string `yaml:"endpoint"`
	PeerToken string `yaml:"peerToken"`
}

// TLSConfig records the paths of PEM files whose issuance is an external PKI
// collaborator per spec §1. cmd/catalystd does not read these files: when
// tls is set it hands the xDS builder an empty xds.MeshTLS, so TLS contexts
// carry the default settings and no certificate material.
type TLSConfig struct {
	CertChainFile  string `yaml:"certChainFile"`
	PrivateKeyFile string `yaml:"privateKeyFile"`
	CABundleFile   string `yaml:"caBundleFile"`
}

// DefaultConfig returns a Config with every optional field at its
// documented default.
func DefaultConfig() *Config {
	return &Config{
		BindAddress:           "0.0.0.0:7000",
		HeartbeatInterval:     10 * time.Second,
		ReconnectInitial:      1 * time.Second,
		ReconnectMax:          60 * time.Second,
		AuthFailureLimit:      3,
		AuthFailureWindow:     1 * time.Minute,
		ConnectionGracePeriod: 30 * time.Second,
		MetricsAddress:        "0.0.0.0:9090",
	}
}

// Load reads and parses a Config from path, applying defaults to any field
// left zero.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and fills in any default left zero by a
// partial YAML document (Load already applies DefaultConfig first, but
// Validate is exported so callers constructing a Config in code get the
// same defaulting and checks).
func (c *Config) Validate() error {
	if c.Node.Name == "" {
		return fmt.Errorf("config: node.name is required")
	}
	if c.BindAddress == "" {
		c.BindAddress = "0.0.0.0:7000"
	}
	if c.EnvoyBindAddress == "" {
		// The xDS builder appends ":<port>" itself, so keep only the host.
		host, _, err := net.SplitHostPort(c.BindAddress)
		if err != nil {
			host = c.BindAddress
		}
		c.EnvoyBindAddress = host
	}
	if c.EgressBindAddress == "" {
		c.EgressBindAddress = c.EnvoyBindAddress
	}
	if _, err := c.Ports.Expand(); err != nil {
		return fmt.Errorf("config: ports: %w", err)
	}
	for i, p := range c.Peers {
		if p.Name == "" {
			return fmt.Errorf("config: peers[%d].name is required", i)
		}
		if p.Endpoint == "" {
			return fmt.Errorf("config: peers[%d].endpoint is required", i)
		}
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.ReconnectInitial <= 0 {
		c.ReconnectInitial = 1 * time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 60 * time.Second
	}
	if c.AuthFailureLimit <= 0 {
		c.AuthFailureLimit = 3
	}
	if c.AuthFailureWindow <= 0 {
		c.AuthFailureWindow = 1 * time.Minute
	}
	if c.ConnectionGracePeriod <= 0 {
		c.ConnectionGracePeriod = 30 * time.Second
	}
	if c.MetricsAddress == "" {
		c.MetricsAddress = "0.0.0.0:9090"
	}
	return nil
}
