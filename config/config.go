package config

import (
	"encoding/json"
	"os"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// Config represents the configuration for a verimesh node
type Config struct {
	// Default config file location
	configFile string

	Node struct {
		IdentityFile string `json:"identity"` // ed25519 seed file
		FullNode     bool   `json:"fullnode"` // whether this node accepts inbound connections
	} `json:"node"`

	Network struct {
		ListenAddress string   `json:"listen"`
		EntryPoints   []string `json:"entrypoints"` // host:port list used to bootstrap the mesh
	} `json:"network"`

	Discovery struct {
		UseMulticast bool   `json:"multicast"`
		Group        string `json:"group"`
	} `json:"discovery"`

	Mesh struct {
		FailureThreshold int    `json:"failure_threshold"` // consecutive failures before eviction
		AnnounceSeconds  int    `json:"announce_interval"`
		PersistSeconds   int    `json:"persist_interval"`
		PeerCachePath    string `json:"peer_cache"`
	} `json:"mesh"`
}

// NewEmptyConfig generates a new configuration with default settings
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Node.IdentityFile = "/tmp/verimesh/identity"
	cfg.Node.FullNode = true

	cfg.Network.ListenAddress = ":9444"
	cfg.Network.EntryPoints = []string{}

	cfg.Discovery.UseMulticast = false
	cfg.Discovery.Group = "224.0.71.1:9445"

	cfg.Mesh.FailureThreshold = 8
	cfg.Mesh.AnnounceSeconds = 30
	cfg.Mesh.PersistSeconds = 120
	cfg.Mesh.PeerCachePath = "/tmp/verimesh/peers"

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a file
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	// We'll marshall our structure to JSON and write it into a file
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

func (c *Config) Load() error {
	log.Infof("Loading config from %s", c.configFile)
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	return nil
}
