// Package config loads the typed settings every component is built
// from: defaults, then an optional config file, then P2P_-prefixed
// environment variables, then a handful of command-line flags.
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config mirrors the original implementation's Config struct, minus
// the ICE/STUN/NAT-type-detection sub-structs: those exist only to
// drive the separate binding-discovery responder and NAT traversal,
// both explicitly out of scope (SPEC_FULL.md §1).
type Config struct {
	ListenAddress   string `mapstructure:"listen_address"`
	MaxConnections  int    `mapstructure:"max_connections"`
	HeartbeatInterval int  `mapstructure:"heartbeat_interval"`
	ConnectionTimeout int  `mapstructure:"connection_timeout"`
	EnableDiscovery bool   `mapstructure:"enable_discovery"`
	NetworkID       string `mapstructure:"network_id"`
	PeerlistBroadcastDebounceMs int64 `mapstructure:"peerlist_broadcast_debounce_ms"`
	MaxHops         int    `mapstructure:"max_hops"`
	MetricsAddress  string `mapstructure:"metrics_address"`
}

// HeartbeatIntervalDuration and ConnectionTimeoutDuration convert the
// integer-seconds fields above into time.Duration for callers.
func (c Config) HeartbeatIntervalDuration() time.Duration {
	return time.Duration(c.HeartbeatInterval) * time.Second
}

func (c Config) ConnectionTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectionTimeout) * time.Second
}

func (c Config) PeerlistBroadcastDebounce() time.Duration {
	return time.Duration(c.PeerlistBroadcastDebounceMs) * time.Millisecond
}

// Default mirrors Config::default() from the original implementation.
func Default() Config {
	return Config{
		ListenAddress:               "127.0.0.1:8080",
		MaxConnections:              100,
		HeartbeatInterval:           30,
		ConnectionTimeout:           60,
		EnableDiscovery:             true,
		NetworkID:                   "p2p_default",
		PeerlistBroadcastDebounceMs: 300,
		MaxHops:                     16,
		MetricsAddress:              "",
	}
}

// Load layers defaults, an optional config file, and P2P_-prefixed
// environment variables via viper. path may be empty, in which case
// only defaults and environment overrides apply.
func Load(path string) (Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("listen_address", def.ListenAddress)
	v.SetDefault("max_connections", def.MaxConnections)
	v.SetDefault("heartbeat_interval", def.HeartbeatInterval)
	v.SetDefault("connection_timeout", def.ConnectionTimeout)
	v.SetDefault("enable_discovery", def.EnableDiscovery)
	v.SetDefault("network_id", def.NetworkID)
	v.SetDefault("peerlist_broadcast_debounce_ms", def.PeerlistBroadcastDebounceMs)
	v.SetDefault("max_hops", def.MaxHops)
	v.SetDefault("metrics_address", def.MetricsAddress)

	v.SetEnvPrefix("P2P")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "load config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	return cfg, nil
}
