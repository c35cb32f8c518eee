// Package cmn provides the common types and configuration surface shared
// by every mpipc package: the Config tree (spec.md §6), verbosity
// modules, and the GCO (global config owner) that Reconfigure swaps
// atomically.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"os"
	ratomic "sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var jsonC = jsoniter.ConfigCompatibleWithStandardLibrary

// Verbosity module bits, OR-ed into Config.Log.Modules; FastV(level, module)
// is the hot-path check used instead of re-reading Config under a lock.
const (
	SmoduleTransport = 1 << iota
	SmodulePool
	SmoduleRelay
	SmoduleService
)

type (
	ReaderConfig struct {
		MaxMessageCountMultiplex int `json:"reader_max_message_count_multiplex" yaml:"reader_max_message_count_multiplex"`
	}

	WriterConfig struct {
		MaxMessageCountMultiplex      int `json:"writer_max_message_count_multiplex" yaml:"writer_max_message_count_multiplex"`
		MaxMessageCountResponseWait   int `json:"writer_max_message_count_response_wait" yaml:"writer_max_message_count_response_wait"`
		MaxMessageContinuousPacketCnt int `json:"writer_max_message_continuous_packet_count" yaml:"writer_max_message_continuous_packet_count"`
	}

	ServerConfig struct {
		ListenerAddr       string `json:"listener_address_str" yaml:"listener_address_str"`
		ConnectionStartState string `json:"connection_start_state" yaml:"connection_start_state"` // Raw|Passive|Active
	}

	ClientConfig struct {
		ConnectionStartState string `json:"connection_start_state" yaml:"connection_start_state"`
	}

	LogConfig struct {
		Level   int `json:"level" yaml:"level"`
		Modules int `json:"modules" yaml:"modules"`
	}

	// Config is the full configuration surface enumerated in spec.md §6.
	Config struct {
		PoolMaxActiveConnectionCount  int `json:"pool_max_active_connection_count" yaml:"pool_max_active_connection_count"`
		PoolMaxPendingConnectionCount int `json:"pool_max_pending_connection_count" yaml:"pool_max_pending_connection_count"`
		PoolMaxMessageQueueSize       int `json:"pool_max_message_queue_size" yaml:"pool_max_message_queue_size"`

		PoolsMutexCount int `json:"pools_mutex_count" yaml:"pools_mutex_count"`

		ConnRecvBufStartCapacityKB int `json:"connection_recv_buffer_start_capacity_kb" yaml:"connection_recv_buffer_start_capacity_kb"`
		ConnRecvBufMaxCapacityKB   int `json:"connection_recv_buffer_max_capacity_kb" yaml:"connection_recv_buffer_max_capacity_kb"`
		ConnSendBufStartCapacityKB int `json:"connection_send_buffer_start_capacity_kb" yaml:"connection_send_buffer_start_capacity_kb"`
		ConnSendBufMaxCapacityKB   int `json:"connection_send_buffer_max_capacity_kb" yaml:"connection_send_buffer_max_capacity_kb"`

		ConnReconnectTimeoutSeconds     int `json:"connection_reconnect_timeout_seconds" yaml:"connection_reconnect_timeout_seconds"`
		ConnInactivityTimeoutSeconds    int `json:"connection_inactivity_timeout_seconds" yaml:"connection_inactivity_timeout_seconds"`
		ConnKeepaliveTimeoutSeconds     int `json:"connection_keepalive_timeout_seconds" yaml:"connection_keepalive_timeout_seconds"`
		ConnInactivityKeepaliveCount    int `json:"connection_inactivity_keepalive_count" yaml:"connection_inactivity_keepalive_count"`

		MaxPacketDataSize int `json:"max_packet_data_size" yaml:"max_packet_data_size"`

		Reader ReaderConfig `json:"reader" yaml:"reader"`
		Writer WriterConfig `json:"writer" yaml:"writer"`

		Server ServerConfig `json:"server" yaml:"server"`
		Client ClientConfig `json:"client" yaml:"client"`

		RelayEnabled bool   `json:"relay_enabled" yaml:"relay_enabled"`
		AuthEnabled  bool   `json:"auth_enabled" yaml:"auth_enabled"`
		AuthSecret   string `json:"auth_secret" yaml:"auth_secret"`

		Compression string `json:"compression" yaml:"compression"` // "", "never", "lz4", "zstd"

		Log LogConfig `json:"log" yaml:"log"`

		TestingEnv bool `json:"-" yaml:"-"`

		// nameResolver is set programmatically via WithResolver, never
		// from a config file -- it determines IsClient().
		nameResolver ResolveFunc
	}
)

// DefaultConfig returns the spec's documented defaults (spec.md §6/§4.3):
// one connection per pool, four in-flight messages per connection, a
// 16-shard mutex bank, a 16KiB packet cap.
func DefaultConfig() *Config {
	return &Config{
		PoolMaxActiveConnectionCount:  1,
		PoolMaxPendingConnectionCount: 4,
		PoolMaxMessageQueueSize:       1024,
		PoolsMutexCount:               16,

		ConnRecvBufStartCapacityKB: 4,
		ConnRecvBufMaxCapacityKB:   64,
		ConnSendBufStartCapacityKB: 4,
		ConnSendBufMaxCapacityKB:   64,

		ConnReconnectTimeoutSeconds:  1,
		ConnInactivityTimeoutSeconds: 300,
		ConnKeepaliveTimeoutSeconds:  60,
		ConnInactivityKeepaliveCount: 4,

		MaxPacketDataSize: 16*1024 - HeaderSize,

		Reader: ReaderConfig{MaxMessageCountMultiplex: 32},
		Writer: WriterConfig{
			MaxMessageCountMultiplex:      4,
			MaxMessageCountResponseWait:   16,
			MaxMessageContinuousPacketCnt: 4,
		},

		Server: ServerConfig{ConnectionStartState: "Raw"},
		Client: ClientConfig{ConnectionStartState: "Raw"},

		Compression: "never",
	}
}

// IsServer/IsClient mirror the original source's Configuration::isServer/
// isClient predicates exactly (original_source/solid/frame/mpipc/mpipcconfiguration.hpp).
func (c *Config) IsServer() bool     { return c.Server.ListenerAddr != "" }
func (c *Config) IsClient() bool     { return c.nameResolver != nil }
func (c *Config) IsServerOnly() bool { return c.IsServer() && !c.IsClient() }
func (c *Config) IsClientOnly() bool { return !c.IsServer() && c.IsClient() }

// ResolveFunc resolves a symbolic peer name into candidate addresses;
// mpipc treats name resolution as pluggable the same way the spec's
// client.name_resolve_fnc does.
type ResolveFunc func(name string) ([]string, error)

// WithResolver attaches the client-side name resolver programmatically;
// config files never carry function values.
func (c *Config) WithResolver(fn ResolveFunc) *Config {
	c.nameResolver = fn
	return c
}

// Resolve delegates to the attached name resolver; callers check
// IsClient() first.
func (c *Config) Resolve(name string) ([]string, error) {
	if c.nameResolver == nil {
		return nil, errors.New("cmn: no name resolver configured")
	}
	return c.nameResolver(name)
}

// Validate enforces the invariants implied by spec.md §6/§7 (a config
// that is neither server nor client can never send or receive anything).
func (c *Config) Validate() error {
	if !c.IsServer() && !c.IsClient() {
		return errors.New("cmn: configuration is neither server (no listener_address_str) nor client (no resolver)")
	}
	if c.PoolsMutexCount <= 0 {
		return errors.New("cmn: pools_mutex_count must be positive")
	}
	if c.Writer.MaxMessageCountMultiplex <= 0 {
		return errors.New("cmn: writer.max_message_count_multiplex must be positive")
	}
	if c.MaxPacketDataSize <= 0 {
		return errors.New("cmn: max_packet_data_size must be positive")
	}
	return nil
}

// HeaderSize is the fixed 8-byte packet header size (spec.md §3, §6).
const HeaderSize = 8

func (c *Config) RecvBufStart() int { return c.ConnRecvBufStartCapacityKB * 1024 }
func (c *Config) RecvBufMax() int   { return c.ConnRecvBufMaxCapacityKB * 1024 }
func (c *Config) SendBufStart() int { return c.ConnSendBufStartCapacityKB * 1024 }
func (c *Config) SendBufMax() int   { return c.ConnSendBufMaxCapacityKB * 1024 }

func (c *Config) InactivityTimeout() time.Duration {
	return time.Duration(c.ConnInactivityTimeoutSeconds) * time.Second
}
func (c *Config) KeepaliveTimeout() time.Duration {
	return time.Duration(c.ConnKeepaliveTimeoutSeconds) * time.Second
}

// LoadJSON decodes a JSON configuration file using json-iterator, the
// same codec the teacher repo's config layer uses.
func LoadJSON(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cmn: read config %q", path)
	}
	cfg := DefaultConfig()
	if err := jsonC.Unmarshal(b, cfg); err != nil {
		return nil, errors.Wrapf(err, "cmn: parse JSON config %q", path)
	}
	return cfg, cfg.Validate()
}

// LoadYAML decodes a YAML configuration file, for operators who prefer
// YAML over JSON (mirrors the backup-tool example's config loader).
func LoadYAML(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cmn: read config %q", path)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, errors.Wrapf(err, "cmn: parse YAML config %q", path)
	}
	return cfg, cfg.Validate()
}

//
// GCO -- global config owner: Reconfigure swaps the pointer atomically,
// readers call GCO.Get() and never hold on to the result across a yield.
//

type gco struct {
	ptr ratomic.Pointer[Config]
}

var GCO gco

func (g *gco) Put(c *Config) { g.ptr.Store(c) }

func (g *gco) Get() *Config {
	c := g.ptr.Load()
	if c == nil {
		c = DefaultConfig()
		g.ptr.Store(c)
	}
	return c
}

func init() {
	GCO.Put(DefaultConfig())
}
