package config

// Configuration loading and validation for eipscan

import (
	"errors"
	"fmt"
	"math/bits"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tonylturner/eipscan/internal/cip/connection"
	"github.com/tonylturner/eipscan/internal/cip/path"
	"github.com/tonylturner/eipscan/internal/enip"
	uerrors "github.com/tonylturner/eipscan/internal/errors"
	"github.com/tonylturner/eipscan/internal/logging"
)

// DefaultPath is the configuration file used when none is given.
const DefaultPath = "eipscan.yaml"

// TargetConfig is the device to talk to.
type TargetConfig struct {
	IP        string `yaml:"ip"`
	Port      int    `yaml:"port"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// Timeout returns the explicit messaging timeout.
func (t TargetConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutMs) * time.Millisecond
}

// OriginatorConfig identifies this scanner to the device.
type OriginatorConfig struct {
	VendorID     uint16 `yaml:"vendor_id"`
	SerialNumber uint32 `yaml:"serial_number"`
	UDPPort      int    `yaml:"udp_port"` // local port for T->O datagrams
}

// PathConfig addresses an object attribute. Zero instance or attribute is omitted.
type PathConfig struct {
	Class     uint16 `yaml:"class"`
	Instance  uint16 `yaml:"instance"`
	Attribute uint16 `yaml:"attribute,omitempty"`
}

// EPath converts the config to a CIP path.
func (p PathConfig) EPath() path.EPath {
	return path.ToObject(uint32(p.Class), uint32(p.Instance), uint32(p.Attribute))
}

// DirectionConfig describes one direction of an I/O connection.
type DirectionConfig struct {
	Type           string      `yaml:"type"`     // "point_to_point", "multicast" or "null"
	Priority       string      `yaml:"priority"` // "low", "high", "scheduled" or "urgent"
	RPIMs          int         `yaml:"rpi_ms"`
	Format         string      `yaml:"format"`              // "modeless", "zero_length", "heartbeat" or "header32"
	Size           *int        `yaml:"size,omitempty"`      // application bytes; probed from the device when unset
	SizeType       string      `yaml:"size_type,omitempty"` // "fixed" or "variable"
	OwnerRedundant *bool       `yaml:"owner_redundant,omitempty"`
	ConfigPath     *PathConfig `yaml:"config_path,omitempty"` // O->T only
	DataPath       *PathConfig `yaml:"data_path,omitempty"`
	PITMs          int         `yaml:"pit_ms,omitempty"` // production inhibit time, T->O only
}

// IOConnectionConfig represents configuration for a connected I/O connection
type IOConnectionConfig struct {
	Name           string          `yaml:"name"`
	Large          bool            `yaml:"large,omitempty"`
	Compatibility  bool            `yaml:"compatibility,omitempty"`
	Trigger        string          `yaml:"trigger"` // "cyclic", "change_of_state" or "application"
	TransportClass int             `yaml:"transport_class"`
	TimeoutTick    uint8           `yaml:"timeout_tick"`
	TimeoutTicks   uint8           `yaml:"timeout_ticks"`
	Multiplier     int             `yaml:"multiplier"` // 4, 8, ... 512
	OToT           DirectionConfig `yaml:"o_to_t"`
	TToO           DirectionConfig `yaml:"t_to_o"`
}

// CaptureConfig controls the pcap recording of I/O datagrams.
type CaptureConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	File     string `yaml:"file,omitempty"`
	LogEvery int    `yaml:"log_every,omitempty"`
}

// Config represents the scanner configuration
type Config struct {
	Target        TargetConfig         `yaml:"target"`
	Originator    OriginatorConfig     `yaml:"originator"`
	IOConnections []IOConnectionConfig `yaml:"io_connections"`
	Capture       CaptureConfig        `yaml:"capture"`
	Logging       LoggingConfig        `yaml:"logging"`
}

// Connection returns the I/O connection with the given name, or the first
// one when name is empty.
func (c *Config) Connection(name string) (*IOConnectionConfig, error) {
	if len(c.IOConnections) == 0 {
		return nil, errors.New("no io_connections configured")
	}
	if name == "" {
		return &c.IOConnections[0], nil
	}
	for i := range c.IOConnections {
		if c.IOConnections[i].Name == name {
			return &c.IOConnections[i], nil
		}
	}
	return nil, fmt.Errorf("io connection %q not found", name)
}

// NewLogger builds the logger the logging section describes.
func (c *Config) NewLogger() (*logging.Logger, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLoggerWithOptions(level, c.Logging.File, c.Logging.Format, c.Logging.LogEvery)
}

func intPtr(v int) *int { return &v }

// CreateDefaultConfig creates a default configuration with one exclusive
// owner connection: assembly 150 out, assembly 100 in, multicast T->O.
func CreateDefaultConfig() *Config {
	cfg := &Config{
		Target: TargetConfig{IP: "192.168.1.10"},
		Originator: OriginatorConfig{
			VendorID:     connection.DefaultOriginator.VendorID,
			SerialNumber: connection.DefaultOriginator.SerialNumber,
		},
		IOConnections: []IOConnectionConfig{
			{
				Name:           "exclusive_owner",
				Trigger:        "cyclic",
				TransportClass: 1,
				OToT: DirectionConfig{
					Type:       "point_to_point",
					RPIMs:      100,
					Format:     "header32",
					Size:       intPtr(8),
					ConfigPath: &PathConfig{Class: 0x04, Instance: 1},
					DataPath:   &PathConfig{Class: 0x04, Instance: 150},
				},
				TToO: DirectionConfig{
					Type:     "multicast",
					RPIMs:    100,
					Format:   "modeless",
					Size:     intPtr(8),
					DataPath: &PathConfig{Class: 0x04, Instance: 100},
				},
			},
		},
		Capture: CaptureConfig{Path: "eipscan_io.pcap"},
	}
	applyDefaults(cfg)
	return cfg
}

// WriteConfig writes cfg as YAML.
func WriteConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// WriteDefaultConfig writes a default configuration to a file
func WriteDefaultConfig(path string) error {
	return WriteConfig(path, CreateDefaultConfig())
}

// LoadConfig loads a configuration from a YAML file
// If the file doesn't exist and autoCreate is true, it will create a default config file
func LoadConfig(path string, autoCreate bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, uerrors.WrapConfigError(fmt.Errorf("read config file: %w", err), path)
		}
		if !autoCreate {
			return nil, uerrors.WrapConfigError(fmt.Errorf("config file not found: %w", err), path)
		}
		if err := WriteDefaultConfig(path); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
		if data, err = os.ReadFile(path); err != nil {
			return nil, uerrors.WrapConfigError(fmt.Errorf("read created config file: %w", err), path)
		}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, uerrors.WrapConfigError(fmt.Errorf("parse YAML: %w", err), path)
	}
	applyDefaults(&cfg)
	if err := ValidateConfig(&cfg); err != nil {
		return nil, uerrors.WrapConfigError(fmt.Errorf("validate config: %w", err), path)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Target.Port == 0 {
		cfg.Target.Port = enip.DefaultPort
	}
	if cfg.Target.TimeoutMs == 0 {
		cfg.Target.TimeoutMs = 5000
	}
	if cfg.Originator.VendorID == 0 {
		cfg.Originator.VendorID = connection.DefaultOriginator.VendorID
	}
	if cfg.Originator.SerialNumber == 0 {
		cfg.Originator.SerialNumber = connection.DefaultOriginator.SerialNumber
	}
	if cfg.Originator.UDPPort == 0 {
		cfg.Originator.UDPPort = connection.DefaultPort
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.LogEvery == 0 {
		cfg.Logging.LogEvery = 1
	}
	if cfg.Capture.Enabled && cfg.Capture.Path == "" {
		cfg.Capture.Path = "eipscan_io.pcap"
	}
	for i := range cfg.IOConnections {
		conn := &cfg.IOConnections[i]
		if conn.Trigger == "" {
			conn.Trigger = "cyclic"
		}
		if conn.TransportClass == 0 {
			conn.TransportClass = 1
		}
		if conn.TimeoutTick == 0 && conn.TimeoutTicks == 0 {
			conn.TimeoutTick = connection.DefaultTimeout.Tick
			conn.TimeoutTicks = connection.DefaultTimeout.Ticks
		}
		if conn.Multiplier == 0 {
			conn.Multiplier = connection.MultiplierValue32.Factor()
		}
		applyDirectionDefaults(&conn.OToT, "point_to_point", "header32")
		applyDirectionDefaults(&conn.TToO, "multicast", "modeless")
	}
}

func applyDirectionDefaults(d *DirectionConfig, connType, format string) {
	if d.Type == "" {
		d.Type = connType
	}
	if d.Priority == "" {
		d.Priority = "scheduled"
	}
	if d.RPIMs == 0 {
		d.RPIMs = int(connection.DefaultRPI / time.Millisecond)
	}
	if d.Format == "" {
		d.Format = format
	}
	if d.SizeType == "" {
		d.SizeType = "variable"
	}
}

// ValidateConfig validates a configuration
func ValidateConfig(cfg *Config) error {
	if cfg.Target.Port < 1 || cfg.Target.Port > 65535 {
		return fmt.Errorf("target.port must be 1-65535, got %d", cfg.Target.Port)
	}
	if cfg.Target.TimeoutMs < 0 {
		return fmt.Errorf("target.timeout_ms must be >= 0")
	}
	if cfg.Originator.UDPPort < 1 || cfg.Originator.UDPPort > 65535 {
		return fmt.Errorf("originator.udp_port must be 1-65535, got %d", cfg.Originator.UDPPort)
	}
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if f := cfg.Logging.Format; f != "" && f != "text" && f != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got '%s'", f)
	}
	if cfg.Logging.LogEvery < 0 {
		return fmt.Errorf("logging.log_every must be >= 0")
	}
	if cfg.Capture.Enabled && cfg.Capture.Path == "" {
		return fmt.Errorf("capture.path is required when capture is enabled")
	}

	names := make(map[string]bool)
	for i, conn := range cfg.IOConnections {
		if err := validateIOConnection(conn, i); err != nil {
			return err
		}
		if names[conn.Name] {
			return fmt.Errorf("io_connections[%d]: duplicate name '%s'", i, conn.Name)
		}
		names[conn.Name] = true
	}
	return nil
}

// validateIOConnection validates a single IO connection configuration by
// building its Forward Open request.
func validateIOConnection(conn IOConnectionConfig, index int) error {
	if conn.Name == "" {
		return fmt.Errorf("io_connections[%d]: name is required", index)
	}
	req, err := conn.ForwardOpenRequest(connection.DefaultOriginator, 0)
	if err != nil {
		return fmt.Errorf("io_connections[%d]: %w", index, err)
	}
	// Unset sizes are probed at open time; only declared sizes are checked here.
	for _, c := range []*connection.IOConnection{req.OToT, req.TToO} {
		if c.DataSize == nil {
			continue
		}
		if err := c.ValidateDataSize(req.MaxDataSize()); err != nil {
			return fmt.Errorf("io_connections[%d]: %w", index, err)
		}
	}
	if _, err := req.ConnectionPath(); err != nil {
		return fmt.Errorf("io_connections[%d]: %w", index, err)
	}
	return nil
}

// ForwardOpenRequest converts the configuration to a Forward Open request.
// A nonzero localPort overrides the T->O port.
func (c IOConnectionConfig) ForwardOpenRequest(orig connection.Originator, localPort uint16) (*connection.ForwardOpenRequest, error) {
	oToT, err := c.OToT.ioConnection(connection.FlowOToT)
	if err != nil {
		return nil, fmt.Errorf("o_to_t: %w", err)
	}
	tToO, err := c.TToO.ioConnection(connection.FlowTToO)
	if err != nil {
		return nil, fmt.Errorf("t_to_o: %w", err)
	}
	if localPort != 0 {
		tToO.Port = localPort
	}

	req := connection.NewForwardOpenRequest(oToT, tToO, orig)
	req.Large = c.Large
	if req.Trigger, err = connection.ParseProductionTrigger(c.Trigger); err != nil {
		return nil, err
	}
	if c.TransportClass < 0 || c.TransportClass > 3 {
		return nil, fmt.Errorf("transport_class must be 0-3, got %d", c.TransportClass)
	}
	req.Class = connection.TransportClass(c.TransportClass)
	if c.TimeoutTick > 0x0F {
		return nil, fmt.Errorf("timeout_tick must be 0-15, got %d", c.TimeoutTick)
	}
	if c.TimeoutTick != 0 || c.TimeoutTicks != 0 {
		req.Timeout = connection.Timeout{Tick: c.TimeoutTick, Ticks: c.TimeoutTicks}
	}
	if c.Multiplier != 0 {
		if req.Multiplier, err = parseMultiplier(c.Multiplier); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func parseMultiplier(factor int) (connection.TimeoutMultiplier, error) {
	if factor < 4 || factor > 512 || factor&(factor-1) != 0 {
		return 0, fmt.Errorf("multiplier must be a power of two from 4 to 512, got %d", factor)
	}
	return connection.TimeoutMultiplier(bits.TrailingZeros(uint(factor)) - 2), nil
}

func (d DirectionConfig) ioConnection(flow connection.Flow) (*connection.IOConnection, error) {
	var data path.EPath
	if d.DataPath != nil {
		data = d.DataPath.EPath()
	}
	var conn *connection.IOConnection
	if flow == connection.FlowOToT {
		conn = connection.NewOToT(data)
		if d.ConfigPath != nil {
			conn.ConfigPath = d.ConfigPath.EPath()
		}
	} else {
		if d.ConfigPath != nil {
			return nil, errors.New("config_path is only valid for o_to_t")
		}
		conn = connection.NewTToO(data)
	}

	var err error
	if d.Type != "" {
		if conn.Type, err = connection.ParseConnectionType(d.Type); err != nil {
			return nil, err
		}
	}
	if conn.Priority, err = connection.ParsePriority(d.Priority); err != nil {
		return nil, err
	}
	if d.Format != "" {
		if conn.RealTimeFormat, err = connection.ParseRealTimeFormat(d.Format); err != nil {
			return nil, err
		}
	}
	switch d.SizeType {
	case "", "variable":
		conn.SizeType = connection.SizeVariable
	case "fixed":
		conn.SizeType = connection.SizeFixed
	default:
		return nil, fmt.Errorf("size_type must be 'fixed' or 'variable', got '%s'", d.SizeType)
	}
	if d.OwnerRedundant != nil {
		conn.OwnerRedundant = *d.OwnerRedundant
	}
	if d.RPIMs < 0 {
		return nil, fmt.Errorf("rpi_ms must be > 0, got %d", d.RPIMs)
	}
	if d.RPIMs > 0 {
		conn.RPI = time.Duration(d.RPIMs) * time.Millisecond
	}
	if d.Size != nil {
		if *d.Size < 0 || *d.Size > 0xFFFF {
			return nil, fmt.Errorf("size must be 0-65535, got %d", *d.Size)
		}
		conn.SetDataSize(uint16(*d.Size))
	}
	if d.PITMs != 0 {
		if flow == connection.FlowOToT {
			return nil, errors.New("pit_ms is only valid for t_to_o")
		}
		if d.PITMs < 0 || d.PITMs > 0xFF {
			return nil, fmt.Errorf("pit_ms must be 1-255, got %d", d.PITMs)
		}
		conn.DataPath = conn.DataPath.WithProductionInhibitTime(uint8(d.PITMs))
	}
	return conn, nil
}
