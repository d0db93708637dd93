package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tonylturner/eipscan/internal/cip/connection"
	uerrors "github.com/tonylturner/eipscan/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "eipscan.yaml")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadConfig(t *testing.T) {
	p := writeConfig(t, `
target:
  ip: 10.0.0.20
originator:
  vendor_id: 0x0123
  serial_number: 0xCAFE
io_connections:
  - name: rack
    large: true
    multiplier: 64
    o_to_t:
      rpi_ms: 20
      size: 32
      config_path: {class: 0x04, instance: 1}
      data_path: {class: 0x04, instance: 150}
    t_to_o:
      type: point_to_point
      rpi_ms: 10
      data_path: {class: 0x04, instance: 100}
      pit_ms: 5
logging:
  level: debug
`)
	cfg, err := LoadConfig(p, false)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Target.IP != "10.0.0.20" || cfg.Target.Port != 44818 {
		t.Errorf("target = %+v", cfg.Target)
	}
	if cfg.Target.Timeout() != 5*time.Second {
		t.Errorf("timeout = %s, want default 5s", cfg.Target.Timeout())
	}
	if cfg.Originator.VendorID != 0x0123 || cfg.Originator.UDPPort != connection.DefaultPort {
		t.Errorf("originator = %+v", cfg.Originator)
	}

	conn, err := cfg.Connection("rack")
	if err != nil {
		t.Fatalf("Connection(rack) error = %v", err)
	}
	if conn.OToT.Format != "header32" || conn.TToO.Format != "modeless" {
		t.Errorf("formats = %s / %s", conn.OToT.Format, conn.TToO.Format)
	}
	if conn.TToO.Size != nil {
		t.Errorf("unset t_to_o size should stay nil for probing, got %d", *conn.TToO.Size)
	}

	req, err := conn.ForwardOpenRequest(connection.Originator{VendorID: cfg.Originator.VendorID}, 0)
	if err != nil {
		t.Fatalf("ForwardOpenRequest() error = %v", err)
	}
	if !req.Large || req.Multiplier != connection.MultiplierValue64 {
		t.Errorf("large = %v, multiplier = %d", req.Large, req.Multiplier)
	}
	if req.OToT.RPI != 20*time.Millisecond || *req.OToT.DataSize != 32 {
		t.Errorf("o_to_t = rpi %s size %d", req.OToT.RPI, *req.OToT.DataSize)
	}
	if req.TToO.Type != connection.TypePointToPoint {
		t.Errorf("t_to_o type = %s", req.TToO.Type)
	}
	if pit, ok := req.TToO.DataPath.ProductionInhibitTime(); !ok || pit.Value != 5 {
		t.Errorf("t_to_o PIT = %+v, %v", pit, ok)
	}
	if req.Timeout != connection.DefaultTimeout {
		t.Errorf("timeout = %s", req.Timeout)
	}
}

func TestLoadConfigMissing(t *testing.T) {
	p := filepath.Join(t.TempDir(), "missing.yaml")

	_, err := LoadConfig(p, false)
	var ufe uerrors.UserFriendlyError
	if !errors.As(err, &ufe) {
		t.Fatalf("LoadConfig() error = %v, want UserFriendlyError", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error should unwrap to ErrNotExist: %v", err)
	}

	cfg, err := LoadConfig(p, true)
	if err != nil {
		t.Fatalf("LoadConfig(autoCreate) error = %v", err)
	}
	if len(cfg.IOConnections) != 1 || cfg.IOConnections[0].Name != "exclusive_owner" {
		t.Errorf("created config = %+v", cfg.IOConnections)
	}
	if _, err := os.Stat(p); err != nil {
		t.Errorf("default config not written: %v", err)
	}
}

func TestDefaultConfigBuildsRequest(t *testing.T) {
	cfg := CreateDefaultConfig()
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("ValidateConfig(default) error = %v", err)
	}
	conn, err := cfg.Connection("")
	if err != nil {
		t.Fatalf("Connection() error = %v", err)
	}
	req, err := conn.ForwardOpenRequest(connection.DefaultOriginator, 2300)
	if err != nil {
		t.Fatalf("ForwardOpenRequest() error = %v", err)
	}
	if err := req.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if req.TToO.Port != 2300 {
		t.Errorf("t_to_o port = %d, want 2300", req.TToO.Port)
	}
	if req.TToO.Type != connection.TypeMulticast || req.Class != connection.TransportClass1 {
		t.Errorf("type = %s, class = %d", req.TToO.Type, req.Class)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "bad port",
			modify: func(c *Config) { c.Target.Port = 70000 },
			errMsg: "target.port",
		},
		{
			name:   "bad log format",
			modify: func(c *Config) { c.Logging.Format = "xml" },
			errMsg: "logging.format",
		},
		{
			name:   "capture without path",
			modify: func(c *Config) { c.Capture = CaptureConfig{Enabled: true} },
			errMsg: "capture.path",
		},
		{
			name:   "missing name",
			modify: func(c *Config) { c.IOConnections[0].Name = "" },
			errMsg: "name is required",
		},
		{
			name: "duplicate name",
			modify: func(c *Config) {
				c.IOConnections = append(c.IOConnections, c.IOConnections[0])
			},
			errMsg: "duplicate name",
		},
		{
			name:   "bad trigger",
			modify: func(c *Config) { c.IOConnections[0].Trigger = "sometimes" },
			errMsg: "production trigger",
		},
		{
			name:   "bad multiplier",
			modify: func(c *Config) { c.IOConnections[0].Multiplier = 48 },
			errMsg: "multiplier",
		},
		{
			name:   "bad transport class",
			modify: func(c *Config) { c.IOConnections[0].TransportClass = 5 },
			errMsg: "transport_class",
		},
		{
			name:   "bad priority",
			modify: func(c *Config) { c.IOConnections[0].OToT.Priority = "whenever" },
			errMsg: "o_to_t",
		},
		{
			name: "oversized small connection",
			modify: func(c *Config) {
				c.IOConnections[0].OToT.Size = intPtr(600)
			},
			errMsg: "exceeds",
		},
		{
			name:   "t_to_o without data path",
			modify: func(c *Config) { c.IOConnections[0].TToO.DataPath = nil },
			errMsg: "data path",
		},
		{
			name: "config path on t_to_o",
			modify: func(c *Config) {
				c.IOConnections[0].TToO.ConfigPath = &PathConfig{Class: 4, Instance: 1}
			},
			errMsg: "config_path",
		},
		{
			name:   "pit on o_to_t",
			modify: func(c *Config) { c.IOConnections[0].OToT.PITMs = 5 },
			errMsg: "pit_ms",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := CreateDefaultConfig()
			tt.modify(cfg)
			err := ValidateConfig(cfg)
			if err == nil {
				t.Fatal("ValidateConfig() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("ValidateConfig() error = %q, want to contain %q", err, tt.errMsg)
			}
		})
	}
}

func TestNullTToOSkipsDataPath(t *testing.T) {
	cfg := CreateDefaultConfig()
	cfg.IOConnections[0].TToO = DirectionConfig{Type: "null"}
	applyDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("ValidateConfig() error = %v", err)
	}
}

func TestConnectionLookup(t *testing.T) {
	cfg := CreateDefaultConfig()
	if _, err := cfg.Connection("nope"); err == nil {
		t.Error("Connection(nope) succeeded")
	}
	cfg.IOConnections = nil
	if _, err := cfg.Connection(""); err == nil {
		t.Error("Connection() on empty list succeeded")
	}
}

func TestWriteConfigRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "out.yaml")
	cfg := CreateDefaultConfig()
	cfg.Target.IP = "172.16.0.9"
	cfg.Logging.Format = "json"
	if err := WriteConfig(p, cfg); err != nil {
		t.Fatalf("WriteConfig() error = %v", err)
	}
	loaded, err := LoadConfig(p, false)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.Target.IP != "172.16.0.9" || loaded.Logging.Format != "json" {
		t.Errorf("loaded = %+v / %+v", loaded.Target, loaded.Logging)
	}
	if *loaded.IOConnections[0].OToT.Size != 8 {
		t.Errorf("o_to_t size = %d", *loaded.IOConnections[0].OToT.Size)
	}
}
