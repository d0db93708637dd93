package ui

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/tonylturner/eipscan/internal/config"
)

// wizardValues holds the form fields as strings, the way huh edits them.
type wizardValues struct {
	IP          string
	Port        string
	VendorID    string
	Serial      string
	OutInstance string
	InInstance  string
	OutSize     string
	InSize      string
	RPIMs       string
	Multicast   bool
	Capture     bool
	LogLevel    string
}

func valuesFromConfig(cfg *config.Config) wizardValues {
	v := wizardValues{
		IP:       cfg.Target.IP,
		Port:     strconv.Itoa(cfg.Target.Port),
		VendorID: fmt.Sprintf("0x%04X", cfg.Originator.VendorID),
		Serial:   fmt.Sprintf("0x%08X", cfg.Originator.SerialNumber),
		Capture:  cfg.Capture.Enabled,
		LogLevel: cfg.Logging.Level,
	}
	if len(cfg.IOConnections) > 0 {
		conn := cfg.IOConnections[0]
		if conn.OToT.DataPath != nil {
			v.OutInstance = strconv.Itoa(int(conn.OToT.DataPath.Instance))
		}
		if conn.TToO.DataPath != nil {
			v.InInstance = strconv.Itoa(int(conn.TToO.DataPath.Instance))
		}
		if conn.OToT.Size != nil {
			v.OutSize = strconv.Itoa(*conn.OToT.Size)
		}
		if conn.TToO.Size != nil {
			v.InSize = strconv.Itoa(*conn.TToO.Size)
		}
		v.RPIMs = strconv.Itoa(conn.OToT.RPIMs)
		v.Multicast = conn.TToO.Type == "multicast"
	}
	return v
}

func validateIP(s string) error {
	if net.ParseIP(strings.TrimSpace(s)) == nil {
		return fmt.Errorf("not an IP address")
	}
	return nil
}

func validateUint(bits int) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		_, err := strconv.ParseUint(strings.TrimSpace(s), 0, bits)
		if err != nil {
			return fmt.Errorf("must be a number up to %d bits", bits)
		}
		return nil
	}
}

func buildConfigForm(v *wizardValues) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Target IP").
				Description("Address of the EtherNet/IP adapter.").
				Validate(validateIP).
				Value(&v.IP),
			huh.NewInput().
				Title("Target port").
				Validate(validateUint(16)).
				Value(&v.Port),
			huh.NewInput().
				Title("Originator vendor ID").
				Description("Sent in Forward Open; hex or decimal.").
				Validate(validateUint(16)).
				Value(&v.VendorID),
			huh.NewInput().
				Title("Originator serial").
				Validate(validateUint(32)).
				Value(&v.Serial),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Output assembly instance").
				Description("O->T data, consumed by the adapter.").
				Validate(validateUint(16)).
				Value(&v.OutInstance),
			huh.NewInput().
				Title("Output size (bytes)").
				Description("Leave empty to read it from the device.").
				Validate(validateUint(16)).
				Value(&v.OutSize),
			huh.NewInput().
				Title("Input assembly instance").
				Description("T->O data, produced by the adapter.").
				Validate(validateUint(16)).
				Value(&v.InInstance),
			huh.NewInput().
				Title("Input size (bytes)").
				Description("Leave empty to read it from the device.").
				Validate(validateUint(16)).
				Value(&v.InSize),
			huh.NewInput().
				Title("RPI (ms)").
				Validate(validateUint(16)).
				Value(&v.RPIMs),
			huh.NewConfirm().
				Title("Multicast input?").
				Value(&v.Multicast),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Record I/O to pcap?").
				Value(&v.Capture),
			huh.NewSelect[string]().
				Title("Log level").
				Options(
					huh.NewOption("Error", "error"),
					huh.NewOption("Info", "info"),
					huh.NewOption("Verbose", "verbose"),
					huh.NewOption("Debug", "debug"),
				).
				Value(&v.LogLevel),
		),
	)
}

func parseUint(s string, bits int) (uint64, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, false, fmt.Errorf("parse %q: %w", s, err)
	}
	return n, true, nil
}

// apply copies the form values onto the first I/O connection of cfg.
func (v wizardValues) apply(cfg *config.Config) error {
	if err := validateIP(v.IP); err != nil {
		return fmt.Errorf("target ip: %w", err)
	}
	cfg.Target.IP = strings.TrimSpace(v.IP)
	if n, ok, err := parseUint(v.Port, 16); err != nil {
		return fmt.Errorf("target port: %w", err)
	} else if ok {
		cfg.Target.Port = int(n)
	}
	if n, ok, err := parseUint(v.VendorID, 16); err != nil {
		return fmt.Errorf("vendor id: %w", err)
	} else if ok {
		cfg.Originator.VendorID = uint16(n)
	}
	if n, ok, err := parseUint(v.Serial, 32); err != nil {
		return fmt.Errorf("serial: %w", err)
	} else if ok {
		cfg.Originator.SerialNumber = uint32(n)
	}
	cfg.Capture.Enabled = v.Capture
	if v.LogLevel != "" {
		cfg.Logging.Level = v.LogLevel
	}

	if len(cfg.IOConnections) == 0 {
		cfg.IOConnections = config.CreateDefaultConfig().IOConnections
	}
	conn := &cfg.IOConnections[0]
	set := []struct {
		what string
		in   string
		out  func(int)
	}{
		{"output instance", v.OutInstance, func(n int) { conn.OToT.DataPath = &config.PathConfig{Class: 0x04, Instance: uint16(n)} }},
		{"input instance", v.InInstance, func(n int) { conn.TToO.DataPath = &config.PathConfig{Class: 0x04, Instance: uint16(n)} }},
		{"rpi", v.RPIMs, func(n int) { conn.OToT.RPIMs, conn.TToO.RPIMs = n, n }},
	}
	for _, s := range set {
		n, ok, err := parseUint(s.in, 16)
		if err != nil {
			return fmt.Errorf("%s: %w", s.what, err)
		}
		if ok {
			s.out(int(n))
		}
	}
	for _, sz := range []struct {
		in  string
		dst **int
	}{{v.OutSize, &conn.OToT.Size}, {v.InSize, &conn.TToO.Size}} {
		n, ok, err := parseUint(sz.in, 16)
		if err != nil {
			return fmt.Errorf("size: %w", err)
		}
		if ok {
			size := int(n)
			*sz.dst = &size
		} else {
			*sz.dst = nil
		}
	}
	if v.Multicast {
		conn.TToO.Type = "multicast"
	} else {
		conn.TToO.Type = "point_to_point"
	}
	return config.ValidateConfig(cfg)
}

// RunConfigWizard asks for the common settings, starting from the default
// configuration, and writes the result to path.
func RunConfigWizard(path string) (*config.Config, error) {
	cfg := config.CreateDefaultConfig()
	values := valuesFromConfig(cfg)
	if err := buildConfigForm(&values).Run(); err != nil {
		return nil, err
	}
	if err := values.apply(cfg); err != nil {
		return nil, err
	}
	if err := config.WriteConfig(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
