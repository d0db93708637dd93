package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonylturner/eipscan/internal/cip/client"
	"github.com/tonylturner/eipscan/internal/enip"
	"github.com/tonylturner/eipscan/internal/ui"
)

type discoverFlags struct {
	bind      string
	broadcast string
	wait      time.Duration
	output    string
}

type discoveredDevice struct {
	IP           string `json:"ip"`
	Port         uint16 `json:"port"`
	VendorID     uint16 `json:"vendor_id"`
	DeviceType   uint16 `json:"device_type"`
	ProductCode  uint16 `json:"product_code"`
	Revision     string `json:"revision"`
	Status       uint16 `json:"status"`
	SerialNumber uint32 `json:"serial_number"`
	ProductName  string `json:"product_name"`
	State        uint8  `json:"state"`
}

func newDiscoveredDevice(id enip.IdentityItem) discoveredDevice {
	return discoveredDevice{
		IP:           id.Addr.IP().String(),
		Port:         id.Addr.Port,
		VendorID:     id.VendorID,
		DeviceType:   id.DeviceType,
		ProductCode:  id.ProductCode,
		Revision:     id.Revision.String(),
		Status:       id.Status,
		SerialNumber: id.SerialNumber,
		ProductName:  id.ProductName,
		State:        id.State,
	}
}

func newDiscoverCmd() *cobra.Command {
	flags := &discoverFlags{}

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Discover EtherNet/IP devices using ListIdentity",
		Long: `Broadcast a ListIdentity request on UDP port 44818 and list every
adapter that answers before --wait expires.

Use --bind to send from a specific local address when the host has several
interfaces, and --broadcast to target a directed broadcast address.`,
		Example: `  # Discover devices (1s wait)
  eipscan discover

  # Send from one interface and wait longer
  eipscan discover --bind 192.168.1.2:0 --wait 3s

  # Directed broadcast, JSON output
  eipscan discover --broadcast 10.0.0.255:44818 --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			return runDiscover(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.bind, "bind", "", "Local address to send from (host:port)")
	cmd.Flags().StringVar(&flags.broadcast, "broadcast", "", "Broadcast address (default 255.255.255.255:44818)")
	cmd.Flags().DurationVar(&flags.wait, "wait", client.DefaultDiscoveryWait, "How long to collect replies")
	cmd.Flags().StringVar(&flags.output, "output", "text", "Output format: text|json")

	return cmd
}

func runDiscover(cmd *cobra.Command, flags *discoverFlags) error {
	if flags.output != "text" && flags.output != "json" {
		return fmt.Errorf("invalid output format '%s'; must be 'text' or 'json'", flags.output)
	}

	ctx, cancel := signalContext()
	defer cancel()

	c := client.NewClient("", client.WithDiscoveryAddress(flags.broadcast))
	devices, err := c.ListIdentity(ctx, flags.bind, flags.wait)
	if err != nil {
		return fmt.Errorf("discover devices: %w", err)
	}

	out := cmd.OutOrStdout()
	if flags.output == "json" {
		list := make([]discoveredDevice, 0, len(devices))
		for _, d := range devices {
			list = append(list, newDiscoveredDevice(d))
		}
		data, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		fmt.Fprintf(out, "%s\n", data)
		return nil
	}
	fmt.Fprintln(out, ui.RenderDevices(devices))
	return nil
}
