package ui

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tonylturner/eipscan/internal/cip/ioengine"
	"github.com/tonylturner/eipscan/internal/cip/objects"
	"github.com/tonylturner/eipscan/internal/enip"
)

type field struct {
	label string
	value string
}

func renderFields(title string, fields []field) string {
	s := DefaultStyles
	lines := []string{s.Title.Render(title)}
	for _, f := range fields {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, s.Label.Render(f.label), s.Value.Render(f.value)))
	}
	return s.Panel.Render(strings.Join(lines, "\n"))
}

// renderTable lays out rows under a bold header, padding each column to its widest cell.
func renderTable(headers []string, rows [][]string) string {
	s := DefaultStyles
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); i < len(widths) && w > widths[i] {
				widths[i] = w
			}
		}
	}
	var b strings.Builder
	for i, h := range headers {
		b.WriteString(s.Header.Width(widths[i] + 2).Render(h))
	}
	for _, row := range rows {
		b.WriteString("\n")
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			b.WriteString(s.Value.Width(widths[i] + 2).Render(cell))
		}
	}
	return b.String()
}

// RenderDevices lists ListIdentity replies as a table.
func RenderDevices(items []enip.IdentityItem) string {
	if len(items) == 0 {
		return DefaultStyles.Dim.Render("no devices responded")
	}
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			it.Addr.IP().String(),
			fmt.Sprintf("0x%04X", it.VendorID),
			fmt.Sprintf("0x%04X", it.DeviceType),
			fmt.Sprintf("0x%04X", it.ProductCode),
			it.Revision.String(),
			fmt.Sprintf("0x%08X", it.SerialNumber),
			it.ProductName,
		})
	}
	return renderTable([]string{"ADDRESS", "VENDOR", "TYPE", "PRODUCT", "REV", "SERIAL", "NAME"}, rows)
}

// RenderIdentity shows the Identity object of one device.
func RenderIdentity(target string, id objects.IdentityInstance) string {
	fields := []field{
		{"Product", id.ProductName},
		{"Vendor ID", fmt.Sprintf("%d (0x%04X)", id.VendorID, id.VendorID)},
		{"Device type", fmt.Sprintf("%d (0x%04X)", id.DeviceType, id.DeviceType)},
		{"Product code", fmt.Sprintf("%d", id.ProductCode)},
		{"Revision", id.Revision.String()},
		{"Status", fmt.Sprintf("0x%04X", id.Status)},
		{"Serial", fmt.Sprintf("0x%08X", id.SerialNumber)},
	}
	if id.HasState {
		fields = append(fields, field{"State", id.State.String()})
	}
	return renderFields("Identity "+target, fields)
}

// RenderAttribute shows one attribute read.
func RenderAttribute(label, formatted string, raw []byte) string {
	return renderFields(label, []field{
		{"Value", formatted},
		{"Raw", hexOrEmpty(raw)},
		{"Length", fmt.Sprintf("%d bytes", len(raw))},
	})
}

// RenderCatalog lists catalog entries.
func RenderCatalog(entries []*objects.Entry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		access := "get"
		if e.Settable {
			access = "get/set"
		}
		rows = append(rows, []string{
			e.Key,
			e.ObjectName,
			fmt.Sprintf("0x%02X/%d/%d", e.Class, e.Instance, e.Attribute),
			string(e.Type),
			access,
		})
	}
	return renderTable([]string{"KEY", "OBJECT", "PATH", "TYPE", "ACCESS"}, rows)
}

// RenderStatus shows the state and counters of an I/O connection.
func RenderStatus(name string, snap ioengine.Snapshot, now time.Time) string {
	s := DefaultStyles
	state := snap.State.String()
	switch snap.State {
	case ioengine.StateOpen:
		state = s.Success.Render(state)
	case ioengine.StateOpening, ioengine.StateClosing:
		state = s.Warning.Render(state)
	default:
		state = s.Error.Render(state)
	}
	return renderFields("I/O "+name, []field{
		{"State", state},
		{"O->T", fmt.Sprintf("0x%08X every %s", snap.OToTID, snap.OToTAPI)},
		{"T->O", fmt.Sprintf("0x%08X every %s", snap.TToOID, snap.TToOAPI)},
		{"Sent", fmt.Sprintf("%d (seq %d)", snap.Stats.Sent, snap.Stats.Sequence)},
		{"Received", fmt.Sprintf("%d, last %s", snap.Stats.Received, since(snap.LastReceived, now))},
		{"Dropped", fmt.Sprintf("%d", snap.Stats.Dropped)},
		{"Errors", fmt.Sprintf("%d", snap.Stats.Errors)},
		{"Output", hexOrEmpty(snap.Output)},
		{"Input", hexOrEmpty(snap.Input)},
	})
}

func since(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return now.Sub(t).Round(time.Millisecond).String() + " ago"
}

func hexOrEmpty(b []byte) string {
	if len(b) == 0 {
		return "-"
	}
	return strings.ToUpper(hex.EncodeToString(b))
}
