package ui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tonylturner/eipscan/internal/cip/ioengine"
)

// MonitorInterval is how often the monitor refreshes.
const MonitorInterval = 250 * time.Millisecond

// Snapshotter is the part of an I/O context the monitor reads.
type Snapshotter interface {
	Snapshot() ioengine.Snapshot
}

type tickMsg time.Time

// MonitorModel is a live view of one I/O connection.
type MonitorModel struct {
	name     string
	source   Snapshotter
	snap     ioengine.Snapshot
	now      time.Time
	status   string
	copyFn   func(string) error
	quitting bool
}

// NewMonitorModel returns a monitor over source.
func NewMonitorModel(name string, source Snapshotter) MonitorModel {
	return MonitorModel{
		name:   name,
		source: source,
		snap:   source.Snapshot(),
		now:    time.Now(),
		copyFn: CopyToClipboard,
	}
}

func tick() tea.Cmd {
	return tea.Tick(MonitorInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m MonitorModel) Init() tea.Cmd {
	return tick()
}

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.snap = m.source.Snapshot()
		m.now = time.Time(msg)
		if m.snap.State == ioengine.StateClosed {
			m.status = "connection closed"
			m.quitting = true
			return m, tea.Quit
		}
		return m, tick()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "y":
			return m, copyCmd(m.copyFn, hexOrEmpty(m.snap.Input))
		}
	case clipboardCopyMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("copy failed: %v", msg.err)
		} else {
			m.status = "input copied to clipboard"
		}
	}
	return m, nil
}

func (m MonitorModel) View() string {
	s := DefaultStyles
	view := RenderStatus(m.name, m.snap, m.now)
	if m.status != "" {
		view += "\n" + s.Info.Render(m.status)
	}
	if !m.quitting {
		view += "\n" + s.Key.Render("q") + s.Footer.Render(" quit  ") + s.Key.Render("y") + s.Footer.Render(" copy input")
	}
	return view + "\n"
}

// Snapshot returns the last snapshot the model displayed.
func (m MonitorModel) Snapshot() ioengine.Snapshot { return m.snap }

// RunMonitor shows the monitor until the user quits, ctx ends or the
// connection closes.
func RunMonitor(ctx context.Context, name string, source Snapshotter) error {
	p := tea.NewProgram(NewMonitorModel(name, source), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
