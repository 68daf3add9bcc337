package widget

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Status is the run state shown by the sidebar, refreshed once per check.
type Status struct {
	State         string
	PID           int
	ExitCode      int
	Elapsed       time.Duration
	Duration      time.Duration // 0 = until the worker exits
	TargetClients int
	HatchRate     int

	Datapoints  int64
	Samples     int64
	Failures    int64
	Throughput  float64 // samples/s of the last datapoint
	AvgRT       time.Duration
	P90         time.Duration
	MaxRT       time.Duration
	LastPointAt time.Time
}

// FailureRate returns Failures/Samples, or 0 before any samples arrived.
func (s Status) FailureRate() float64 {
	if s.Samples == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Samples)
}

// Progress returns Elapsed/Duration clamped to [0, 1], or -1 for an
// open-ended run.
func (s Status) Progress() float64 {
	if s.Duration <= 0 {
		return -1
	}
	p := s.Elapsed.Seconds() / s.Duration.Seconds()
	return min(max(p, 0), 1)
}

// =============================================================================
// Messages
// =============================================================================

// StatusMsg carries a status update into the program.
type StatusMsg Status

// QuitMsg asks the program to exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Model is the bubbletea model of the sidebar.
type Model struct {
	label  string
	status Status

	width  int
	height int

	quitting bool
}

// NewModel creates a sidebar model with the given label.
func NewModel(label string) Model {
	return Model{
		label:  label,
		width:  80,
		height: 24,
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case StatusMsg:
		m.status = Status(msg)
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the sidebar.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.render()
}

// Status returns the last status received.
func (m Model) Status() Status {
	return m.status
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumber formats a number with thousand separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "0"
	}
	str := fmt.Sprintf("%d", n)
	if n < 1000 {
		return str
	}

	result := make([]byte, 0, len(str)+len(str)/3)
	for i := range len(str) {
		if i > 0 && (len(str)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, str[i])
	}
	return string(result)
}

// formatRate formats a rate with appropriate precision.
func formatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}

// formatPercent formats a ratio as a percentage.
func formatPercent(value float64) string {
	return fmt.Sprintf("%.2f%%", value*100)
}

// formatMs formats a duration as milliseconds.
func formatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}
