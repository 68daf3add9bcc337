package widget

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// render draws the whole sidebar.
func (m Model) render() string {
	sections := []string{
		m.renderHeader(),
		m.renderProgress(),
		m.renderWorker(),
		m.renderResults(),
		m.renderFooter(),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader() string {
	header := fmt.Sprintf(" go-locust-swarm │ %s │ Elapsed: %s ",
		m.label,
		formatDuration(m.status.Elapsed),
	)
	return headerStyle.Width(m.width).Render(header)
}

func (m Model) renderProgress() string {
	var line string
	if p := m.status.Progress(); p >= 0 {
		barWidth := max(m.width-12, 10)
		line = renderProgressBar(p, barWidth)
	} else {
		line = dimStyle.Render("running until the worker exits")
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Progress"),
		line,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

func (m Model) renderWorker() string {
	s := m.status

	state := s.State
	if state == "" {
		state = "not_started"
	}
	stateValue := stateStyle(state).Render(state)
	if state == "failed" || state == "finished" {
		stateValue += dimStyle.Render(fmt.Sprintf(" (exit %d)", s.ExitCode))
	}

	rows := []string{
		sectionHeaderStyle.Render("Worker"),
		renderKeyValue("State", stateValue),
	}
	if s.PID > 0 {
		rows = append(rows, renderKeyValue("PID", valueStyle.Render(fmt.Sprintf("%d", s.PID))))
	}
	rows = append(rows,
		renderKeyValue("Clients", valueStyle.Render(formatNumber(int64(s.TargetClients)))),
		renderKeyValue("Hatch rate", valueStyle.Render(fmt.Sprintf("%d/s", s.HatchRate))),
	)

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m Model) renderResults() string {
	s := m.status

	rows := []string{sectionHeaderStyle.Render("Results")}
	if s.Datapoints == 0 {
		rows = append(rows, dimStyle.Render("waiting for the first datapoint"))
		return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
	}

	rate := s.FailureRate()
	rows = append(rows,
		renderKeyValue("Datapoints", valueStyle.Render(formatNumber(s.Datapoints))),
		renderKeyValue("Requests", valueStyle.Render(formatNumber(s.Samples))),
		renderKeyValue("Failures", failureRateStyle(rate).Render(
			fmt.Sprintf("%s (%s)", formatNumber(s.Failures), formatPercent(rate)))),
		renderKeyValue("Throughput", valueStyle.Render(formatRate(s.Throughput))),
		renderKeyValue("Avg latency", valueStyle.Render(formatMs(s.AvgRT))),
		renderKeyValue("P90 latency", valueStyle.Render(formatMs(s.P90))),
		renderKeyValue("Max latency", valueStyle.Render(formatMs(s.MaxRT))),
	)

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m Model) renderFooter() string {
	shortcuts := []string{"q: stop"}
	if m.status.Duration > 0 {
		shortcuts = append(shortcuts, "limit: "+formatDuration(m.status.Duration))
	}
	return footerStyle.Render(strings.Join(shortcuts, " │ "))
}
