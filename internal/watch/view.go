package watch

import (
	"fmt"
	"strings"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/lipgloss"

	"github.com/focusroom/focusd/internal/stageclock"
	"github.com/focusroom/focusd/internal/store"
)

const (
	sparklineWidth  = 40
	sparklineHeight = 3
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	plannedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// kindWeight sets the sparkline height of each stage kind.
var kindWeight = map[stageclock.Kind]float64{
	stageclock.KindIntro:      1,
	stageclock.KindOutro:      1,
	stageclock.KindBreak:      1,
	stageclock.KindIntentions: 2,
	stageclock.KindFocus:      3,
}

// statusBadge renders the lifecycle state.
func statusBadge(st store.Status) string {
	switch st {
	case store.StatusActive:
		return activeStyle.Render("● LIVE")
	case store.StatusPlanned:
		return plannedStyle.Render("○ PLANNED")
	}
	return dimStyle.Render("■ ENDED")
}

// scheduleShape samples the schedule into width columns, one weight per
// column, so long focus blocks read as tall plateaus.
func scheduleShape(schedule stageclock.Schedule, width int) []float64 {
	total := schedule.TotalMinutes()
	if total == 0 || width <= 0 {
		return nil
	}
	offsets := schedule.Offsets()
	out := make([]float64, width)
	stage := 0
	for col := range out {
		minute := col * total / width
		for stage+1 < len(offsets) && minute >= offsets[stage+1] {
			stage++
		}
		out[col] = kindWeight[schedule[stage].Kind]
	}
	return out
}

func renderSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no schedule"))
	}
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	spark.PushAll(data)
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}

// View renders the session view.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.session == nil {
		return m.renderWaiting()
	}
	return m.renderSession()
}

func (m Model) renderWaiting() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(" focusd watch ") + "\n\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render("⚠ Cannot load session") + "\n\n")
		b.WriteString(dimStyle.Render("Session: ") + valueStyle.Render(m.sessionID) + "\n")
		b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n")
	} else {
		b.WriteString(dimStyle.Render("Loading session "+m.sessionID+"...") + "\n")
	}
	b.WriteString(m.footer())
	return containerStyle.Render(b.String())
}

func (m Model) renderSession() string {
	var b strings.Builder
	s := m.session
	p := m.progress

	b.WriteString(headerStyle.Render(" "+s.Title+" ") + "   " + statusBadge(s.Status) + "\n")
	b.WriteString(dimStyle.Render("hosted by ") + valueStyle.Render(s.Host) +
		dimStyle.Render("   starts ") + valueStyle.Render(FormatClock(s.Reference())) + "\n")

	stageName := p.Stage.Name
	stageStyle := valueStyle
	if p.Stage.Color != "" {
		stageStyle = stageStyle.Foreground(lipgloss.Color(p.Stage.Color))
	}
	b.WriteString("\n" + sectionStyle.Render(fmt.Sprintf("┃ Stage %d/%d", p.Index+1, len(s.Schedule))) + "\n")
	b.WriteString(labelStyle.Render("  Now: ") + stageStyle.Render(stageName) +
		dimStyle.Render(" ("+string(p.Stage.Kind)+")") + "\n")
	remaining := p.RemainingText
	if p.Finished {
		remaining = "done"
	}
	b.WriteString(labelStyle.Render("  Left: ") + valueStyle.Render(remaining) +
		dimStyle.Render("   until "+FormatClock(p.StageEndsAt)) + "\n")
	b.WriteString(labelStyle.Render("  Stage: ") + m.stageBar.ViewAs(clamp(p.StageProgress)) + "\n")

	if next := p.Index + 1; next < len(s.Schedule) && !p.Finished {
		b.WriteString(labelStyle.Render("  Next: ") + valueStyle.Render(s.Schedule[next].Name) +
			dimStyle.Render(fmt.Sprintf(" (%d min)", s.Schedule[next].DurationMinutes)) + "\n")
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Session") + "\n")
	b.WriteString(labelStyle.Render("  Elapsed: ") + valueStyle.Render(FormatDuration(p.Elapsed)) +
		dimStyle.Render(" of "+FormatDuration(s.Schedule.Total())) + "\n")
	b.WriteString(labelStyle.Render("  Total: ") + m.totalBar.ViewAs(clamp(p.TotalProgress)) +
		" " + dimStyle.Render(FormatPercentage(p.TotalProgress)) + "\n")
	b.WriteString(labelStyle.Render("  Shape:") + "\n" + renderSparkline(scheduleShape(s.Schedule, sparklineWidth)) + "\n")

	if m.err != nil {
		b.WriteString("\n" + errorStyle.Render("refresh failed: "+m.err.Error()) + "\n")
	}
	b.WriteString(m.footer())
	return containerStyle.Render(b.String())
}

func (m Model) footer() string {
	return "\n" + footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Refresh: %v", m.refresh))
}
