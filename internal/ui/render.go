package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/micdrop/pitchcoach/internal/analysis"
	"github.com/micdrop/pitchcoach/internal/store"
)

const barWidth = 30

// Bar renders a fixed-width percentage bar.
func Bar(percent int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * barWidth / 100
	return BarFilledStyle.Render(strings.Repeat("█", filled)) +
		BarEmptyStyle.Render(strings.Repeat("░", barWidth-filled))
}

// RenderProgress renders a single progress line with stage, bar and ETA.
func RenderProgress(p analysis.Progress) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %3d%% %s", Bar(p.Percent), p.Percent, p.Message))
	if p.ETA != nil && *p.ETA > 0 {
		b.WriteString(DimStyle.Render(fmt.Sprintf(" (~%ds)", *p.ETA)))
	}
	if p.Stage == analysis.StageError {
		return ErrorStyle.Render(b.String())
	}
	return b.String()
}

// RenderMetrics renders the score breakdown for one analysis.
func RenderMetrics(m analysis.PitchMetrics) string {
	rows := []string{
		TitleStyle.Render("Pitch analysis") + "  " +
			ScoreStyle(m.OverallScore).Render(fmt.Sprintf("%d/100", m.OverallScore)),
		"",
	}

	for _, area := range analysis.Areas {
		score := m.Score(area)
		rows = append(rows, LabelStyle.Render(capitalize(string(area)))+
			ScoreStyle(score).Render(fmt.Sprintf("%3d", score))+"  "+
			DimStyle.Render(feedbackFor(m, area)))
	}

	rows = append(rows, "",
		DimStyle.Render(fmt.Sprintf("%d words/min · %d filler words · tone: %s",
			m.Pace.WordsPerMinute, m.Confidence.FillerWords, m.Engagement.EmotionalTone)))

	if len(m.Clarity.Suggestions) > 0 {
		rows = append(rows, "")
		for _, s := range m.Clarity.Suggestions {
			rows = append(rows, HintStyle.Render("• "+s))
		}
	}

	return BoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func feedbackFor(m analysis.PitchMetrics, area analysis.Area) string {
	switch area {
	case analysis.AreaClarity:
		return m.Clarity.Feedback
	case analysis.AreaPace:
		return m.Pace.Feedback
	case analysis.AreaConfidence:
		return m.Confidence.Feedback
	case analysis.AreaStructure:
		return m.Structure.Feedback
	case analysis.AreaEngagement:
		return m.Engagement.Feedback
	}
	return ""
}

// RenderError renders an analysis failure with a retry hint when applicable.
func RenderError(e *analysis.Error) string {
	if e == nil {
		return ""
	}
	out := ErrorStyle.Render("✗ " + e.Message)
	if e.Retryable {
		hint := "This error can be retried."
		if secs := e.RetryAfterSeconds(); secs != nil {
			hint = fmt.Sprintf("Retry after %d seconds.", *secs)
		}
		out += "\n" + HintStyle.Render(hint)
	}
	return out
}

// RenderStats renders recent history statistics.
func RenderStats(s analysis.Stats) string {
	if s.TotalAnalyses == 0 {
		return DimStyle.Render("No analyses yet")
	}
	rows := []string{
		TitleStyle.Render("Recent analyses"),
		LabelStyle.Render("Total") + fmt.Sprintf("%d", s.TotalAnalyses),
		LabelStyle.Render("Average") + ScoreStyle(s.AverageScore).Render(fmt.Sprintf("%d", s.AverageScore)),
		LabelStyle.Render("Best") + ScoreStyle(s.BestScore).Render(fmt.Sprintf("%d", s.BestScore)),
		LabelStyle.Render("Trend") + fmt.Sprintf("%+d", s.ImprovementTrend),
	}
	if s.StrongestArea != "" {
		rows = append(rows,
			LabelStyle.Render("Strongest")+capitalize(string(s.StrongestArea)),
			LabelStyle.Render("Weakest")+capitalize(string(s.WeakestArea)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// RenderStoreStats renders totals from the session database.
func RenderStoreStats(s store.Stats, u store.Usage) string {
	rows := []string{
		TitleStyle.Render("All sessions"),
		LabelStyle.Render("Total") + fmt.Sprintf("%d", s.TotalSessions),
	}
	if s.TotalSessions > 0 {
		rows = append(rows,
			LabelStyle.Render("Average")+ScoreStyle(s.AverageScore).Render(fmt.Sprintf("%d", s.AverageScore)),
			LabelStyle.Render("Best")+ScoreStyle(s.BestScore).Render(fmt.Sprintf("%d", s.BestScore)),
			LabelStyle.Render("Since")+s.FirstSession.Local().Format("2006-01-02"))
	}
	if u.Limit > 0 {
		rows = append(rows, LabelStyle.Render("Free left")+fmt.Sprintf("%d of %d", u.Remaining, u.Limit))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// RenderSessions renders a compact table of stored sessions.
func RenderSessions(sessions []store.Session) string {
	if len(sessions) == 0 {
		return DimStyle.Render("No sessions recorded")
	}
	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("%-8s  %-16s  %5s  %6s  %s", "ID", "When", "Score", "Length", "Persona")))
	for _, s := range sessions {
		persona := s.PersonaName
		if s.PersonaType != "" {
			persona = fmt.Sprintf("%s (%s)", persona, s.PersonaType)
		}
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("%-8s  %-16s  ", shortID(s.ID), s.CreatedAt.Local().Format("2006-01-02 15:04")))
		b.WriteString(ScoreStyle(s.OverallScore).Render(fmt.Sprintf("%5d", s.OverallScore)))
		b.WriteString(fmt.Sprintf("  %6s  %s", s.Duration.Round(time.Second), persona))
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
