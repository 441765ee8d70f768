package analysis

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/samber/lo"
)

// DefaultHistorySize is how many results History keeps.
const DefaultHistorySize = 10

// Entry is one completed analysis.
type Entry struct {
	ID             string        `json:"id"`
	CompletedAt    time.Time     `json:"completed_at"`
	Metrics        PitchMetrics  `json:"metrics"`
	Transcription  string        `json:"transcription"`
	ProcessingTime time.Duration `json:"processing_time"`
	Duration       time.Duration `json:"duration"`
	Persona        Persona       `json:"persona"`
}

// Stats summarizes a newest-first list of entries.
type Stats struct {
	TotalAnalyses         int           `json:"total_analyses"`
	AverageScore          int           `json:"average_score"`
	BestScore             int           `json:"best_score"`
	AverageProcessingTime time.Duration `json:"average_processing_time"`
	ImprovementTrend      int           `json:"improvement_trend"`
	StrongestArea         Area          `json:"strongest_area,omitempty"`
	WeakestArea           Area          `json:"weakest_area,omitempty"`
}

// History keeps the most recent results in memory, newest first.
type History struct {
	mu      sync.RWMutex
	size    int
	entries []Entry
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size}
}

// Add prepends e and drops the oldest entries beyond the size.
func (h *History) Add(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append([]Entry{e}, h.entries...)
	if len(h.entries) > h.size {
		h.entries = h.entries[:h.size]
	}
}

// RecordAnalysis implements ResultSink.
func (h *History) RecordAnalysis(_ context.Context, c Completed) error {
	h.Add(EntryFromCompleted(c))
	return nil
}

// EntryFromCompleted converts a sink notification into a history entry.
func EntryFromCompleted(c Completed) Entry {
	return Entry{
		ID:             c.AttemptID,
		CompletedAt:    c.CompletedAt,
		Metrics:        c.Metrics,
		Transcription:  c.Transcription,
		ProcessingTime: c.ProcessingTime,
		Duration:       time.Duration(c.Request.Seconds() * float64(time.Second)),
		Persona:        c.Persona,
	}
}

func (h *History) Entries() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *History) Clear() {
	h.mu.Lock()
	h.entries = nil
	h.mu.Unlock()
}

func (h *History) Stats() Stats {
	return ComputeStats(h.Entries())
}

// ComputeStats expects entries newest first. Strongest and weakest area are
// taken from the newest entry; ties go to the later area in Areas order.
func ComputeStats(entries []Entry) Stats {
	n := len(entries)
	if n == 0 {
		return Stats{}
	}

	total := lo.SumBy(entries, func(e Entry) int { return e.Metrics.OverallScore })
	best := lo.MaxBy(entries, func(a, b Entry) bool { return a.Metrics.OverallScore > b.Metrics.OverallScore })
	totalTime := lo.SumBy(entries, func(e Entry) time.Duration { return e.ProcessingTime })

	s := Stats{
		TotalAnalyses:         n,
		AverageScore:          int(math.Round(float64(total) / float64(n))),
		BestScore:             best.Metrics.OverallScore,
		AverageProcessingTime: time.Duration(math.Round(float64(totalTime) / float64(n))),
	}
	if n >= 2 {
		s.ImprovementTrend = entries[0].Metrics.OverallScore - entries[n-1].Metrics.OverallScore
	}

	latest := entries[0].Metrics
	s.StrongestArea = lo.MaxBy(Areas, func(a, b Area) bool { return latest.Score(a) >= latest.Score(b) })
	s.WeakestArea = lo.MinBy(Areas, func(a, b Area) bool { return latest.Score(a) <= latest.Score(b) })
	return s
}
