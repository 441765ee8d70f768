package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/micdrop/pitchcoach/internal/analysis"
	"github.com/micdrop/pitchcoach/internal/audio"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func metricsWithScore(overall int) analysis.PitchMetrics {
	return analysis.PitchMetrics{
		OverallScore: overall,
		Clarity:      analysis.ClarityMetric{Score: overall, Feedback: "Clear", Suggestions: []string{"Keep it up"}},
		Pace:         analysis.PaceMetric{Score: overall, WordsPerMinute: 140},
		Engagement:   analysis.EngagementMetric{Score: overall, EmotionalTone: "joy"},
	}
}

func TestStore_RecordAndGet(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := openTestStore(t)

	// Given a recorded session
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	saved, err := s.Record(ctx, Session{
		CreatedAt:      created,
		PersonaName:    "Sarah Chen",
		PersonaType:    "investor",
		Duration:       45 * time.Second,
		Transcription:  "Hello investors",
		Metrics:        metricsWithScore(72),
		ProcessingTime: 3200 * time.Millisecond,
		AudioFile:      "/tmp/take.webm",
	})
	req.NoError(err)
	req.NotEmpty(saved.ID)
	req.Equal(72, saved.OverallScore)

	// When read back
	got, err := s.Get(ctx, saved.ID)

	// Then every column round-trips
	req.NoError(err)
	req.WithinDuration(created, got.CreatedAt, time.Millisecond)
	req.Equal("investor", got.PersonaType)
	req.Equal(45*time.Second, got.Duration)
	req.Equal(3200*time.Millisecond, got.ProcessingTime)
	req.Equal(72, got.OverallScore)
	req.Equal(saved.Metrics, got.Metrics)
	req.Equal("/tmp/take.webm", got.AudioFile)
}

func TestStore_GetMissing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get(context.Background(), "nope")

	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListNewestFirst(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, score := range []int{50, 80, 65} {
		_, err := s.Record(ctx, Session{
			ID:        string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Metrics:   metricsWithScore(score),
		})
		req.NoError(err)
	}

	all, err := s.List(ctx, 0)
	req.NoError(err)
	req.Len(all, 3)
	req.Equal([]string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	limited, err := s.List(ctx, 2)
	req.NoError(err)
	req.Len(limited, 2)
	req.Equal("c", limited[0].ID)

	stats, err := s.Stats(ctx)
	req.NoError(err)
	req.Equal(3, stats.TotalSessions)
	req.Equal(65, stats.AverageScore)
	req.Equal(80, stats.BestScore)
	req.WithinDuration(base, stats.FirstSession, time.Millisecond)
	req.WithinDuration(base.Add(2*time.Minute), stats.LastSession, time.Millisecond)

	n, err := s.CountSince(ctx, base.Add(time.Minute))
	req.NoError(err)
	req.Equal(2, n)
}

func TestStore_Delete(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := openTestStore(t)

	saved, err := s.Record(ctx, Session{Metrics: metricsWithScore(40)})
	req.NoError(err)

	req.NoError(s.Delete(ctx, saved.ID))
	req.ErrorIs(s.Delete(ctx, saved.ID), ErrNotFound)

	stats, err := s.Stats(ctx)
	req.NoError(err)
	req.Equal(Stats{}, stats)
}

func TestStore_RecordAnalysis(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := openTestStore(t)

	// Given a completed attempt whose duration comes from the sample
	sample := audio.NewSample(make([]byte, 2048), "audio/webm", 30*time.Second)
	sample.Source = "/tmp/pitch.webm"
	err := s.RecordAnalysis(ctx, analysis.Completed{
		AttemptID:      "attempt-1",
		Request:        analysis.Request{Sample: sample},
		Persona:        analysis.Persona{Name: "Alex", Type: "customer"},
		Metrics:        metricsWithScore(88),
		Transcription:  "Buy now",
		ProcessingTime: 2 * time.Second,
		CompletedAt:    time.Now(),
	})
	req.NoError(err)

	// Then it is stored under the attempt id
	got, err := s.Get(ctx, "attempt-1")
	req.NoError(err)
	req.Equal(30*time.Second, got.Duration)
	req.Equal("customer", got.PersonaType)
	req.Equal("/tmp/pitch.webm", got.AudioFile)
	req.Equal(88, got.OverallScore)
}

func TestStore_Usage(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := openTestStore(t)

	u, err := s.Usage(ctx, 3)
	req.NoError(err)
	req.Equal(Usage{TotalAttempts: 0, Limit: 3, Remaining: 3, CanAttempt: true}, u)

	for i := 0; i < 4; i++ {
		_, err := s.Record(ctx, Session{Metrics: metricsWithScore(50)})
		req.NoError(err)
	}

	u, err = s.Usage(ctx, 3)
	req.NoError(err)
	req.Equal(Usage{TotalAttempts: 4, Limit: 3, Remaining: 0, CanAttempt: false}, u)

	u, err = s.Usage(ctx, 0)
	req.NoError(err)
	req.True(u.CanAttempt)
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Record(context.Background(), Session{Metrics: metricsWithScore(10)})
	require.NoError(t, err)
}
