package analysis

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// PitchMetrics is the normalized result shown to the user.
type PitchMetrics struct {
	OverallScore int              `json:"overall_score"`
	Clarity      ClarityMetric    `json:"clarity"`
	Pace         PaceMetric       `json:"pace"`
	Confidence   ConfidenceMetric `json:"confidence"`
	Structure    StructureMetric  `json:"structure"`
	Engagement   EngagementMetric `json:"engagement"`
}

type ClarityMetric struct {
	Score       int      `json:"score"`
	Feedback    string   `json:"feedback"`
	Suggestions []string `json:"suggestions"`
}

type PaceMetric struct {
	Score          int    `json:"score"`
	WordsPerMinute int    `json:"words_per_minute"`
	Feedback       string `json:"feedback"`
}

type ConfidenceMetric struct {
	Score       int    `json:"score"`
	FillerWords int    `json:"filler_words"`
	Feedback    string `json:"feedback"`
}

type StructureMetric struct {
	Score       int    `json:"score"`
	HasIntro    bool   `json:"has_intro"`
	HasProblem  bool   `json:"has_problem"`
	HasSolution bool   `json:"has_solution"`
	HasCall     bool   `json:"has_call"`
	Feedback    string `json:"feedback"`
}

type EngagementMetric struct {
	Score         int    `json:"score"`
	EmotionalTone string `json:"emotional_tone"`
	Feedback      string `json:"feedback"`
}

// Area names a scored category of PitchMetrics.
type Area string

const (
	AreaClarity    Area = "clarity"
	AreaPace       Area = "pace"
	AreaConfidence Area = "confidence"
	AreaStructure  Area = "structure"
	AreaEngagement Area = "engagement"
)

// Areas lists the categories in display order.
var Areas = []Area{AreaClarity, AreaPace, AreaConfidence, AreaStructure, AreaEngagement}

// Score returns the score for an area.
func (m PitchMetrics) Score(a Area) int {
	switch a {
	case AreaClarity:
		return m.Clarity.Score
	case AreaPace:
		return m.Pace.Score
	case AreaConfidence:
		return m.Confidence.Score
	case AreaStructure:
		return m.Structure.Score
	case AreaEngagement:
		return m.Engagement.Score
	}
	return 0
}

// FillerWords are counted by substring match against each whitespace token.
// Multi-word entries therefore never match a single token.
var FillerWords = []string{"um", "uh", "like", "you know", "so", "actually", "basically", "literally"}

var (
	introTokens    = []string{"hello", "hi", "good"}
	problemTokens  = []string{"problem", "issue", "challenge"}
	solutionTokens = []string{"solution", "solve", "fix"}
	callTokens     = []string{"call", "contact", "reach out"}
)

const (
	fallbackExplanation = "No detailed explanation was provided for this recording."
	fallbackEmotion     = "neutral"
)

// Transform maps a backend result to PitchMetrics. fallback is used for the
// words-per-minute calculation when the backend did not report a duration.
// It is deterministic and never panics on missing fields.
func Transform(res BackendResult, fallback time.Duration) PitchMetrics {
	res.Normalize()
	scores := res.PitchScores

	tone := roundScore(scores.Tone)
	fluency := roundScore(scores.Fluency)
	clarity := roundScore(scores.Clarity)
	confidence := roundScore(scores.Confidence)

	overall := clampScore(int(math.Round((scores.Tone + scores.Fluency + scores.Clarity + scores.Confidence) * 0.25)))

	explanation := scores.Explanation
	if explanation == "" {
		explanation = fallbackExplanation
	}
	emotion := res.EmotionAnalysis.DominantEmotion
	if emotion == "" {
		emotion = fallbackEmotion
	}

	seconds := float64(res.Duration)
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = fallback.Seconds()
	}
	wpm := WordsPerMinute(res.Transcription, seconds)

	structure := AnalyzeStructure(res.Transcription)

	return PitchMetrics{
		OverallScore: overall,
		Clarity: ClarityMetric{
			Score:       clarity,
			Feedback:    fmt.Sprintf("Your speech clarity scored %d%%. %s", clarity, explanation),
			Suggestions: suggestions(clarity, string(AreaClarity)),
		},
		Pace: PaceMetric{
			Score:          fluency,
			WordsPerMinute: wpm,
			Feedback:       fmt.Sprintf("Speaking at %d words per minute with %d%% fluency.", wpm, fluency),
		},
		Confidence: ConfidenceMetric{
			Score:       confidence,
			FillerWords: CountFillerWords(res.Transcription),
			Feedback:    fmt.Sprintf("Confidence level: %d%%. Dominant emotion: %s.", confidence, emotion),
		},
		Structure: structure,
		Engagement: EngagementMetric{
			Score:         tone,
			EmotionalTone: emotion,
			Feedback:      fmt.Sprintf("Emotional engagement: %d%% with %s tone.", tone, emotion),
		},
	}
}

// AnalyzeStructure flags pitch sections by case-insensitive substring match.
// This is best-effort text matching, not classification.
func AnalyzeStructure(transcription string) StructureMetric {
	text := strings.ToLower(transcription)
	s := StructureMetric{
		HasIntro:    containsAny(text, introTokens),
		HasProblem:  containsAny(text, problemTokens),
		HasSolution: containsAny(text, solutionTokens),
		HasCall:     containsAny(text, callTokens),
	}

	present := 0
	var missing []string
	for _, part := range []struct {
		ok   bool
		name string
	}{
		{s.HasIntro, "introduction"},
		{s.HasProblem, "problem statement"},
		{s.HasSolution, "solution description"},
		{s.HasCall, "call to action"},
	} {
		if part.ok {
			present++
		} else {
			missing = append(missing, part.name)
		}
	}
	s.Score = int(math.Round(float64(present) / 4 * 100))

	detail := "Your pitch includes all key structural elements."
	if len(missing) > 0 {
		detail = fmt.Sprintf("Consider adding: %s.", strings.Join(missing, ", "))
	}
	s.Feedback = fmt.Sprintf("Pitch structure completeness: %d%%. %s", s.Score, detail)
	return s
}

// CountFillerWords counts, for every filler, the tokens containing it.
func CountFillerWords(transcription string) int {
	tokens := strings.Fields(strings.ToLower(transcription))
	count := 0
	for _, filler := range FillerWords {
		for _, tok := range tokens {
			if strings.Contains(tok, filler) {
				count++
			}
		}
	}
	return count
}

// WordsPerMinute returns the rounded speaking rate, or 0 without a duration.
func WordsPerMinute(transcription string, seconds float64) int {
	if seconds <= 0 {
		return 0
	}
	words := len(strings.Fields(transcription))
	return int(math.Round(float64(words) / (seconds / 60)))
}

func suggestions(score int, category string) []string {
	switch {
	case score >= 80:
		return []string{fmt.Sprintf("Excellent %s! Keep up the great work.", category)}
	case score >= 60:
		return []string{fmt.Sprintf("Good %s. Consider minor improvements for polish.", category)}
	case score >= 40:
		return []string{fmt.Sprintf("%s needs improvement. Focus on practice in this area.", capitalize(category))}
	default:
		return []string{fmt.Sprintf("%s requires significant work. Consider targeted exercises.", capitalize(category))}
	}
}

func containsAny(text string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(text, tok) {
			return true
		}
	}
	return false
}

func roundScore(v float64) int {
	return clampScore(int(math.Round(v)))
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
