package analysis

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// BackendResult is the JSON body returned by the analysis backend.
type BackendResult struct {
	Success         bool            `json:"success"`
	Transcription   string          `json:"transcription"`
	EmotionAnalysis EmotionAnalysis `json:"emotion_analysis"`
	PitchScores     PitchScores     `json:"pitch_scores"`
	Duration        Seconds         `json:"duration"`
	Error           string          `json:"error,omitempty"`
}

type EmotionAnalysis struct {
	DominantEmotion string  `json:"dominant_emotion"`
	TotalSegments   int     `json:"total_segments"`
	Confidence      float64 `json:"confidence"`
}

type PitchScores struct {
	Tone        float64 `json:"tone"`
	Fluency     float64 `json:"fluency"`
	Clarity     float64 `json:"clarity"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// Seconds accepts a JSON string ("45.2") or number. Anything unparsable
// decodes to zero.
type Seconds float64

func (s *Seconds) UnmarshalJSON(data []byte) error {
	*s = Seconds(parseLenientNumber(data))
	return nil
}

func (s Seconds) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatFloat(float64(s), 'f', -1, 64))
}

// number decodes like Seconds; used for score fields that drift between
// numbers and numeric strings.
type number float64

func (n *number) UnmarshalJSON(data []byte) error {
	*n = number(parseLenientNumber(data))
	return nil
}

// text decodes a JSON string; any other value becomes empty.
type text string

func (t *text) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		*t = ""
		return nil
	}
	*t = text(v)
	return nil
}

func parseLenientNumber(data []byte) float64 {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		return 0
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}

// UnmarshalJSON tolerates mistyped fields; a non-object decodes to zero.
func (p *PitchScores) UnmarshalJSON(data []byte) error {
	var aux struct {
		Tone        number `json:"tone"`
		Fluency     number `json:"fluency"`
		Clarity     number `json:"clarity"`
		Confidence  number `json:"confidence"`
		Explanation text   `json:"explanation"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		*p = PitchScores{}
		return nil
	}
	*p = PitchScores{
		Tone:        float64(aux.Tone),
		Fluency:     float64(aux.Fluency),
		Clarity:     float64(aux.Clarity),
		Confidence:  float64(aux.Confidence),
		Explanation: string(aux.Explanation),
	}
	return nil
}

// UnmarshalJSON tolerates mistyped fields; a non-object decodes to zero.
func (e *EmotionAnalysis) UnmarshalJSON(data []byte) error {
	var aux struct {
		DominantEmotion text   `json:"dominant_emotion"`
		TotalSegments   number `json:"total_segments"`
		Confidence      number `json:"confidence"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		*e = EmotionAnalysis{}
		return nil
	}
	segments := float64(aux.TotalSegments)
	if math.IsNaN(segments) || math.IsInf(segments, 0) {
		segments = 0
	}
	*e = EmotionAnalysis{
		DominantEmotion: string(aux.DominantEmotion),
		TotalSegments:   int(segments),
		Confidence:      sanitizeScore(float64(aux.Confidence)),
	}
	return nil
}

// DecodeBackendResult parses a response body.
func DecodeBackendResult(body []byte) (*BackendResult, error) {
	var res BackendResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, err
	}
	res.Normalize()
	return &res, nil
}

// Normalize fills defaults so downstream code never branches on missing data.
func (r *BackendResult) Normalize() {
	r.PitchScores.Tone = sanitizeScore(r.PitchScores.Tone)
	r.PitchScores.Fluency = sanitizeScore(r.PitchScores.Fluency)
	r.PitchScores.Clarity = sanitizeScore(r.PitchScores.Clarity)
	r.PitchScores.Confidence = sanitizeScore(r.PitchScores.Confidence)
	r.PitchScores.Explanation = strings.TrimSpace(r.PitchScores.Explanation)
	r.EmotionAnalysis.DominantEmotion = strings.TrimSpace(r.EmotionAnalysis.DominantEmotion)
	if r.Duration < 0 {
		r.Duration = 0
	}
}

func sanitizeScore(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
