package audio

import (
	"time"
)

// Status represents the current state of the recorder
type Status string

const (
	StatusStandby   Status = "STANDBY"
	StatusRecording Status = "RECORDING"
	StatusError     Status = "ERROR"
)

// SessionInfo contains information about the current recording session
type SessionInfo struct {
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	OutputFile string    `json:"output_file"`
	Source     string    `json:"source"`
	Backend    string    `json:"backend"`
	MIMEType   string    `json:"mime_type"`
}

// Recorder captures a single pitch from a microphone source.
type Recorder interface {
	Start(name string) error
	// Stop finalizes the capture and returns it as a Sample.
	Stop() (Sample, error)
	// Cancel discards the capture in progress.
	Cancel() error

	Status() (Status, *SessionInfo)

	Cleanup() error
}
