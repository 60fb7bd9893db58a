package assistant

import "time"

// Utterance is one chunk of speech sent to the synthesizer.
type Utterance struct {
	ID     string  `json:"id"`
	Text   string  `json:"text"`
	Lang   string  `json:"lang"`
	Rate   float64 `json:"rate"`
	Pitch  float64 `json:"pitch"`
	Volume float64 `json:"volume"`
}

// Synthesizer drives a speech synthesis engine. The engine reports the
// end of each utterance through Controller.UtteranceEnded or
// Controller.UtteranceFailed.
type Synthesizer interface {
	Speak(u Utterance) error
	// Cancel stops the current utterance and drops any queued ones.
	Cancel() error
}

// SpeechCeiling bounds one spoken reply on constrained devices, whose
// engines sometimes never report the end of an utterance.
const SpeechCeiling = 60 * time.Second

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d. Tests substitute a manual scheduler.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
