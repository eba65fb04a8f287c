// Package stream implements the progress stream protocol spoken over the
// search SSE endpoint: a fixed stage sequence, monotonically non-decreasing
// progress, and tolerant decoding of frames from older producers.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

type Stage string

const (
	StageInitializing Stage = "initializing"
	StageAnalyzing    Stage = "analyzing"
	StageSearching    Stage = "searching"
	StageEvaluating   Stage = "evaluating"
	StageFinalizing   Stage = "finalizing"
	StageComplete     Stage = "complete"
	StageError        Stage = "error"
)

var stageOrder = map[Stage]int{
	StageInitializing: 0,
	StageAnalyzing:    1,
	StageSearching:    2,
	StageEvaluating:   3,
	StageFinalizing:   4,
	StageComplete:     5,
}

var (
	ErrInvalidTransition = errors.New("invalid stage transition")
	ErrUnknownStage      = errors.New("unknown stage")
)

// Terminal reports whether no further frames may follow this stage.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageError
}

// ParseStage maps a wire value to a Stage. An empty value decodes as
// initializing: early producers omitted the field on the first frame.
func ParseStage(s string) (Stage, error) {
	if s == "" {
		return StageInitializing, nil
	}
	if s == string(StageError) {
		return StageError, nil
	}
	if _, ok := stageOrder[Stage(s)]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, s)
	}
	return Stage(s), nil
}

// Event is one frame of the progress stream.
type Event struct {
	Stage    Stage       `json:"stage"`
	Message  string      `json:"message"`
	Progress int         `json:"progress"`
	Data     interface{} `json:"data,omitempty"`
}

// DecodeEvent parses a wire frame. Older producers send the stage under
// "status"; both spellings are accepted, with "stage" winning when both are
// present.
func DecodeEvent(b []byte) (Event, error) {
	var raw struct {
		Stage    string          `json:"stage"`
		Status   string          `json:"status"`
		Message  string          `json:"message"`
		Progress int             `json:"progress"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return Event{}, fmt.Errorf("decode frame: %w", err)
	}

	field := raw.Stage
	if field == "" {
		field = raw.Status
	}
	stage, err := ParseStage(field)
	if err != nil {
		return Event{}, err
	}

	e := Event{Stage: stage, Message: raw.Message, Progress: raw.Progress}
	if len(raw.Data) > 0 {
		e.Data = raw.Data
	}
	return e, nil
}

// Session enforces the producer-side protocol: stages only advance (the
// evaluating stage may repeat for per-item updates), progress never goes
// backwards, and nothing follows a terminal frame. Safe for concurrent use.
type Session struct {
	mu       sync.Mutex
	started  bool
	stage    Stage
	progress int
	sink     func(Event) error
}

func NewSession(sink func(Event) error) *Session {
	return &Session{sink: sink}
}

// Emit sends one frame after validating the transition. Progress below the
// high-water mark is clamped up to it, never rejected.
func (s *Session) Emit(stage Stage, message string, progress int, data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started && s.stage.Terminal() {
		return fmt.Errorf("%w: stream already ended at %s", ErrInvalidTransition, s.stage)
	}

	if stage != StageError {
		ord, ok := stageOrder[stage]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownStage, stage)
		}
		if s.started {
			cur := stageOrder[s.stage]
			if ord < cur {
				return fmt.Errorf("%w: %s after %s", ErrInvalidTransition, stage, s.stage)
			}
			if ord == cur && stage != StageEvaluating {
				return fmt.Errorf("%w: %s repeated", ErrInvalidTransition, stage)
			}
		}
	}

	if progress < s.progress {
		progress = s.progress
	}
	if progress > 100 {
		progress = 100
	}

	s.started = true
	s.stage = stage
	s.progress = progress

	return s.sink(Event{Stage: stage, Message: message, Progress: progress, Data: data})
}

// Error emits a terminal error frame. Valid from any state except after a
// terminal frame.
func (s *Session) Error(message string) error {
	return s.Emit(StageError, message, 0, nil)
}

// Stage returns the last emitted stage, or initializing before the first frame.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return StageInitializing
	}
	return s.stage
}

// Monitor is the consumer-side progress clamp: replaying a sequence of
// frames through Observe yields a non-decreasing progress even when the
// producer misbehaves.
type Monitor struct {
	mu       sync.Mutex
	progress int
}

func (m *Monitor) Observe(e Event) Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Progress < m.progress {
		e.Progress = m.progress
	} else {
		m.progress = e.Progress
	}
	return e
}
