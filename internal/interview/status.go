package interview

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when an input is not accepted in the current status.
var ErrInvalidTransition = errors.New("interview: invalid transition")

// Status is the engine's stage.
type Status int

const (
	StatusNotStarted Status = iota
	StatusIntro
	StatusQuestioning
	StatusClosing
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "NOT_STARTED"
	case StatusIntro:
		return "INTRO"
	case StatusQuestioning:
		return "QUESTIONING"
	case StatusClosing:
		return "CLOSING"
	case StatusCompleted:
		return "COMPLETED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for c := StatusNotStarted; c <= StatusCompleted; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("interview: unknown status %q", b)
}

// Input drives status transitions.
type Input int

const (
	InputStart         Input = iota // start requested
	InputIntroQueued                // introduction spoken, questions remain
	InputFollowUp                   // follow-up asked for the open question
	InputAdvance                    // next question asked
	InputExhausted                  // no questions remain or time is up
	InputEnd                        // explicit end signal or command
	InputClosingQueued              // closing utterance spoken
)

func (in Input) String() string {
	switch in {
	case InputStart:
		return "start"
	case InputIntroQueued:
		return "intro_queued"
	case InputFollowUp:
		return "follow_up"
	case InputAdvance:
		return "advance"
	case InputExhausted:
		return "exhausted"
	case InputEnd:
		return "end"
	case InputClosingQueued:
		return "closing_queued"
	default:
		return fmt.Sprintf("Input(%d)", int(in))
	}
}

// Next returns the status reached by applying in to s. Every (status, input)
// pair is decided here; unlisted pairs are rejected.
func (s Status) Next(in Input) (Status, error) {
	switch s {
	case StatusNotStarted:
		switch in {
		case InputStart:
			return StatusIntro, nil
		case InputEnd:
			return StatusClosing, nil
		}
	case StatusIntro:
		switch in {
		case InputIntroQueued:
			return StatusQuestioning, nil
		case InputExhausted, InputEnd:
			return StatusClosing, nil
		}
	case StatusQuestioning:
		switch in {
		case InputFollowUp, InputAdvance:
			return StatusQuestioning, nil
		case InputExhausted, InputEnd:
			return StatusClosing, nil
		}
	case StatusClosing:
		switch in {
		case InputClosingQueued:
			return StatusCompleted, nil
		case InputEnd:
			return StatusClosing, nil
		}
	case StatusCompleted:
		if in == InputEnd {
			return StatusCompleted, nil
		}
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, in, s)
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool { return s == StatusCompleted }
