package youtube

import (
	"errors"
	"fmt"
)

// ParsingError is fatal: the watch or chat page HTML (or an API response)
// did not carry the structure this package expects. Snippet holds the start
// of the offending payload for bug reports.
type ParsingError struct {
	What    string
	Snippet string
}

func (e *ParsingError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("unable to parse %s", e.What)
	}
	return fmt.Sprintf("unable to parse %s (snippet: %.200s)", e.What, e.Snippet)
}

// VideoUnavailable covers private and otherwise blocked videos. Fatal in
// discovery; mid-stream it is a loop exit (the stream was privated while
// chat was still active).
type VideoUnavailable struct {
	Reason string
}

func (e *VideoUnavailable) Error() string { return e.Reason }

// VideoNotFound covers deleted videos reported by the chat API mid-stream.
type VideoNotFound struct {
	Reason string
}

func (e *VideoNotFound) Error() string { return e.Reason }

// NoChatReplay is fatal in discovery: the video exists but carries no chat.
type NoChatReplay struct {
	Reason string
}

func (e *NoChatReplay) Error() string { return e.Reason }

// ErrNoContinuation ends the poll loop: the service stopped handing out
// continuation tokens, which is how streams normally end.
var ErrNoContinuation = errors.New("no continuation found")
