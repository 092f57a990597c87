package abort

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"log/slog"

	"github.com/lbmaian/chat-downloader/logging"
)

// State keys the engine updater maintains.
const (
	KeyPollTimestamp      = "poll_timestamp"
	KeyPlayabilityStatus  = "playability_status"
	KeyOrigScheduledStart = "orig_scheduled_start_time"
	KeyScheduledStart     = "scheduled_start_time"
)

// keyLevels overrides the INFO default for chatty keys.
var keyLevels = map[string]slog.Level{
	KeyPollTimestamp:      logging.LevelTrace,
	KeyOrigScheduledStart: logging.LevelDebug,
}

type change struct {
	level slog.Level
	msg   string
}

// State is a changelog-wrapped video-state map. Mutations queue a log line;
// Flush emits the queue in mutation order.
type State struct {
	mu      sync.Mutex
	logger  *slog.Logger
	values  map[string]any
	changes []change
}

// NewState returns an empty state logging through logger.
func NewState(logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{logger: logger, values: make(map[string]any)}
}

// Set stores value under key, queuing an added/changed line when the value
// actually differs.
func (s *State) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, existed := s.values[key]
	if existed && old == value {
		return
	}
	s.values[key] = value
	if existed {
		s.record(key, fmt.Sprintf("Video %s changed from %v to %v", keyWords(key), old, value))
	} else {
		s.record(key, fmt.Sprintf("Video %s is %v", keyWords(key), value))
	}
}

// Delete removes key, queuing a changed-to-unset line when it was present.
func (s *State) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, existed := s.values[key]
	if !existed {
		return
	}
	delete(s.values, key)
	s.record(key, fmt.Sprintf("Video %s changed from %v to (unset)", keyWords(key), old))
}

// Get returns the raw value for key.
func (s *State) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Int64 returns key as an int64, coercing the numeric types the extractors
// produce.
func (s *State) Int64(key string) (int64, bool) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// String returns key as a string.
func (s *State) String(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// Flush logs queued changes in order and clears the queue.
func (s *State) Flush(ctx context.Context) {
	s.mu.Lock()
	queued := s.changes
	s.changes = nil
	s.mu.Unlock()

	for _, c := range queued {
		s.logger.Log(ctx, c.level, c.msg)
	}
}

func (s *State) record(key, msg string) {
	level, ok := keyLevels[key]
	if !ok {
		level = logging.LevelInfo
	}
	s.changes = append(s.changes, change{level: level, msg: msg})
}

func keyWords(key string) string {
	return strings.ReplaceAll(key, "_", " ")
}
