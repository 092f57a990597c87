// Package chat defines the canonical chat record shape shared by the
// platform engines and the output sinks.
package chat

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record is one normalized chat message. Records stay maps because key
// presence is meaningful: JSON output omits absent fields and CSV headers
// are the union of keys actually seen.
type Record map[string]any

// Keys produced by the platform normalizers.
const (
	KeyTimestamp         = "timestamp"
	KeyDatetime          = "datetime"
	KeyTimeText          = "time_text"
	KeyTimeSeconds       = "time_in_seconds"
	KeyAuthor            = "author"
	KeyAuthorID          = "author_id"
	KeyAuthorType        = "author_type"
	KeyBadges            = "badges"
	KeyMessage           = "message"
	KeyAmount            = "amount"
	KeyHeaderColor       = "header_color"
	KeyBodyColor         = "body_color"
	KeyHeaderPrimaryText = "header_primary_text"
	KeyHeaderSubtext     = "header_subtext"
	KeySticker           = "sticker"
	KeyTickerDuration    = "ticker_duration"
	KeyVideoOffsetMsec   = "video_offset_time_msec"
)

// DatetimeFormat renders absolute timestamps in local time.
const DatetimeFormat = "2006-01-02 15:04:05"

// Line renders the record for stdout and plain-text output:
//
//	[{datetime|time_text}] ({author_type}) *{amount}* {author}:\t{message}
//
// where the author type and amount segments appear only when their keys are
// present.
func (r Record) Line() string {
	var b strings.Builder
	b.WriteByte('[')
	if v, ok := r[KeyDatetime]; ok {
		b.WriteString(stringValue(v))
	} else if v, ok := r[KeyTimeText]; ok {
		b.WriteString(stringValue(v))
	}
	b.WriteString("] ")
	if v, ok := r[KeyAuthorType]; ok {
		b.WriteString("(")
		b.WriteString(strings.ToLower(stringValue(v)))
		b.WriteString(") ")
	}
	if v, ok := r[KeyAmount]; ok {
		b.WriteString("*")
		b.WriteString(stringValue(v))
		b.WriteString("* ")
	}
	b.WriteString(stringValue(r[KeyAuthor]))
	b.WriteString(":\t")
	b.WriteString(stringValue(r[KeyMessage]))
	return b.String()
}

// IsTicker reports whether the record came from a ticker renderer. Ticker
// records are buffered but never printed, since the same superchat already
// appears as a chat-class record.
func (r Record) IsTicker() bool {
	_, ok := r[KeyTickerDuration]
	return ok
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(v)
	}
}

// TimeToSeconds converts a clock-style offset like "1:02:03" to seconds.
// Commas are stripped, components are weighted by powers of 60 from the
// right, and a leading '-' negates the whole value.
func TimeToSeconds(text string) (int64, error) {
	if text == "" {
		return 0, fmt.Errorf("empty time text")
	}
	parts := strings.Split(strings.ReplaceAll(text, ",", ""), ":")
	var total, weight int64 = 0, 1
	for i := len(parts) - 1; i >= 0; i-- {
		n, err := strconv.ParseInt(parts[i], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid time text %q: %w", text, err)
		}
		if n < 0 {
			n = -n
		}
		total += n * weight
		weight *= 60
	}
	if strings.HasPrefix(text, "-") {
		total = -total
	}
	return total, nil
}

// SecondsToTime renders seconds as "h:mm:ss" with unpadded hours. It
// round-trips with TimeToSeconds for every non-negative value.
func SecondsToTime(seconds int64) string {
	neg := seconds < 0
	if neg {
		seconds = -seconds
	}
	text := fmt.Sprintf("%d:%02d:%02d", seconds/3600, seconds/60%60, seconds%60)
	if neg {
		return "-" + text
	}
	return text
}

// ParseOffset accepts either plain seconds or a clock-style "hh:mm:ss"
// offset.
func ParseOffset(text string) (int64, error) {
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, nil
	}
	return TimeToSeconds(text)
}

// MicrosToDatetime converts epoch microseconds to the local-time datetime
// string stored alongside the raw timestamp.
func MicrosToDatetime(us int64) string {
	return time.Unix(us/1_000_000, 0).Format(DatetimeFormat)
}

// ColorFromARGB decomposes a packed ARGB integer into the record color
// shape: {"rgba": [r, g, b, a], "hex": "#rrggbbaa"}.
func ColorFromARGB(argb int64) map[string]any {
	r := (argb >> 16) & 255
	g := (argb >> 8) & 255
	b := argb & 255
	a := (argb >> 24) & 255
	return colorMap(r, g, b, a)
}

// ColorFromRGBA builds the same shape from separate components.
func ColorFromRGBA(r, g, b, a int64) map[string]any {
	return colorMap(r&255, g&255, b&255, a&255)
}

func colorMap(r, g, b, a int64) map[string]any {
	return map[string]any{
		"rgba": []int64{r, g, b, a},
		"hex":  fmt.Sprintf("#%02x%02x%02x%02x", r, g, b, a),
	}
}
