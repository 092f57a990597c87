// Package twitch downloads Twitch chat: VOD comment replays over the
// comments API and live channel chat over IRC.
package twitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"time"

	json "github.com/goccy/go-json"

	"github.com/lbmaian/chat-downloader/abort"
	"github.com/lbmaian/chat-downloader/chat"
	"github.com/lbmaian/chat-downloader/session"
	"github.com/lbmaian/chat-downloader/telemetry"
)

// clientID is the public web player client id; the comments API needs no
// other authentication.
const clientID = "kimne78kx3ncx6brgo4mv6wki5h1ko"

const commentsAPI = "https://api.twitch.tv/v5/videos/%s/comments?client_id=%s"

var vodIDPattern = regexp.MustCompile(`(?:/videos/|/v/)(\d+)`)

// ExtractVODID pulls the numeric VOD id out of a twitch.tv video URL.
func ExtractVODID(rawURL string) (string, bool) {
	m := vodIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Options configure one capture run.
type Options struct {
	StartTime *int64 // seconds into the VOD; replays only
	EndTime   *int64
	Callback  func(chat.Record)
	Checker   *abort.Checker // live capture only
	Logger    *slog.Logger
}

// Replay downloads the comment replay for one VOD.
type Replay struct {
	session *session.Session
	sink    chat.Sink
	opts    Options
	logger  *slog.Logger
}

func NewReplay(s *session.Session, sink chat.Sink, opts Options) *Replay {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Replay{session: s, sink: sink, opts: opts, logger: logger}
}

// Run downloads the whole comment replay. An interrupt prints a status line
// and returns nil with everything fetched so far intact.
func (r *Replay) Run(ctx context.Context, vodID string) error {
	ctx, span := telemetry.StartSpan(ctx, "twitch", "replay")
	defer span.End()

	err := r.download(ctx, vodID)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.sink.Println("[Interrupted]")
		err = nil
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.SetSpanSuccess(span)
	return nil
}

func (r *Replay) download(ctx context.Context, vodID string) error {
	var start int64
	if r.opts.StartTime != nil {
		start = *r.opts.StartTime
	}
	startF := float64(start)

	base := fmt.Sprintf(commentsAPI, vodID, clientID)
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		telemetry.CountPoll("replay")

		pageURL := fmt.Sprintf("%s&cursor=%s&content_offset_seconds=%d", base, url.QueryEscape(cursor), start)
		raw, err := r.session.Get(ctx, pageURL)
		// Missing or restricted VODs answer non-2xx with the error envelope
		// still in the body; decode it for the real message.
		var status *session.StatusError
		if err != nil && !errors.As(err, &status) {
			return err
		}

		var page struct {
			Comments []struct {
				CreatedAt            string  `json:"created_at"`
				ContentOffsetSeconds float64 `json:"content_offset_seconds"`
				Commenter            struct {
					DisplayName string `json:"display_name"`
				} `json:"commenter"`
				Message struct {
					Body string `json:"body"`
				} `json:"message"`
			} `json:"comments"`
			Next    string          `json:"_next"`
			Error   json.RawMessage `json:"error"`
			Message string          `json:"message"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return fmt.Errorf("decode comments page: %w", err)
		}
		if len(page.Error) > 0 {
			msg := page.Message
			if msg == "" {
				var s string
				if json.Unmarshal(page.Error, &s) == nil {
					msg = s
				}
			}
			return &Error{Message: msg}
		}

		for _, c := range page.Comments {
			offset := c.ContentOffsetSeconds
			if offset < startF {
				continue
			}
			if r.opts.EndTime != nil && offset > float64(*r.opts.EndTime) {
				return nil
			}
			ts, err := time.Parse(time.RFC3339Nano, c.CreatedAt)
			if err != nil {
				return &Error{Message: fmt.Sprintf("invalid created_at %q", c.CreatedAt)}
			}
			rec := chat.Record{
				chat.KeyTimestamp:   ts.UnixMicro(),
				chat.KeyTimeText:    chat.SecondsToTime(int64(offset)),
				chat.KeyTimeSeconds: offset,
				chat.KeyAuthor:      c.Commenter.DisplayName,
				chat.KeyMessage:     c.Message.Body,
			}
			telemetry.CountMessage("twitch", "message")
			r.sink.Append(rec)
			if r.opts.Callback != nil {
				r.opts.Callback(rec)
			}
		}

		if page.Next == "" {
			return nil
		}
		cursor = page.Next
	}
}
