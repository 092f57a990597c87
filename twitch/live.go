package twitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	irc "github.com/gempir/go-twitch-irc/v4"

	"github.com/lbmaian/chat-downloader/abort"
	"github.com/lbmaian/chat-downloader/chat"
	"github.com/lbmaian/chat-downloader/telemetry"
)

var channelPattern = regexp.MustCompile(`twitch\.tv/([A-Za-z0-9_]+)`)

// liveCheckInterval paces abort-condition evaluation while connected.
const liveCheckInterval = 5 * time.Second

// ExtractChannel pulls the channel login out of a twitch.tv URL that does
// not reference a VOD.
func ExtractChannel(rawURL string) (string, bool) {
	if _, ok := ExtractVODID(rawURL); ok {
		return "", false
	}
	m := channelPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

// Live captures a channel's chat over anonymous IRC until the context is
// canceled or an abort condition fires.
type Live struct {
	sink   chat.Sink
	opts   Options
	logger *slog.Logger
}

func NewLive(sink chat.Sink, opts Options) *Live {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Live{sink: sink, opts: opts, logger: logger}
}

func (l *Live) Run(ctx context.Context, channel string) error {
	ctx, span := telemetry.StartSpan(ctx, "twitch", "live")
	defer span.End()

	if l.opts.StartTime != nil || l.opts.EndTime != nil {
		l.logger.Warn("start/end times do not apply to live chat capture")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := irc.NewAnonymousClient()
	client.OnConnect(func() {
		l.logger.Info("connected to chat", "channel", channel)
	})
	client.OnPrivateMessage(func(msg irc.PrivateMessage) {
		rec := liveRecord(msg)
		telemetry.CountMessage("twitch", "message")
		l.sink.Append(rec)
		if l.opts.Callback != nil {
			l.opts.Callback(rec)
		}
	})
	client.Join(channel)

	abortCh := make(chan *abort.AbortError, 1)
	if c := l.opts.Checker; c != nil && !c.Empty() {
		go func() {
			t := time.NewTicker(liveCheckInterval)
			defer t.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-t.C:
					var abortErr *abort.AbortError
					if err := c.Check(runCtx); errors.As(err, &abortErr) {
						abortCh <- abortErr
						cancel()
						return
					}
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		<-runCtx.Done()
		client.Disconnect()
		close(done)
	}()

	err := client.Connect()
	cancel()
	<-done

	select {
	case abortErr := <-abortCh:
		l.sink.Println("[Abort conditions satisfied] " + abortErr.Message)
		return nil
	default:
	}
	if ctx.Err() != nil {
		l.sink.Println("[Interrupted]")
		return nil
	}
	if err != nil && !errors.Is(err, irc.ErrClientDisconnected) {
		err = fmt.Errorf("connect to twitch irc: %w", err)
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.SetSpanSuccess(span)
	return nil
}

// liveRecord maps one IRC message onto the record shape shared with the
// replay paths.
func liveRecord(msg irc.PrivateMessage) chat.Record {
	ts := msg.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	us := ts.UnixMicro()
	rec := chat.Record{
		chat.KeyTimestamp: us,
		chat.KeyDatetime:  chat.MicrosToDatetime(us),
		chat.KeyAuthor:    msg.User.DisplayName,
		chat.KeyAuthorID:  msg.User.ID,
		chat.KeyMessage:   msg.Message,
	}
	if badges := badgeList(msg.User.Badges); badges != "" {
		rec[chat.KeyBadges] = badges
	}
	if t := authorType(msg); t != "" {
		rec[chat.KeyAuthorType] = t
	}
	if color, ok := parseHexColor(msg.User.Color); ok {
		rec[chat.KeyBodyColor] = color
	}
	return rec
}

// badgeList renders IRC badges as "name/version" pairs, sorted by name so
// output is stable across runs.
func badgeList(badges map[string]int) string {
	if len(badges) == 0 {
		return ""
	}
	names := make([]string, 0, len(badges))
	for name := range badges {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s/%d", name, badges[name]))
	}
	return strings.Join(parts, ", ")
}

func authorType(msg irc.PrivateMessage) string {
	if _, ok := msg.User.Badges["broadcaster"]; ok {
		return "OWNER"
	}
	if _, ok := msg.User.Badges["moderator"]; ok || msg.Tags["mod"] == "1" {
		return "MODERATOR"
	}
	if _, ok := msg.User.Badges["vip"]; ok || msg.Tags["vip"] == "1" {
		return "VERIFIED"
	}
	return ""
}

// parseHexColor converts the IRC "#RRGGBB" user color to the record color
// shape, opaque.
func parseHexColor(hex string) (map[string]any, bool) {
	if len(hex) != 7 || hex[0] != '#' {
		return nil, false
	}
	v, err := strconv.ParseInt(hex[1:], 16, 64)
	if err != nil {
		return nil, false
	}
	return chat.ColorFromRGBA(v>>16, v>>8, v, 255), true
}
