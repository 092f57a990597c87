package youtube

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/lbmaian/chat-downloader/abort"
	"github.com/lbmaian/chat-downloader/chat"
	"github.com/lbmaian/chat-downloader/session"
	"github.com/lbmaian/chat-downloader/telemetry"
)

const homepage = "https://www.youtube.com"

const defaultHeartbeatInterval = 60 // seconds

var videoIDPattern = regexp.MustCompile(`(?:/|%3D|v=|vi=)([0-9A-Za-z-_]{11})(?:[%#?&]|$)`)

// ExtractVideoID pulls the 11-character video id out of any of the usual
// URL forms (watch, embed, short link, escaped).
func ExtractVideoID(rawURL string) (string, bool) {
	m := videoIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Options configure one download run.
type Options struct {
	MessageType string // messages, superchat or all
	ChatType    string // live or top
	StartTime   *int64 // seconds into the stream; replays only
	EndTime     *int64
	Callback    func(chat.Record)
	Checker     *abort.Checker
	Logger      *slog.Logger
}

// Engine drives the discovery and poll loops for one video.
type Engine struct {
	session *session.Session
	sink    chat.Sink
	opts    Options
	logger  *slog.Logger

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	randInt func(n int) int
}

func NewEngine(s *session.Session, sink chat.Sink, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		session: s,
		sink:    sink,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepCtx,
		randInt: rand.Intn,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// videoConfig accumulates everything the phases learn about the video. It is
// created once per run and threaded through all phases.
type videoConfig struct {
	videoID string
	title   string

	isLive     bool
	isUpcoming bool
	isUnlisted bool

	playability    string
	reason         string
	scheduledStart int64

	startTimestamp string
	endTimestamp   string

	apiVersion string
	apiKey     string
	apiContext json.RawMessage

	heartbeatToken      string
	heartbeatServerData string
	heartbeatInterval   int64 // seconds
	sequenceNumber      int64

	loggedOut         bool
	useNonAPIFallback bool

	isReplay     bool
	continuation string
}

func (cfg *videoConfig) applyPlayerResponse(pr *playerResponse) {
	if pr.VideoDetails != nil {
		cfg.title = pr.VideoDetails.Title
		cfg.isLive = pr.VideoDetails.IsLive
		cfg.isUpcoming = pr.VideoDetails.IsUpcoming
	}
	if pr.PlayabilityStatus != nil {
		cfg.playability = pr.PlayabilityStatus.Status
		cfg.reason = pr.PlayabilityStatus.Reason
		if s, ok := pr.PlayabilityStatus.scheduledStart(); ok {
			cfg.scheduledStart = s
		}
	}
	if pr.Microformat != nil {
		mf := pr.Microformat.PlayerMicroformatRenderer
		cfg.isUnlisted = mf.IsUnlisted
		if d := mf.LiveBroadcastDetails; d != nil {
			cfg.isLive = d.IsLiveNow
			cfg.startTimestamp = d.StartTimestamp
			cfg.endTimestamp = d.EndTimestamp
		}
	}
	if hb := pr.HeartbeatParams; hb != nil {
		cfg.heartbeatToken = hb.HeartbeatToken
		cfg.heartbeatServerData = hb.HeartbeatServerData
		if ms, ok := toInt64(hb.IntervalMilliseconds); ok && ms > 0 {
			cfg.heartbeatInterval = ms / 1000
		}
	}
}

// Run downloads the chat for one video. Loop exits (stream over, abort
// condition, interrupt) print a status line and return nil; only genuinely
// fatal conditions come back as errors.
func (e *Engine) Run(ctx context.Context, videoID string) error {
	ctx, span := telemetry.StartSpan(ctx, "youtube", "run")
	defer span.End()

	cfg := &videoConfig{videoID: videoID, heartbeatInterval: defaultHeartbeatInterval}
	if c := e.opts.Checker; c != nil && !c.Empty() {
		c.AddUpdater(func(ctx context.Context) error {
			return e.updateAbortState(ctx, cfg)
		})
	}

	if err := e.discover(ctx, cfg); err != nil {
		err = e.settleCommon(err)
		if err != nil {
			telemetry.RecordError(span, err)
		}
		return err
	}
	err := e.settlePoll(e.poll(ctx, cfg))
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.SetSpanSuccess(span)
	return nil
}

// settleCommon turns the exits shared by every phase (interrupt, abort
// condition) into printed status lines.
func (e *Engine) settleCommon(err error) error {
	var abortErr *abort.AbortError
	switch {
	case errors.As(err, &abortErr):
		e.sink.Println("[Abort conditions satisfied] " + abortErr.Message)
		return nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		e.sink.Println("[Interrupted]")
		return nil
	}
	return err
}

// settlePoll additionally treats mid-stream service errors as normal stream
// endings: by the time the chat API starts failing, everything fetched so
// far is still worth keeping.
func (e *Engine) settlePoll(err error) error {
	var (
		unavailable *VideoUnavailable
		notFound    *VideoNotFound
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNoContinuation):
		e.sink.Println("No continuation found, stream may have ended.")
		return nil
	case errors.As(err, &unavailable):
		e.sink.Println("Video not unavailable, stream may have been privated while live chat was still active.")
		return nil
	case errors.As(err, &notFound):
		e.sink.Println("Video not found, stream may have been deleted while live chat was still active.")
		return nil
	}
	return e.settleCommon(err)
}

// discover fetches the watch page and classifies the video: replay, live, or
// upcoming (retried with jitter until its chat opens).
func (e *Engine) discover(ctx context.Context, cfg *videoConfig) error {
	ctx, span := telemetry.StartSpan(ctx, "youtube", "discover")
	defer span.End()

	for attempt := 1; ; attempt++ {
		telemetry.CountPoll("discovery")
		page, err := e.fetchWatchPage(ctx, cfg.videoID)
		if err != nil {
			return err
		}
		cfg.applyPlayerResponse(&page.player)

		if page.data.Contents == nil {
			return &VideoUnavailable{Reason: "Video is unavailable (may be private)."}
		}

		byTitle := map[string]string{}
		for _, it := range page.data.subMenuItems() {
			byTitle[it.Title] = it.Continuation.ReloadContinuationData.Continuation
		}
		chatName := titleCase(e.opts.ChatType) + " chat"
		replayName := chatName + " replay"
		if token := byTitle[replayName]; token != "" {
			cfg.isReplay = true
			cfg.continuation = token
			e.logger.Info(fmt.Sprintf("Downloading %s for video: %s", lowerFirst(replayName), cfg.title))
			return nil
		}
		if token := byTitle[chatName]; token != "" {
			cfg.continuation = token
			e.logger.Info(fmt.Sprintf("Downloading %s for video: %s", lowerFirst(chatName), cfg.title))
			return nil
		}

		noChat := page.data.availabilityMessage()
		if noChat == "" {
			noChat = "Video does not have a chat replay."
		}
		if !cfg.isUpcoming && !cfg.isLive {
			return &NoChatReplay{Reason: noChat}
		}

		// Upcoming stream with chat not yet open: wait and refetch.
		if c := e.opts.Checker; c != nil {
			if err := c.Check(ctx); err != nil {
				return err
			}
		}
		delay := 45 + e.randInt(16)
		e.logger.Info(fmt.Sprintf("Upcoming %s Retrying in %d secs (attempt %d)", lowerFirst(noChat), delay, attempt))
		if err := e.sleep(ctx, time.Duration(delay)*time.Second); err != nil {
			return err
		}
	}
}

func (e *Engine) poll(ctx context.Context, cfg *videoConfig) error {
	ctx, span := telemetry.StartSpan(ctx, "youtube", "poll")
	defer span.End()

	first := true
	for {
		if c := e.opts.Checker; c != nil {
			if err := c.Check(ctx); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		telemetry.CountPoll("poll")

		chunk, err := e.fetchChunk(ctx, cfg, first)
		if err != nil {
			return err
		}

		for _, action := range chunk.Actions {
			rec, ok := e.handleAction(action, cfg)
			if !ok {
				continue
			}
			if secs, ok := recordSeconds(rec); ok {
				if e.opts.EndTime != nil && secs > *e.opts.EndTime {
					return nil
				}
				if !cfg.isLive && e.opts.StartTime != nil && secs < *e.opts.StartTime {
					continue
				}
			} else if !cfg.isLive && e.opts.StartTime != nil {
				e.logger.Debug("record has no time offset, skipping window check", "action", actionType(action))
				continue
			}
			e.append(rec)
		}

		if cfg.isReplay && len(chunk.Actions) == 0 {
			return nil
		}

		if len(chunk.Continuations) == 0 {
			return nil
		}
		token, timeout := continuationStep(chunk.Continuations[0])
		if token != "" {
			cfg.continuation = token
		}
		if timeout > 0 {
			if err := e.sleep(ctx, time.Duration(timeout)*time.Millisecond); err != nil {
				return err
			}
		}
		first = false
	}
}

func (e *Engine) append(rec chat.Record) {
	kind := "message"
	if _, ok := rec[chat.KeyAmount]; ok {
		kind = "superchat"
	}
	telemetry.CountMessage("youtube", kind)
	e.sink.Append(rec)
	if e.opts.Callback != nil {
		e.opts.Callback(rec)
	}
}

// fetchChunk retrieves the next batch of actions: the HTML bootstrap first,
// then the innertube API, or the HTML continuation page once the session has
// fallen back to scraping.
func (e *Engine) fetchChunk(ctx context.Context, cfg *videoConfig, first bool) (*liveChatContinuation, error) {
	if first {
		return e.bootstrap(ctx, cfg)
	}
	for {
		if cfg.useNonAPIFallback {
			return e.htmlContinuation(ctx, cfg)
		}
		chunk, flipped, err := e.apiContinuation(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if flipped {
			continue
		}
		return chunk, nil
	}
}

// bootstrap fetches the initial continuation page, capturing the innertube
// config the API calls need along with the first chunk.
func (e *Engine) bootstrap(ctx context.Context, cfg *videoConfig) (*liveChatContinuation, error) {
	page, err := e.fetchChatPage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cfg.apiVersion = page.cfg.APIVersion
	cfg.apiKey = page.cfg.APIKey
	cfg.apiContext = page.cfg.Context
	cfg.loggedOut = page.resp.loggedOut()

	chunk := page.resp.continuation()
	if chunk == nil {
		return nil, ErrNoContinuation
	}
	return chunk, nil
}

func (e *Engine) apiContinuation(ctx context.Context, cfg *videoConfig) (*liveChatContinuation, bool, error) {
	body := map[string]any{
		"context":      cfg.apiContext,
		"continuation": cfg.continuation,
	}
	if cfg.isReplay && e.opts.StartTime != nil {
		offsetMs := max(*e.opts.StartTime, 0) * 1000
		body["currentPlayerState"] = map[string]any{
			"playerOffsetMs": fmt.Sprintf("%d", offsetMs),
		}
	}
	raw, err := e.session.PostJSON(ctx, e.apiURL(cfg), body)
	var status *session.StatusError
	if err != nil && !errors.As(err, &status) {
		return nil, false, err
	}

	var resp chatResponse
	if jsonErr := json.Unmarshal(raw, &resp); jsonErr != nil {
		return nil, false, &ParsingError{What: "chat API response", Snippet: snippet(raw)}
	}
	if resp.Error != nil {
		switch resp.Error.Code {
		case 403:
			return nil, false, &VideoUnavailable{Reason: resp.Error.Message}
		case 404:
			return nil, false, &VideoNotFound{Reason: resp.Error.Message}
		default:
			return nil, false, &ParsingError{What: fmt.Sprintf("chat API error %d", resp.Error.Code), Snippet: resp.Error.Message}
		}
	}

	chunk := resp.continuation()
	if chunk == nil {
		if !cfg.loggedOut && resp.loggedOut() {
			// The session's cookies stopped authenticating mid-stream; the
			// API hides the chat from logged-out callers but the HTML page
			// still carries it.
			e.logger.Warn("logged out mid-stream, falling back to page scraping")
			if telemetry.Fallbacks != nil {
				telemetry.Fallbacks.Inc()
			}
			cfg.useNonAPIFallback = true
			return nil, true, nil
		}
		return nil, false, ErrNoContinuation
	}
	return chunk, false, nil
}

func (e *Engine) htmlContinuation(ctx context.Context, cfg *videoConfig) (*liveChatContinuation, error) {
	page, err := e.fetchChatPage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	chunk := page.resp.continuation()
	if chunk == nil {
		return nil, ErrNoContinuation
	}
	return chunk, nil
}

// handleAction parses one action into a record, applying the renderer-class
// and messageType filters. Per-action failures are logged and skipped.
func (e *Engine) handleAction(action map[string]any, cfg *videoConfig) (chat.Record, bool) {
	var offsetMsec *int64
	if wrapper, ok := action["replayChatItemAction"].(map[string]any); ok {
		if ms, ok := toInt64(wrapper["videoOffsetTimeMsec"]); ok {
			offsetMsec = &ms
		}
		inner, ok := wrapper["actions"].([]any)
		if !ok || len(inner) == 0 {
			return nil, false
		}
		action, ok = inner[0].(map[string]any)
		if !ok {
			return nil, false
		}
	}
	delete(action, "clickTrackingParams")

	payload, ok := actionPayload(action)
	if !ok {
		// Usually a deletion or other item-less action.
		e.logAction(slog.LevelDebug, "action carries no item", action)
		return nil, false
	}
	item, ok := payload["item"].(map[string]any)
	if !ok {
		e.logAction(slog.LevelDebug, "action carries no item", action)
		return nil, false
	}

	rec, class := parseItem(item, e.logger)
	if rec == nil {
		return nil, false
	}
	switch {
	case class == classMessage && e.opts.MessageType == "superchat":
		return nil, false
	case class == classSuperchat && e.opts.MessageType == "messages":
		return nil, false
	}
	if offsetMsec != nil {
		rec[chat.KeyVideoOffsetMsec] = *offsetMsec
	}
	return rec, true
}

// actionPayload finds the single action body ({"addChatItemAction": {...}}).
func actionPayload(action map[string]any) (map[string]any, bool) {
	for _, v := range action {
		if payload, ok := v.(map[string]any); ok {
			if _, ok := payload["item"]; ok {
				return payload, true
			}
		}
	}
	return nil, false
}

func actionType(action map[string]any) string {
	for k := range action {
		if k != "clickTrackingParams" {
			return k
		}
	}
	return ""
}

func (e *Engine) logAction(level slog.Level, msg string, action map[string]any) {
	if !e.logger.Enabled(context.Background(), level) {
		return
	}
	dump, err := json.Marshal(action)
	if err != nil {
		dump = []byte(fmt.Sprint(action))
	}
	e.logger.Log(context.Background(), level, msg, "action", string(dump))
}

// continuationStep unwraps continuations[0], a single-key object among the
// {invalidation,timed,liveChatReplay,reload}ContinuationData variants.
func continuationStep(data map[string]any) (token string, timeoutMs int64) {
	for _, v := range data {
		inner, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if t, ok := inner["continuation"].(string); ok {
			token = t
		}
		if ms, ok := toInt64(inner["timeoutMs"]); ok {
			timeoutMs = ms
		}
		return token, timeoutMs
	}
	return "", 0
}

func recordSeconds(rec chat.Record) (int64, bool) {
	if n, ok := toInt64(rec[chat.KeyTimeSeconds]); ok {
		return n, true
	}
	return 0, false
}

// fetchWatchPage GETs and parses the watch page, re-fetching once when the
// service served its transient error shell.
func (e *Engine) fetchWatchPage(ctx context.Context, videoID string) (*watchPage, error) {
	u := homepage + "/watch?v=" + videoID
	html, err := e.session.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	page, perr := parseWatchPage(html)
	if perr != nil && bytes.Contains(html, errorPageSentinel) {
		if html, err = e.session.Get(ctx, u); err != nil {
			return nil, err
		}
		page, perr = parseWatchPage(html)
	}
	if perr != nil {
		return nil, perr
	}
	return page, nil
}

func (e *Engine) fetchChatPage(ctx context.Context, cfg *videoConfig) (*chatPage, error) {
	u := homepage + "/" + cfg.chatKind() + "?continuation=" + cfg.continuation
	html, err := e.session.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	page, perr := parseChatPage(html)
	if perr != nil && bytes.Contains(html, errorPageSentinel) {
		if html, err = e.session.Get(ctx, u); err != nil {
			return nil, err
		}
		page, perr = parseChatPage(html)
	}
	if perr != nil {
		return nil, perr
	}
	return page, nil
}

func (cfg *videoConfig) chatKind() string {
	if cfg.isReplay {
		return "live_chat_replay"
	}
	return "live_chat"
}

func (e *Engine) apiURL(cfg *videoConfig) string {
	return fmt.Sprintf("%s/youtubei/%s/live_chat/get_%s?key=%s", homepage, cfg.apiVersion, cfg.chatKind(), cfg.apiKey)
}

func (e *Engine) heartbeatURL(cfg *videoConfig) string {
	return fmt.Sprintf("%s/youtubei/%s/player/heartbeat?alt=json&key=%s", homepage, cfg.apiVersion, cfg.apiKey)
}

// updateAbortState feeds the abort checker's state store. Config values are
// merged on every tick; while the video is not yet playable, playability is
// additionally refreshed at most once per heartbeat interval, through the
// heartbeat API or the watch page when the session fell back to scraping.
func (e *Engine) updateAbortState(ctx context.Context, cfg *videoConfig) error {
	c := e.opts.Checker
	if c == nil {
		return nil
	}
	st := c.State()

	mergeConfig := func() {
		if cfg.playability != "" {
			st.Set(abort.KeyPlayabilityStatus, cfg.playability)
		}
		if cfg.scheduledStart != 0 {
			if _, ok := st.Get(abort.KeyOrigScheduledStart); !ok {
				st.Set(abort.KeyOrigScheduledStart, cfg.scheduledStart)
			}
			st.Set(abort.KeyScheduledStart, cfg.scheduledStart)
		}
	}

	if _, ok := st.Get(abort.KeyPollTimestamp); !ok {
		st.Set(abort.KeyPollTimestamp, e.now().Unix())
		mergeConfig()
		return nil
	}
	mergeConfig()

	if status, _ := st.String(abort.KeyPlayabilityStatus); status == "OK" {
		return nil
	}
	last, _ := st.Int64(abort.KeyPollTimestamp)
	interval := cfg.heartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	if e.now().Unix() <= last+interval {
		return nil
	}
	st.Set(abort.KeyPollTimestamp, e.now().Unix())

	var ps *playabilityStatus
	var err error
	if cfg.useNonAPIFallback || cfg.apiKey == "" {
		ps, err = e.playabilityFromWatch(ctx, cfg)
	} else {
		ps, err = e.heartbeat(ctx, cfg)
	}
	if err != nil {
		return err
	}
	if ps == nil {
		return nil
	}
	if ps.Status != "" {
		st.Set(abort.KeyPlayabilityStatus, ps.Status)
		cfg.playability = ps.Status
	}
	if s, ok := ps.scheduledStart(); ok {
		if _, ok := st.Get(abort.KeyOrigScheduledStart); !ok {
			st.Set(abort.KeyOrigScheduledStart, s)
		}
		st.Set(abort.KeyScheduledStart, s)
		cfg.scheduledStart = s
	}
	return nil
}

func (e *Engine) heartbeat(ctx context.Context, cfg *videoConfig) (*playabilityStatus, error) {
	body := map[string]any{
		"context": cfg.apiContext,
		"heartbeatRequestParams": map[string]any{
			"heartbeatChecks": []string{"HEARTBEAT_CHECK_TYPE_LIVE_STREAM_STATUS"},
		},
		"videoId":        cfg.videoID,
		"sequenceNumber": cfg.sequenceNumber,
	}
	if cfg.heartbeatToken != "" {
		body["heartbeatToken"] = cfg.heartbeatToken
	}
	if cfg.heartbeatServerData != "" {
		body["heartbeatServerData"] = cfg.heartbeatServerData
	}
	cfg.sequenceNumber++

	if telemetry.Heartbeats != nil {
		telemetry.Heartbeats.Inc()
	}
	raw, err := e.session.PostJSON(ctx, e.heartbeatURL(cfg), body)
	if err != nil {
		return nil, err
	}
	var resp struct {
		PlayabilityStatus *playabilityStatus `json:"playabilityStatus"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ParsingError{What: "heartbeat response", Snippet: snippet(raw)}
	}
	return resp.PlayabilityStatus, nil
}

func (e *Engine) playabilityFromWatch(ctx context.Context, cfg *videoConfig) (*playabilityStatus, error) {
	page, err := e.fetchWatchPage(ctx, cfg.videoID)
	if err != nil {
		return nil, err
	}
	return page.player.PlayabilityStatus, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
