// Command chat-downloader retrieves YouTube and Twitch chat from past
// broadcasts, VODs, and live streams. No API authentication needed. It:
//   - Parses the target URL and dispatches to the matching platform client:
//     YouTube live/replay chat, Twitch VOD comment replay, or Twitch IRC.
//   - Streams every message to the console and the chosen output sink
//     (.json, .csv, plain text, or a Postgres DSN).
//   - Evaluates abort conditions and routes signals per the configured
//     policies.
//   - Optionally exposes /metrics and /healthz on --metrics_addr.
//
// Recognized fatal conditions print `[ERROR][Kind] message` and exit 0;
// output is finalized on every path.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/joho/godotenv"

	"github.com/lbmaian/chat-downloader/abort"
	"github.com/lbmaian/chat-downloader/config"
	"github.com/lbmaian/chat-downloader/logging"
	"github.com/lbmaian/chat-downloader/output"
	"github.com/lbmaian/chat-downloader/server"
	"github.com/lbmaian/chat-downloader/session"
	"github.com/lbmaian/chat-downloader/signals"
	"github.com/lbmaian/chat-downloader/telemetry"
	"github.com/lbmaian/chat-downloader/twitch"
	"github.com/lbmaian/chat-downloader/youtube"
)

const version = "1.0.0"

// invalidURL is raised when the url matches no platform.
type invalidURL struct{ url string }

func (e *invalidURL) Error() string {
	return fmt.Sprintf("The url provided (%s) is invalid.", e.url)
}

func main() {
	// Load .env file if present (local dev convenience only; production
	// relies on real env).
	_ = godotenv.Load()

	opts, err := config.Parse(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		// config.Parse reported the failure already.
		os.Exit(2)
	}
	if opts.Version {
		fmt.Printf("chat-downloader %s\n", version)
		return
	}

	os.Exit(run(opts))
}

func run(opts *config.Options) (code int) {
	console, closeLogs, err := output.OpenTargets(opts.LogFiles, opts.Newline)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() {
		if err := closeLogs(); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}()

	logger := slog.New(logging.NewHandler(console, &logging.HandlerOptions{
		Level:   opts.LogLevel,
		Context: opts.LogBaseContext,
	}))
	slog.SetDefault(logger)

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("chat-downloader", version)
	if err != nil {
		logger.Error("tracing initialization failed", slog.Any("err", err))
		return 1
	}
	defer shutdownTracing()

	controller, err := output.NewController(output.Config{
		Target:  opts.Output,
		URL:     opts.URL,
		Console: console,
		Newline: opts.Newline,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("open output", slog.Any("err", err))
		return 1
	}
	defer func() {
		if err := controller.Finalize(); err != nil {
			logger.Error("finalize output", slog.Any("err", err))
		}
	}()

	// Unexpected panics still finalize the sinks above, then exit non-zero.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic", slog.Any("err", r), slog.String("stack", string(debug.Stack())))
			code = 1
		}
	}()

	router := signals.NewRouter(logger, controller.Println)
	checker, err := abort.Parse(opts.AbortConditions, abort.ParseConfig{
		Logger:       logger,
		SignalPolicy: router.SetPolicy,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	ctx, stop := router.Start(context.Background())
	defer stop()

	if opts.MetricsAddr != "" {
		go func() {
			if err := server.Start(ctx, opts.MetricsAddr); err != nil {
				logger.Error("metrics server error", slog.Any("err", err))
			}
		}()
	}

	sess, err := session.New(session.Config{CookiePath: opts.Cookies, Logger: logger})
	if err != nil {
		return settleFatal(controller, logger, err)
	}

	if err := dispatch(ctx, sess, controller, checker, opts, logger); err != nil {
		return settleFatal(controller, logger, err)
	}

	if opts.SaveCookies != "" {
		if err := sess.SaveCookies(opts.SaveCookies); err != nil {
			logger.Error("save cookies", slog.Any("err", err))
		}
	}
	return 0
}

// dispatch routes the url to its platform client: YouTube first, then
// Twitch VODs, then Twitch channels.
func dispatch(ctx context.Context, sess *session.Session, sink *output.Controller, checker *abort.Checker, opts *config.Options, logger *slog.Logger) error {
	if id, ok := youtube.ExtractVideoID(opts.URL); ok {
		engine := youtube.NewEngine(sess, sink, youtube.Options{
			MessageType: opts.MessageType,
			ChatType:    opts.ChatType,
			StartTime:   opts.StartTime,
			EndTime:     opts.EndTime,
			Checker:     checker,
			Logger:      logger,
		})
		return engine.Run(ctx, id)
	}
	if id, ok := twitch.ExtractVODID(opts.URL); ok {
		replay := twitch.NewReplay(sess, sink, twitch.Options{
			StartTime: opts.StartTime,
			EndTime:   opts.EndTime,
			Logger:    logger,
		})
		return replay.Run(ctx, id)
	}
	if channel, ok := twitch.ExtractChannel(opts.URL); ok {
		live := twitch.NewLive(sink, twitch.Options{
			StartTime: opts.StartTime,
			EndTime:   opts.EndTime,
			Checker:   checker,
			Logger:    logger,
		})
		return live.Run(ctx, channel)
	}
	return &invalidURL{url: opts.URL}
}

// settleFatal prints recognized fatal conditions in the `[ERROR][Kind]`
// form and exits zero; anything unrecognized is logged and exits non-zero.
func settleFatal(sink *output.Controller, logger *slog.Logger, err error) int {
	if kind, ok := fatalKind(err); ok {
		sink.Println(fmt.Sprintf("[ERROR][%s] %s", kind, err.Error()))
		return 0
	}
	logger.Error("download failed", slog.Any("err", err))
	return 1
}

func fatalKind(err error) (string, bool) {
	var (
		badURL    *invalidURL
		parseErr  *youtube.ParsingError
		noReplay  *youtube.NoChatReplay
		unavail   *youtube.VideoUnavailable
		twitchErr *twitch.Error
		cookieErr *session.CookieError
	)
	switch {
	case errors.As(err, &badURL):
		return "Invalid URL", true
	case errors.As(err, &parseErr):
		return "Parsing Error", true
	case errors.As(err, &noReplay):
		return "No Chat Replay", true
	case errors.As(err, &unavail):
		return "Video Unavailable", true
	case errors.As(err, &twitchErr):
		return "Twitch Error", true
	case errors.As(err, &cookieErr):
		return "Cookies Error", true
	}
	return "", false
}
