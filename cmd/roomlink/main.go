// Command roomlink is a terminal client for shared live captioning rooms.
// It joins (or creates) a room through the relay, mirrors the room roster
// and transcript to the log, and sends lines typed on stdin as text
// messages to the room.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/sonohq/roomlink/internal/config"
	"github.com/sonohq/roomlink/internal/health"
	"github.com/sonohq/roomlink/internal/observe"
	"github.com/sonohq/roomlink/internal/roomsync"
	"github.com/sonohq/roomlink/pkg/channel"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "roomlink: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "roomlink: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so the config watcher can adjust it
	// without rebuilding the handler.
	logLevel := new(slog.LevelVar)
	logLevel.Set(cfg.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("roomlink starting",
		"config", *configPath,
		"sharing", cfg.Server.Sharing,
		"saved_room", cfg.Server.SavedRoom,
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "roomlink"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Sync client ───────────────────────────────────────────────────────────
	client := roomsync.New(roomsync.Options{
		Dialer:          &channel.WebsocketDialer{BaseURL: cfg.Server.URL},
		DeviceID:        cfg.User.DeviceID,
		SavedRoomCode:   cfg.Server.SavedRoom,
		AccessKey:       cfg.Server.AccessKey,
		SharingDisabled: !cfg.Server.Sharing,
		Timing:          cfg.Timing.Resolve(),
		Logger:          logger,
		Metrics:         metrics,
	})
	defer client.Close()

	client.InitializeOffline(cfg.User.Name)
	if cfg.Server.Sharing {
		client.AttemptConnection(cfg.Server.SavedRoom)
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(diff config.Diff, _ *config.Config) {
		if diff.LogLevelChanged {
			logLevel.Set(diff.NewLogLevel.Level())
			slog.Info("log level updated", "level", diff.NewLogLevel)
		}
		if diff.UserNameChanged {
			slog.Info("display name updated; applies to the next room session", "name", diff.NewUserName)
		}
		if diff.SharingChanged {
			if diff.NewSharing {
				client.AttemptConnection(cfg.Server.SavedRoom)
			} else {
				client.GoOffline()
			}
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Run loops ─────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Debug.ListenAddr != "" {
		g.Go(func() error { return runDebugServer(gctx, cfg.Debug.ListenAddr, client, metrics) })
	}
	g.Go(func() error { return runEventLog(gctx, client) })
	g.Go(func() error { return runInput(gctx, client) })

	slog.Info("ready — type /help for commands, Ctrl+C to quit")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Debug server ──────────────────────────────────────────────────────────────

// runDebugServer serves /healthz, /readyz, and /metrics until ctx is
// cancelled.
func runDebugServer(ctx context.Context, addr string, client *roomsync.Client, metrics *observe.Metrics) error {
	mux := http.NewServeMux()
	health.New(
		health.SyncCheck(func() roomsync.ConnState { return client.Snapshot().State }),
	).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	slog.Info("debug server listening", "addr", addr)

	select {
	case err := <-errc:
		return fmt.Errorf("debug server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("debug server shutdown error", "err", err)
		}
		return ctx.Err()
	}
}

// ── Event log ─────────────────────────────────────────────────────────────────

// runEventLog mirrors client events to the log until ctx is cancelled.
func runEventLog(ctx context.Context, client *roomsync.Client) error {
	events, cancel := client.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			logEvent(client, ev)
		}
	}
}

func logEvent(client *roomsync.Client, ev roomsync.Event) {
	switch e := ev.(type) {
	case roomsync.StateChanged:
		slog.Info("connection state", "from", e.Old, "to", e.New)
	case roomsync.RoomChanged:
		if e.Room == nil {
			slog.Info("left room")
		} else {
			slog.Info("room joined", "code", e.Room.Code, "concurrent", e.Room.ConcurrentMode)
		}
	case roomsync.ParticipantsChanged:
		snap := client.Snapshot()
		for _, p := range snap.Participants {
			slog.Debug("participant",
				"name", p.Name,
				"quality", p.Quality,
				"speaking", p.Pressed,
				"typing", p.Texting,
			)
		}
	case roomsync.MessagesChanged:
		snap := client.Snapshot()
		if n := len(snap.Messages); n > 0 {
			last := snap.Messages[n-1]
			slog.Info("transcript", "from", last.SpeakerName, "text", last.Text, "final", last.Final)
		}
	case roomsync.JoinRequestPending:
		slog.Info("join request pending — /approve, /decline, or /block",
			"name", e.Request.RequesterName,
			"device", e.Request.RequesterID,
		)
	case roomsync.JoinOutcome:
		slog.Info("join finished", "room", e.RoomCode, "outcome", e.Outcome, "reason", e.Reason)
	case roomsync.SearchingEscalated:
		slog.Warn("still searching for the room", "since", e.Since.Format(time.TimeOnly))
	case roomsync.SearchingDecisionRequired:
		slog.Warn("room not found — /stay to keep searching or /offline to give up",
			"since", e.Since.Format(time.TimeOnly))
	case roomsync.Notice:
		slog.Info(e.Text)
	}
}

// ── Input loop ────────────────────────────────────────────────────────────────

const helpText = `commands:
  /join CODE    join another room (the current room is kept until approval)
  /cancel       cancel the pending join attempt
  /leave        leave the room and stop reconnecting
  /speak        request the speaker slot
  /release      release the speaker slot
  /approve      approve the pending join request
  /decline      decline the pending join request
  /block        decline and block the requesting device
  /stay         keep searching for the lost room
  /offline      stop searching and stay offline
  /quit         exit
anything else is sent to the room as a text message`

// runInput reads stdin lines and applies them to the client until EOF or
// ctx cancellation. Slash-prefixed lines are commands; everything else is
// sent as a text message.
func runInput(ctx context.Context, client *roomsync.Client) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(client, strings.TrimSpace(line)); quit {
				return context.Canceled
			}
		}
	}
}

// handleLine applies one stdin line. Returns true when the user asked to
// quit.
func handleLine(client *roomsync.Client, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		client.SendTextMessage(line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/help":
		fmt.Println(helpText)
	case "/join":
		code := strings.ToUpper(strings.TrimSpace(arg))
		if code == "" {
			fmt.Println("usage: /join CODE")
			return false
		}
		client.JoinRoom(code, "")
	case "/cancel":
		client.CancelJoin()
	case "/leave":
		client.LeaveRoom()
	case "/speak":
		if !client.RequestSpeak() {
			fmt.Println("someone else is speaking")
		}
	case "/release":
		client.ReleaseSpeak()
	case "/approve":
		client.ApproveJoin()
	case "/decline":
		client.DeclineJoin()
	case "/block":
		client.BlockJoin()
	case "/stay":
		client.KeepSearching()
	case "/offline":
		client.GoOffline()
	case "/quit", "/exit":
		return true
	default:
		fmt.Printf("unknown command %q — /help lists commands\n", cmd)
	}
	return false
}
