// crewbridge bridges one Telegram bot account to a crew of long-lived
// background workers. The serve subcommand runs the bridge; the hook
// subcommand runs inside a worker session and posts its reply back.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/mattn/go-isatty"

	"github.com/jaakkos/crewbridge/internal/app"
	"github.com/jaakkos/crewbridge/internal/backend"
	"github.com/jaakkos/crewbridge/internal/chat"
	"github.com/jaakkos/crewbridge/internal/dashboard"
	"github.com/jaakkos/crewbridge/internal/history"
	"github.com/jaakkos/crewbridge/internal/hook"
	"github.com/jaakkos/crewbridge/internal/mcptools"
	"github.com/jaakkos/crewbridge/internal/policy"
	httpserver "github.com/jaakkos/crewbridge/internal/server"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "hook":
			runHook()
			return
		case "--version", "-v", "version":
			fmt.Println("crewbridge " + app.Version)
			return
		case "serve":
			// Fall through to the default below.
		default:
			fmt.Fprintf(os.Stderr, "unknown subcommand %q (expected serve, hook, or version)\n", os.Args[1])
			os.Exit(2)
		}
	}
	runServe()
}

func runServe() {
	cfg, err := policy.LoadConfig(os.Getenv("CREWBRIDGE_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "crewbridge: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "crewbridge: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogFile)
	logger.Printf("Starting crewbridge v%s (node %s)", app.Version, cfg.Node)
	logger.Printf("State dir: %s", cfg.StateDir)

	if cfg.Telegram.BotToken == "" {
		logger.Fatal("TELEGRAM_BOT_TOKEN is not set")
	}
	client := chat.NewClient(cfg.Telegram.BotToken, chat.WithClientLogger(logger))
	if me, err := client.GetMe(); err != nil {
		logger.Printf("Warning: getMe failed: %v", err)
	} else {
		logger.Printf("Authenticated as @%s", me.Username)
	}

	// The recorder is informational; the bridge runs without it.
	var recorder app.Recorder
	hist, err := history.New(cfg.HistoryFile())
	if err != nil {
		logger.Printf("Warning: history store disabled: %v", err)
	} else {
		recorder = hist
	}

	tmux := backend.NewTmux(cfg.SessionPrefix(), logger)

	// The pipe backend needs the service for replies and the service
	// needs the backend to spawn, so the callback closes over svc.
	var svc *app.Service
	pipe := backend.NewPipe(logger, func(name, line string) {
		if err := svc.HandleWorkerResponse(name, line); err != nil {
			logger.Printf("pipe output from %s dropped: %v", name, err)
		}
	})

	svc, err = app.NewService(cfg, client, tmux, pipe, recorder, logger)
	if err != nil {
		logger.Fatalf("Service init: %v", err)
	}
	router := app.NewRouter(svc, logger)

	if unclaimed := svc.Refresh(); len(unclaimed) > 0 {
		logger.Printf("Found %d unclaimed session(s) at startup", len(unclaimed))
	}
	svc.UpdateCommandMenu()
	if admin := svc.AdminChatID(); admin != 0 {
		svc.StartupNotice(admin)
	}

	watchdog := app.NewWatchdog(svc, logger,
		app.WithWatchdogInterval(time.Duration(cfg.WatchdogIntervalSecond)*time.Second))
	watchdog.Start()

	mux := http.NewServeMux()
	httpserver.New(svc, router, cfg, logger).Register(mux)
	dashboard.NewHandler(svc, cfg.Node).RegisterRoutes(mux)

	if cfg.MCP.Enabled {
		mcpServer := server.NewMCPServer("crewbridge", app.Version)
		mcptools.Register(mcpServer, svc, logger)
		mux.Handle("/mcp", server.NewStreamableHTTPServer(mcpServer))
		logger.Printf("Control plane at %s/mcp", cfg.BridgeURL())
	}

	if cfg.Telegram.WebhookURL != "" {
		if err := client.SetWebhook(cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
			logger.Printf("Warning: setWebhook failed: %v", err)
		} else {
			logger.Printf("Webhook registered: %s", cfg.Telegram.WebhookURL)
		}
	}

	shutdown := startHTTPServer(mux, cfg.HTTPPort, logger)
	logger.Printf("Dashboard at %s/dashboard", cfg.BridgeURL())

	// Keep running when daemonized; nohup sends SIGHUP on logout.
	signal.Ignore(syscall.SIGHUP)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Printf("Received signal %v, shutting down...", sig)

	svc.BroadcastShutdown()
	watchdog.Stop()
	shutdown()
	if hist != nil {
		if err := hist.Close(); err != nil {
			logger.Printf("Warning: close history store: %v", err)
		}
	}
	logger.Println("Bridge stopped")
}

// startHTTPServer serves mux in the background and returns a shutdown
// function. Uses net.Listen so port 0 works for side-by-side nodes.
func startHTTPServer(mux *http.ServeMux, port int, logger *log.Logger) func() {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		logger.Fatalf("HTTP listen: %v", err)
	}
	logger.Printf("HTTP server on :%d", ln.Addr().(*net.TCPAddr).Port)

	httpServer := &http.Server{Handler: mux}
	go func() {
		if err := httpServer.Serve(ln); err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP shutdown error: %v", err)
		}
	}
}

// runHook implements "crewbridge hook". It resolves the worker identity
// and bridge URL from the process environment or the enclosing tmux
// session, never from the bot token, and forwards the reply on stdin.
func runHook() {
	session := hook.SessionName()

	worker := os.Getenv("CREW_WORKER")
	if worker == "" {
		worker = hook.SessionEnv(session, "CREW_WORKER")
	}
	if worker == "" {
		prefix := os.Getenv("CREWBRIDGE_PREFIX")
		if prefix == "" {
			prefix = hook.SessionEnv(session, "CREWBRIDGE_PREFIX")
		}
		if prefix != "" && strings.HasPrefix(session, prefix) {
			worker = strings.TrimPrefix(session, prefix)
		}
	}
	if worker == "" {
		fmt.Fprintln(os.Stderr, "crewbridge hook: cannot determine worker name (set CREW_WORKER)")
		os.Exit(1)
	}

	url := os.Getenv("CREWBRIDGE_URL")
	if url == "" {
		url = hook.SessionEnv(session, "CREWBRIDGE_URL")
	}
	if url == "" {
		url = "http://localhost:8081"
	}

	if err := hook.Run(hook.Config{BridgeURL: url, Worker: worker}, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "crewbridge hook: %v\n", err)
		os.Exit(1)
	}
}

// setupLogger writes to the log file and, when stderr is an interactive
// terminal, to stderr as well. Daemon runs that redirect stderr into the
// log file would otherwise see every line twice.
func setupLogger(logFilePath string) *log.Logger {
	var writers []io.Writer

	hasLogFile := false
	lower := strings.ToLower(logFilePath)
	if lower != "none" && lower != "off" && logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err == nil {
			f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				writers = append(writers, f)
				hasLogFile = true
			} else {
				fmt.Fprintf(os.Stderr, "[crewbridge] Warning: cannot open log file %s: %v\n", logFilePath, err)
			}
		} else {
			fmt.Fprintf(os.Stderr, "[crewbridge] Warning: cannot create log dir %s: %v\n", filepath.Dir(logFilePath), err)
		}
	}
	if isatty.IsTerminal(os.Stderr.Fd()) || !hasLogFile {
		writers = append(writers, os.Stderr)
	}

	return log.New(io.MultiWriter(writers...), "[crewbridge] ", log.LstdFlags)
}
