// Entry point for the quell service: launches (or connects to) Chrome, opens
// the target page, assembles the per-page runtime and exposes its actions
// over an HTTP control API and, optionally, MCP over stdio.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/quellhq/quell/browser"
	"github.com/quellhq/quell/dbopen"
	"github.com/quellhq/quell/dispatch"
	"github.com/quellhq/quell/kit"
	"github.com/quellhq/quell/observability"
	"github.com/quellhq/quell/rule"
	"github.com/quellhq/quell/rulestore"
	"github.com/quellhq/quell/runtime"
)

func main() {
	pageURL := os.Getenv("PAGE_URL")
	if pageURL == "" && len(os.Args) > 1 {
		pageURL = os.Args[1]
	}
	if pageURL == "" {
		slog.Error("PAGE_URL (or a URL argument) is required")
		os.Exit(1)
	}

	port := env("PORT", "8090")
	rulesPath := env("RULES_DB", "db/rules.db")
	configPath := env("CONFIG", "")
	browserURL := env("BROWSER_URL", "")
	mcpTransport := env("MCP_TRANSPORT", "")
	authPassword := os.Getenv("AUTH_PASSWORD")
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Pipeline config.
	cfg, err := runtime.LoadConfigFile(configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	// Rule database. The event tables share it.
	store, err := rulestore.Open(rulesPath, dbopen.WithSchema(observability.Schema))
	if err != nil {
		slog.Error("open rule db", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	events := observability.NewEventLogger(store.DB)
	heartbeat := observability.NewHeartbeatWriter(store.DB, "quell", 30*time.Second)
	heartbeat.Start(ctx)
	defer heartbeat.Stop()
	go maintenanceLoop(ctx, store)

	// Browser.
	mgr := browser.NewManager(browser.Config{
		RemoteURL: browserURL,
		Headless:  os.Getenv("HEADLESS") == "1",
		Logger:    logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		slog.Error("start browser", "error", err)
		os.Exit(1)
	}
	defer mgr.Close()

	page, err := browser.Open(ctx, mgr, pageURL)
	if err != nil {
		slog.Error("open page", "error", err)
		os.Exit(1)
	}
	defer page.Close()

	doc, err := page.Snapshot(ctx)
	if err != nil {
		slog.Error("initial snapshot", "error", err)
		os.Exit(1)
	}

	// Runtime.
	rt, err := runtime.New(runtime.Options{
		Host:      page.Host(),
		Path:      page.Path(),
		Doc:       doc,
		Store:     store,
		Sink:      page.Sink(),
		Overlay:   page.NewOverlay(),
		Suggester: cfg.Suggest.Source(),
		Events:    events,
		Logger:    logger,
		Config:    cfg,
	})
	if err != nil {
		slog.Error("assemble runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	if err := rt.Start(ctx); err != nil {
		slog.Error("start runtime", "error", err)
		os.Exit(1)
	}
	if err := page.Attach(ctx, rt); err != nil {
		slog.Error("attach page", "error", err)
		os.Exit(1)
	}

	// Optional MCP over stdio.
	if mcpTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "quell",
			Version: "1.0.0",
		}, nil)
		rt.RegisterMCP(mcpSrv)
		go func() {
			slog.Info("MCP stdio starting")
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("MCP stdio", "error", err)
			}
		}()
	}

	// HTTP control API.
	r := chi.NewRouter()
	if authPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(authPassword), bcrypt.DefaultCost)
		if err != nil {
			slog.Error("hash auth password", "error", err)
			os.Exit(1)
		}
		r.Use(basicAuth(hash))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok", "host": page.Host()})
	})

	r.Get("/api/actions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]any{"actions": rt.Actions().Actions()})
	})

	r.Post("/api/actions/{action}", func(w http.ResponseWriter, req *http.Request) {
		action := chi.URLParam(req, "action")
		payload, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
		if err != nil {
			writeError(w, 400, err)
			return
		}
		callCtx := kit.WithTransport(req.Context(), "http")
		callCtx = kit.WithRemoteAddr(callCtx, req.RemoteAddr)
		resp, err := rt.Actions().Call(callCtx, action, payload)
		if err != nil {
			var notFound *dispatch.ErrActionNotFound
			if errors.As(err, &notFound) {
				writeError(w, 404, err)
				return
			}
			writeError(w, 500, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write(resp)
	})

	r.Get("/api/rules/export", func(w http.ResponseWriter, req *http.Request) {
		sets, err := store.ExportAll(req.Context())
		if err != nil {
			writeError(w, 500, err)
			return
		}
		total := 0
		for _, s := range sets {
			total += len(s.Rules)
		}
		writeJSON(w, 200, exportBundle{Version: 1, Sites: len(sets), Rules: total, Data: sets})
	})

	r.Post("/api/rules/import", func(w http.ResponseWriter, req *http.Request) {
		var bundle exportBundle
		if err := json.NewDecoder(io.LimitReader(req.Body, 8<<20)).Decode(&bundle); err != nil {
			writeError(w, 400, err)
			return
		}
		added, err := store.ImportSets(req.Context(), bundle.Data)
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, map[string]int{"added": added})
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port, "page", pageURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// exportBundle is the wire shape of a full rule backup.
type exportBundle struct {
	Version int        `json:"version"`
	Sites   int        `json:"sites"`
	Rules   int        `json:"rules"`
	Data    []rule.Set `json:"data"`
}

// maintenanceLoop prunes dangling rule scopes and expired events hourly.
func maintenanceLoop(ctx context.Context, store *rulestore.Store) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if res, err := store.Maintenance(ctx); err != nil {
				slog.Warn("rule maintenance", "error", err)
			} else if res.PrefsCleaned > 0 {
				slog.Info("rule maintenance", "prefs_cleaned", res.PrefsCleaned)
			}
			if err := observability.Cleanup(ctx, store.DB, observability.RetentionConfig{
				EventsDays:     30,
				HeartbeatsDays: 7,
			}); err != nil {
				slog.Warn("event cleanup", "error", err)
			}
		}
	}
}

// basicAuth guards the control API with a single shared password. The
// username is ignored.
func basicAuth(hash []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, pass, ok := r.BasicAuth()
			if !ok || bcrypt.CompareHashAndPassword(hash, []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="quell"`)
				writeJSON(w, 401, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
