package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"aidoc/editor/internal/app"
	"aidoc/editor/internal/auth"
	"aidoc/editor/internal/config"
	"aidoc/editor/internal/drafts"
	"aidoc/editor/internal/editor"
	"aidoc/editor/internal/history"
	"aidoc/editor/internal/journal"
	"aidoc/editor/internal/remote"
	"aidoc/editor/internal/reorder"
	"aidoc/editor/internal/search"
	"aidoc/editor/internal/section"

	"github.com/golang/glog"
)

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg := config.Load()
	ctx := context.Background()

	creds := credentials(cfg)
	backend := remote.NewClient(cfg.BackendURL, creds, remote.WithTimeout(cfg.HTTPTimeout))
	checks := map[string]app.Pinger{"backend": backend}

	var draftStore drafts.Store = drafts.NewMemory()
	if strings.TrimSpace(cfg.RedisURL) != "" {
		glog.Infof("Using Redis for notes drafts")
		redisDrafts, err := drafts.NewRedis(cfg.RedisURL, cfg.DraftTTL)
		if err != nil {
			glog.Fatalf("redis connection failed: %v", err)
		}
		defer redisDrafts.Close()
		draftStore = redisDrafts
		checks["drafts"] = redisDrafts
	}

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		glog.Fatalf("failed to create history dir: %v", err)
	}
	historyService := history.New(cfg.HistoryDir, "")
	historyRecorder := history.NewRecorder(historyService, 0)
	observers := []editor.Observer{historyRecorder}

	var events app.Journal
	var journalRecorder *journal.Recorder
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := journal.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			glog.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()
		if err := journal.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			glog.Fatalf("migrations failed: %v", err)
		}
		pg := journal.NewPostgres(db)
		journalRecorder = journal.NewRecorder(pg, 0)
		observers = append(observers, journalRecorder)
		events = pg
	} else {
		glog.Infof("DATABASE_URL not set, event journal disabled")
	}

	var meiliClient *search.Meili
	var index search.Backend
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		index = meiliClient
	}

	// The memory fallback reads the sessions, which need the search service
	// as an observer, so it is bound once both exist.
	var sessions *app.Sessions
	fallback := search.NewMemory(func(projectID int64) ([]section.Section, bool) {
		return sessions.Sections(projectID)
	})
	searchService := search.NewService(index, fallback)
	observers = append(observers, searchService)

	sessions = app.NewSessions(app.SessionOptions{
		Remote:    backend,
		Drafts:    draftStore,
		Observers: observers,
		Retry:     reorder.RetryPolicy{Attempts: cfg.RefetchAttempts, Backoff: cfg.RefetchBackoff},
	})

	service := app.NewService(app.Options{
		Sessions: sessions,
		Search:   searchService,
		History:  historyService,
		Journal:  events,
		Checks:   checks,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.HostToken)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		glog.Infof("Editor host listening on %s, backend %s", cfg.Addr, cfg.BackendURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("shutdown error: %v", err)
	}
	service.Close()
	searchService.Close()
	historyRecorder.Close()
	if journalRecorder != nil {
		journalRecorder.Close()
		if dropped := journalRecorder.Dropped(); dropped > 0 {
			glog.Warningf("journal dropped %d events", dropped)
		}
	}
}

func credentials(cfg config.Config) remote.Credentials {
	if strings.TrimSpace(cfg.TokenFile) != "" {
		return auth.NewCached(auth.FileSource{Path: cfg.TokenFile}, 30*time.Second, 5*time.Minute)
	}
	return auth.Static(cfg.APIToken)
}
