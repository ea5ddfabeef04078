package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"aidoc/editor/internal/auth"
	"aidoc/editor/internal/config"
	"aidoc/editor/internal/drafts"
	"aidoc/editor/internal/editor"
	"aidoc/editor/internal/remote"
	"aidoc/editor/internal/reorder"
	"aidoc/editor/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
)

const Version = "0.1.0"

func main() {
	usage := `Section editor.

Usage:
    editor <project_id> [--backend=<url>] [--token=<token>] [--token_file=<path>]
    editor -h | --help
    editor --version

Options:
    -h --help              Show this screen.
    --version              Show version.
    --backend=<url>        Backend base URL. Defaults to EDITOR_BACKEND_URL.
    --token=<token>        Backend bearer token. Defaults to EDITOR_API_TOKEN.
    --token_file=<path>    Read the bearer token from a file instead.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// glog writes to files by default; keep the terminal for the UI.
	_ = flag.CommandLine.Parse(nil)
	defer glog.Flush()

	cfg := config.Load()
	rawID, _ := opts.String("<project_id>")
	projectID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || projectID <= 0 {
		fmt.Fprintf(os.Stderr, "invalid project id %q\n", rawID)
		os.Exit(2)
	}
	if backendURL, _ := opts.String("--backend"); backendURL != "" {
		cfg.BackendURL = backendURL
	}
	if token, _ := opts.String("--token"); token != "" {
		cfg.APIToken = token
	}
	if tokenFile, _ := opts.String("--token_file"); tokenFile != "" {
		cfg.TokenFile = tokenFile
	}

	var creds remote.Credentials = auth.Static(cfg.APIToken)
	if cfg.TokenFile != "" {
		creds = auth.NewCached(auth.FileSource{Path: cfg.TokenFile}, 30*time.Second, 5*time.Minute)
	}
	backend := remote.NewClient(cfg.BackendURL, creds, remote.WithTimeout(cfg.HTTPTimeout))

	var draftStore drafts.Store = drafts.NewMemory()
	if cfg.RedisURL != "" {
		redisDrafts, err := drafts.NewRedis(cfg.RedisURL, cfg.DraftTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "redis connection failed: %v\n", err)
			os.Exit(1)
		}
		defer redisDrafts.Close()
		draftStore = redisDrafts
	}

	ed := editor.New(projectID, backend, editor.Options{
		Drafts: draftStore,
		Retry:  reorder.RetryPolicy{Attempts: cfg.RefetchAttempts, Backoff: cfg.RefetchBackoff},
	})
	defer ed.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model := tui.New(ctx, ed)
	defer model.Close()

	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		glog.Errorf("editor: %v", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
