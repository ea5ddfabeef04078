package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"aidoc/editor/internal/editor"
	"aidoc/editor/internal/section"
	"aidoc/editor/internal/tracker"
	"aidoc/editor/internal/util"
)

func openTestJournal(t *testing.T) *Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := Open(ctx, dbURL)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgres(db)
}

func TestPostgresAppendListAndRefinements(t *testing.T) {
	journal := openTestJournal(t)
	ctx := context.Background()
	projectID := time.Now().UnixNano()

	started := editor.Event{
		ID:        util.NewID("evt"),
		Kind:      editor.EventOperationStarted,
		ProjectID: projectID,
		SectionID: 3,
		Operation: tracker.Refine,
		Prompt:    "shorter",
		At:        time.Now().UTC().Add(-time.Second),
	}
	refined := started
	refined.ID = util.NewID("evt")
	refined.Kind = editor.EventOperationSucceeded
	refined.Section = &section.Section{ID: 3, Title: "Intro", ContentText: section.String("short text")}
	refined.At = time.Now().UTC()

	for _, event := range []editor.Event{started, refined, refined} {
		if err := journal.Append(ctx, event); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	entries, err := journal.List(ctx, projectID, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != refined.ID || entries[0].Operation != "refine" {
		t.Fatalf("unexpected newest entry: %+v", entries[0])
	}
	if entries[1].SectionID == nil || *entries[1].SectionID != 3 {
		t.Fatalf("expected section id 3, got %+v", entries[1].SectionID)
	}

	refinements, err := journal.Refinements(ctx, projectID, 3, 10)
	if err != nil {
		t.Fatalf("Refinements: %v", err)
	}
	if len(refinements) != 1 || refinements[0].RefinedText != "short text" || refinements[0].Prompt != "shorter" {
		t.Fatalf("unexpected refinements: %+v", refinements)
	}
}
