package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aluiziolira/go-scrape-catalogs/checkpoint"
	"github.com/aluiziolira/go-scrape-catalogs/config"
	"github.com/aluiziolira/go-scrape-catalogs/models"
)

func TestSelectSources(t *testing.T) {
	cfg := config.DefaultConfig()
	disabled := false
	sc := cfg.Sources["aldi"]
	sc.Enabled = &disabled
	cfg.Sources["aldi"] = sc

	names, err := selectSources(cfg, nil)
	if err != nil {
		t.Fatalf("selectSources: %v", err)
	}
	for _, n := range names {
		if n == "aldi" {
			t.Fatalf("disabled source selected: %v", names)
		}
	}
	if len(names) != 4 {
		t.Fatalf("names = %v, want the four enabled sources", names)
	}

	names, err = selectSources(cfg, []string{"aldi", "ah", "aldi"})
	if err != nil {
		t.Fatalf("selectSources explicit: %v", err)
	}
	if strings.Join(names, ",") != "aldi,ah" {
		t.Fatalf("names = %v, want [aldi ah]", names)
	}

	if _, err := selectSources(cfg, []string{"lidl"}); err == nil {
		t.Fatalf("expected error for unknown source")
	}
}

func seedCheckpoint(t *testing.T, stateDir string) {
	t.Helper()
	store, err := checkpoint.NewFileStore(stateDir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx := context.Background()
	if err := store.SaveState(ctx, "jumbo", models.CrawlState{
		RunID: "run-1", CategoryIndex: 2, PageIndex: 7,
		Counters: models.Counters{Seen: 40, Kept: 36},
	}); err != nil {
		t.Fatalf("save state: %v", err)
	}
	if _, err := store.WriteChunk(ctx, "jumbo", []models.Product{{ID: "1", Title: "x", Price: 1, Source: "jumbo"}}); err != nil {
		t.Fatalf("write chunk: %v", err)
	}
}

func TestStatusCommand(t *testing.T) {
	stateDir := t.TempDir()
	seedCheckpoint(t, stateDir)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"status", "--state-dir", stateDir, "jumbo", "ah"})
	if err := root.Execute(); err != nil {
		t.Fatalf("status: %v", err)
	}

	got := out.String()
	var jumbo, ah string
	for _, line := range strings.Split(got, "\n") {
		switch {
		case strings.HasPrefix(line, "jumbo"):
			jumbo = line
		case strings.HasPrefix(line, "ah"):
			ah = line
		}
	}
	fields := strings.Fields(jumbo)
	if len(fields) < 6 || fields[1] != "run-1" || fields[2] != "2" || fields[3] != "7" || fields[4] != "36" || fields[5] != "1" {
		t.Fatalf("unexpected jumbo row %q in:\n%s", jumbo, got)
	}
	if !strings.Contains(ah, "idle") {
		t.Fatalf("ah should be idle, got %q", ah)
	}
}

func TestResetClearsCheckpoint(t *testing.T) {
	stateDir := t.TempDir()
	seedCheckpoint(t, stateDir)

	cfg := config.DefaultConfig()
	cfg.StateDir = stateDir
	var out bytes.Buffer
	if err := resetSources(context.Background(), cfg, []string{"jumbo"}, &out); err != nil {
		t.Fatalf("reset: %v", err)
	}

	store, err := checkpoint.NewFileStore(stateDir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if _, ok, err := store.LoadState(context.Background(), "jumbo"); err != nil || ok {
		t.Fatalf("state still present: ok=%v err=%v", ok, err)
	}
	chunks, err := store.LoadChunks(context.Background(), "jumbo")
	if err != nil || len(chunks) != 0 {
		t.Fatalf("chunks still present: %d err=%v", len(chunks), err)
	}
}

func TestResetRefusesLockedSource(t *testing.T) {
	stateDir := t.TempDir()
	lock, err := checkpoint.AcquireLock(stateDir, "dirk")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer lock.Release()

	cfg := config.DefaultConfig()
	cfg.StateDir = stateDir
	err = resetSources(context.Background(), cfg, []string{"dirk"}, &bytes.Buffer{})
	if !errors.Is(err, checkpoint.ErrLocked) {
		t.Fatalf("err = %v, want ErrLocked", err)
	}
}

func TestSourcesCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"sources"})
	if err := root.Execute(); err != nil {
		t.Fatalf("sources: %v", err)
	}
	want := "ah\naldi\ndirk\nhoogvliet\njumbo\n"
	if out.String() != want {
		t.Fatalf("sources = %q, want %q", out.String(), want)
	}
}

func TestRunRejectsInvalidFlags(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run", "--state-dir", t.TempDir(), "--format", "xml", "ah"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected validation error for unknown format")
	}
}
