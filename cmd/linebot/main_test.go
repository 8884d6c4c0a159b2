package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"linebot/internal/agent"
	"linebot/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ragConfig(t *testing.T, docsDir string) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Line.ChannelSecret = "secret"
	cfg.Line.ChannelAccessToken = "token"
	cfg.Generation.APIKey = "sk-test"
	cfg.Knowledge.DocumentsDir = docsDir
	cfg.Knowledge.ChunkSize = 200
	cfg.Knowledge.ChunkOverlap = 20
	return cfg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNewApp_EchoMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Bot.Mode = "echo"

	a, err := newApp(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if a.builder != nil {
		t.Fatal("echo mode should not build an index")
	}
	if err := a.buildIndex(context.Background()); err != nil {
		t.Fatalf("buildIndex: %v", err)
	}

	reply := a.responder.Respond(context.Background(), "hello")
	if reply.Outcome != agent.OutcomeEchoed || reply.Text != cfg.Bot.Messages.EchoPrefix+"hello" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestApp_BuildIndexPublishes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "france.txt"), "Paris is the capital of France.")
	writeFile(t, filepath.Join(dir, "japan.md"), "Tokyo is the capital of Japan.")

	a, err := newApp(context.Background(), ragConfig(t, dir), testLogger())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if err := a.buildIndex(context.Background()); err != nil {
		t.Fatalf("buildIndex: %v", err)
	}
	if !a.holder.Ready() {
		t.Fatal("index should be published")
	}
	if got := a.holder.Load().Documents(); got != 2 {
		t.Fatalf("expected 2 documents, got %d", got)
	}
}

func TestApp_EmptyDocumentsLeavesNotReady(t *testing.T) {
	a, err := newApp(context.Background(), ragConfig(t, t.TempDir()), testLogger())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if err := a.buildIndex(context.Background()); err != nil {
		t.Fatalf("empty folder should not be fatal: %v", err)
	}
	if a.holder.Ready() {
		t.Fatal("index should not be ready")
	}

	reply := a.responder.Respond(context.Background(), "anything?")
	if reply.Outcome != agent.OutcomeNotReady {
		t.Fatalf("expected not_ready, got %+v", reply)
	}
}

func TestApp_RefreshPicksUpNewDocuments(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "Paris is the capital of France.")

	a, err := newApp(context.Background(), ragConfig(t, dir), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := a.buildIndex(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := a.holder.Load().ID()

	if err := a.refreshIndex(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if a.holder.Load().ID() != first {
		t.Fatal("unchanged documents should keep the index")
	}

	writeFile(t, filepath.Join(dir, "b.txt"), "Berlin is the capital of Germany.")
	if err := a.refreshIndex(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if a.holder.Load().ID() == first || a.holder.Load().Documents() != 2 {
		t.Fatal("changed documents should publish a new index")
	}
}

func TestResolveConfigPath(t *testing.T) {
	old := configPath
	t.Cleanup(func() { configPath = old })

	configPath = "/etc/linebot.yaml"
	if got := resolveConfigPath(); got != "/etc/linebot.yaml" {
		t.Fatalf("flag should win, got %q", got)
	}

	configPath = ""
	t.Chdir(t.TempDir())
	if got := resolveConfigPath(); got != "" {
		t.Fatalf("expected env-only config, got %q", got)
	}
	writeFile(t, config.DefaultConfigPath, "bot:\n  mode: echo\n")
	if got := resolveConfigPath(); got != config.DefaultConfigPath {
		t.Fatalf("expected default file, got %q", got)
	}
}

func TestBackup_ArchivesConfigDocumentsAndDatabase(t *testing.T) {
	root := t.TempDir()
	cfgPath := filepath.Join(root, "linebot.yaml")
	writeFile(t, cfgPath, "bot:\n  mode: echo\n")
	writeFile(t, filepath.Join(root, "docs", "a.txt"), "alpha")
	writeFile(t, filepath.Join(root, "docs", "sub", "b.md"), "beta")
	writeFile(t, filepath.Join(root, "data", "linebot.db"), "db")

	cfg := config.Defaults()
	cfg.Knowledge.DocumentsDir = filepath.Join(root, "docs")
	cfg.Webhook.DedupeDBPath = filepath.Join(root, "data", "linebot.db")

	entries, err := backupEntries(cfgPath, cfg)
	if err != nil {
		t.Fatalf("backupEntries: %v", err)
	}

	out := filepath.Join(root, "backup.tar.gz")
	if err := createTarGz(out, entries); err != nil {
		t.Fatalf("createTarGz: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(gz)

	var names []string
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, h.Name)
	}
	sort.Strings(names)

	want := []string{"data/linebot.db", "documents/a.txt", "documents/sub/b.md", "linebot.yaml"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("archive entries = %v, want %v", names, want)
	}
}

func TestBackup_MissingSourcesAreSkipped(t *testing.T) {
	cfg := config.Defaults()
	cfg.Knowledge.DocumentsDir = filepath.Join(t.TempDir(), "missing")
	cfg.Webhook.DedupeDBPath = filepath.Join(t.TempDir(), "missing.db")

	entries, err := backupEntries("", cfg)
	if err != nil {
		t.Fatalf("backupEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %v", entries)
	}
}

func TestHumanSize(t *testing.T) {
	cases := map[int64]string{
		512:     "512 B",
		2048:    "2.0 KB",
		3 << 20: "3.0 MB",
		5 << 30: "5.0 GB",
	}
	for in, want := range cases {
		if got := humanSize(in); got != want {
			t.Errorf("humanSize(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestPreview(t *testing.T) {
	if got := preview("a\n  b\tc", 10); got != "a b c" {
		t.Fatalf("whitespace not collapsed: %q", got)
	}
	if got := preview("東京は日本の首都です", 3); got != "東京は..." {
		t.Fatalf("unexpected truncation: %q", got)
	}
}
