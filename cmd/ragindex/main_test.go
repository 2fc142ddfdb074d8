package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/ragindex/internal/cli"
	"github.com/hyperjump/ragindex/internal/models"
)

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"hyperjump"}, "hyperjump"},
		{"multiple words", []string{"hyperjump", "profile"}, "hyperjump profile"},
		{"single quoted phrase", []string{"hyperjump profile"}, "hyperjump profile"},
		{"three words", []string{"machine", "learning", "algorithms"}, "machine learning algorithms"},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchQuery(tt.args, searchOptions{}, false)
			if got.Query != tt.expected {
				t.Errorf("buildSearchQuery(%v).Query = %q, want %q", tt.args, got.Query, tt.expected)
			}
			if got.MinScore != nil {
				t.Error("MinScore should be nil when the flag is not set")
			}
			if got.Filters != nil {
				t.Errorf("Filters = %+v, want nil", got.Filters)
			}
		})
	}
}

func TestBuildSearchQuery_flags(t *testing.T) {
	opts := searchOptions{
		limit:      5,
		minScore:   0,
		pathPrefix: "/docs",
		extensions: []string{".md", " ", "txt"},
		mustMatch:  "invoice",
	}
	q := buildSearchQuery([]string{"quarterly", "report"}, opts, true)
	if q.Limit != 5 {
		t.Errorf("Limit = %d, want 5", q.Limit)
	}
	if q.MinScore == nil || *q.MinScore != 0 {
		t.Errorf("MinScore = %v, want explicit 0", q.MinScore)
	}
	if q.Filters == nil {
		t.Fatal("Filters should be set")
	}
	if q.Filters.PathPrefix != "/docs" || q.Filters.MustMatch != "invoice" {
		t.Errorf("unexpected filters: %+v", q.Filters)
	}
	if !reflect.DeepEqual(q.Filters.Extensions, []string{".md", "txt"}) {
		t.Errorf("Extensions = %v, want [.md txt]", q.Filters.Extensions)
	}
}

func TestOutputFormat(t *testing.T) {
	for in, want := range map[string]cli.OutputFormat{"": cli.OutputText, "text": cli.OutputText, "json": cli.OutputJSON} {
		got, err := outputFormat(in)
		if err != nil || got != want {
			t.Errorf("outputFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := outputFormat("yaml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  data_dir: "./data"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while configPath from t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s (canon %s), want %s (canon %s)", resolved, resolvedCanon, configPath, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  data_dir: "./data"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DataDir != filepath.Join(dir, "data") {
		t.Errorf("DataDir = %s, want %s", cfg.Storage.DataDir, filepath.Join(dir, "data"))
	}
}

func TestLoadConfig_missingExplicitPath(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing explicit config")
	}
}

func TestRemoteClient_Search(t *testing.T) {
	var got models.SearchQuery
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/search" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(models.SearchResponse{
			Query:   got.Query,
			Total:   1,
			Results: []*models.SearchResult{{Rank: 1, Score: 0.9, Path: "/docs/a.md", ChunkID: "c1"}},
		})
	}))
	defer ts.Close()

	q := buildSearchQuery([]string{"hello"}, searchOptions{limit: 3}, false)
	resp, err := newRemoteClient(ts.URL+"/").Search(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	if got.Query != "hello" || got.Limit != 3 {
		t.Errorf("server received %+v", got)
	}
	if resp.Total != 1 || resp.Results[0].Path != "/docs/a.md" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestRemoteClient_ErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"status":"failed","error":"manifest conflict"}`))
	}))
	defer ts.Close()

	_, err := newRemoteClient(ts.URL).Pass(context.Background(), false)
	var re *remoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected remoteError, got %v", err)
	}
	if re.StatusCode != http.StatusConflict || re.Message != "manifest conflict" {
		t.Errorf("unexpected error: %+v", re)
	}
}

func TestRemoteClient_Status(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"state":"ready","backend":"hnsw","records":7,"dimensions":[384],"watch_directories":["/docs"]}`))
	}))
	defer ts.Close()

	resp, err := newRemoteClient(ts.URL).Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status.Records != 7 || resp.Status.Backend != "hnsw" {
		t.Errorf("unexpected status: %+v", resp.Status)
	}
	if !reflect.DeepEqual(resp.WatchDirectories, []string{"/docs"}) {
		t.Errorf("WatchDirectories = %v", resp.WatchDirectories)
	}
}

func TestRemoteClient_WatchRemoveEscapesPath(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		gotPath = r.URL.Query().Get("path")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	if err := newRemoteClient(ts.URL).WatchRemove(context.Background(), "/my docs/a&b"); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/my docs/a&b" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--config", "/does/not/exist.yaml"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "ragindex version") {
		t.Errorf("output = %q", out.String())
	}
}

func TestIndexAndSearchCommands(t *testing.T) {
	dir := t.TempDir()
	docs := filepath.Join(dir, "docs")
	if err := os.MkdirAll(docs, 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"fruit.txt": "apples and pears grow in the orchard every autumn",
		"cars.md":   "# Engines\n\nthe diesel engine and the gearbox of a truck",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(docs, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	configPath := filepath.Join(dir, "config.yaml")
	content := `
storage:
  data_dir: "./data"
embedding:
  provider: hash
  dimensions: 128
watch:
  directories: ["./docs"]
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	run := func(args ...string) string {
		t.Helper()
		var out, errOut bytes.Buffer
		root := newRootCmd()
		root.SetOut(&out)
		root.SetErr(&errOut)
		root.SetArgs(append(args, "--config", configPath))
		if err := root.Execute(); err != nil {
			t.Fatalf("%v: %v\n%s", args, err, errOut.String())
		}
		return out.String()
	}

	var report models.Report
	if err := json.Unmarshal([]byte(run("index", "-o", "json")), &report); err != nil {
		t.Fatal(err)
	}
	if report.Created != 2 || report.ChunksEmbedded == 0 {
		t.Errorf("unexpected first report: %+v", report)
	}

	report = models.Report{}
	if err := json.Unmarshal([]byte(run("index", "-o", "json")), &report); err != nil {
		t.Fatal(err)
	}
	if report.Unchanged != 2 || report.ChunksEmbedded != 0 {
		t.Errorf("second pass should be a no-op: %+v", report)
	}

	var resp models.SearchResponse
	if err := json.Unmarshal([]byte(run("search", "orchard", "apples", "-n", "1", "-o", "json")), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || filepath.Base(resp.Results[0].Path) != "fruit.txt" {
		t.Errorf("unexpected results: %+v", resp.Results)
	}

	resp = models.SearchResponse{}
	if err := json.Unmarshal([]byte(run("search", "engine", "--ext", "txt", "-o", "json")), &resp); err != nil {
		t.Fatal(err)
	}
	for _, r := range resp.Results {
		if filepath.Ext(r.Path) != ".txt" {
			t.Errorf("extension filter let through %s", r.Path)
		}
	}

	if out := run("status"); !strings.Contains(out, "128") {
		t.Errorf("status should mention the dimension:\n%s", out)
	}
}
