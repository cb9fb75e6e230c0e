package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/harshakreox/ghostqa/internal/domain"
)

func TestParsePatch(t *testing.T) {
	patch, err := parsePatch([]byte("enabled: false\nmax_concurrent_executions: 4\nretry_base_delay: 10s\n"))
	if err != nil {
		t.Fatal(err)
	}
	if patch.Enabled == nil || *patch.Enabled {
		t.Fatalf("enabled = %v", patch.Enabled)
	}
	if patch.MaxConcurrentExecutions == nil || *patch.MaxConcurrentExecutions != 4 {
		t.Fatalf("max = %v", patch.MaxConcurrentExecutions)
	}
	if patch.RetryBaseDelay == nil || patch.RetryBaseDelay.Std() != 10*time.Second {
		t.Fatalf("retry_base_delay = %v", patch.RetryBaseDelay)
	}
	if patch.PollIntervalSeconds != nil {
		t.Fatal("unset field should stay nil")
	}

	if _, err := parsePatch([]byte("max_concurrency: 4\n")); err == nil {
		t.Fatal("unknown key should fail")
	}
	if _, err := parsePatch([]byte("{}\n")); err == nil {
		t.Fatal("empty patch should fail")
	}
}

func TestEventsURL(t *testing.T) {
	got, err := eventsURL("https://qa.example.com/", "execution.,request.queued", "r1", 20)
	if err != nil {
		t.Fatal(err)
	}
	want := "wss://qa.example.com/api/v1/orchestrator/events/ws?replay=20&request_id=r1&type=execution.%2Crequest.queued"
	if got != want {
		t.Fatalf("url = %s", got)
	}
}

func TestFormatEvent(t *testing.T) {
	ev := domain.Event{
		Type:      domain.EventExecutionCompleted,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		RequestID: "r1",
		Data:      map[string]interface{}{"status": "success", "attempts": 1},
	}
	got := formatEvent(ev)
	if !strings.HasPrefix(got, "2026-01-02T03:04:05Z execution.completed") || !strings.HasSuffix(got, " r1 attempts=1 status=success") {
		t.Fatalf("formatEvent = %q", got)
	}
}

func TestRenderQueue(t *testing.T) {
	var buf bytes.Buffer
	renderQueue(&buf, []domain.ExecutionRequest{
		{ID: "r1", Kind: domain.KindFeature, ProjectID: "p1", FeatureID: "login", Priority: domain.PriorityCritical},
		{ID: "r2", Kind: domain.KindProject, ProjectID: "p2", Priority: domain.PriorityNormal},
	})
	out := buf.String()
	for _, want := range []string{"r1", "p1/login", "critical", "r2", "normal", "TOTAL"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in\n%s", want, out)
		}
	}
}

func TestQueueFeatureCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if r.URL.Path != "/api/v1/orchestrator/queue/feature" || body["priority"] != "low" {
			t.Errorf("request %s %v", r.URL.Path, body)
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"request_id":"r9","outcome":"accepted","priority":"low","pending":{"id":"r9"}}`))
	}))
	defer srv.Close()

	viper.Set("server", srv.URL)
	defer viper.Set("server", nil)

	root := &cobra.Command{Use: "test"}
	registerCommands(root)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"queue", "feature", "p1", "login", "--priority", "LOW"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "accepted r9 (priority low)\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestQueueRejectsUnknownPriority(t *testing.T) {
	root := &cobra.Command{Use: "test"}
	registerCommands(root)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"queue", "project", "p1", "--priority", "urgent"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error")
	}
}
