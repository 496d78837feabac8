package advisor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel/codes"

	"siteplan/domain"
	"siteplan/observability"
	"siteplan/observability/obstest"
	"siteplan/storage"
)

func TestClientAnalyze(t *testing.T) {
	tasks := storage.DefaultSeed().Tasks
	fallback := FallbackMessage(LanguageZhTW)

	tests := []struct {
		name       string
		gen        Generator
		wantOK     bool
		wantText   string
		wantReason string
	}{
		{
			name: "success",
			gen: GeneratorFunc(func(_ context.Context, prompt string) (string, error) {
				if !strings.Contains(prompt, `"id":"5"`) {
					return "", errors.New("prompt missing tasks")
				}
				return "- 混凝土灌漿為關鍵路徑", nil
			}),
			wantOK:   true,
			wantText: "- 混凝土灌漿為關鍵路徑",
		},
		{
			name: "error",
			gen: GeneratorFunc(func(context.Context, string) (string, error) {
				return "", errors.New("dial tcp: no route to host")
			}),
			wantText:   fallback,
			wantReason: "no route to host",
		},
		{
			name: "empty response",
			gen: GeneratorFunc(func(context.Context, string) (string, error) {
				return "  \n", nil
			}),
			wantText:   fallback,
			wantReason: "empty response",
		},
		{
			name: "panic",
			gen: GeneratorFunc(func(context.Context, string) (string, error) {
				panic("boom")
			}),
			wantText:   fallback,
			wantReason: "panic",
		},
		{
			name:       "no generator",
			wantText:   fallback,
			wantReason: "no generator",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := test.NewNullLogger()
			client := NewClient(tt.gen, WithLogger(logger))
			advice := client.Analyze(context.Background(), tasks)
			if advice.OK != tt.wantOK || advice.Text != tt.wantText {
				t.Fatalf("unexpected advice: %#v", advice)
			}
			if !strings.Contains(advice.Reason, tt.wantReason) {
				t.Fatalf("reason %q does not mention %q", advice.Reason, tt.wantReason)
			}
			if advice.GeneratedAt.IsZero() {
				t.Fatalf("expected timestamp")
			}
		})
	}
}

func TestClientAnalyzeTimeout(t *testing.T) {
	logger, _ := test.NewNullLogger()

	t.Run("generator honours context", func(t *testing.T) {
		gen := GeneratorFunc(func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})
		advice := NewClient(gen, WithLogger(logger), WithTimeout(20*time.Millisecond)).Analyze(context.Background(), nil)
		if advice.OK || advice.Text != TimeoutMessage(LanguageZhTW) {
			t.Fatalf("expected timeout advice, got %#v", advice)
		}
	})

	t.Run("generator ignores context", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		gen := GeneratorFunc(func(context.Context, string) (string, error) {
			<-release
			return "late", nil
		})
		start := time.Now()
		advice := NewClient(gen, WithLogger(logger), WithTimeout(20*time.Millisecond), WithLanguage(LanguageEN)).Analyze(context.Background(), nil)
		if advice.OK || advice.Text != TimeoutMessage(LanguageEN) {
			t.Fatalf("expected timeout advice, got %#v", advice)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Fatalf("analyze blocked for %v", elapsed)
		}
	})

	t.Run("caller cancels", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		gen := GeneratorFunc(func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})
		advice := NewClient(gen, WithLogger(logger)).Analyze(ctx, nil)
		if advice.OK || advice.Text != FallbackMessage(LanguageZhTW) {
			t.Fatalf("expected fallback advice, got %#v", advice)
		}
	})
}

func TestClientAnalyzeRecordsObservabilityEvent(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tp, exporter := obstest.SetupTracer(t)

	gen := GeneratorFunc(func(context.Context, string) (string, error) { return "", errors.New("quota exceeded") })
	NewClient(gen, WithLogger(logger)).Analyze(context.Background(), storage.DefaultSeed().Tasks)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}
	entry := obstest.WaitForLogEntry(t, hook, time.Second)
	if entry.Message != observability.EventMessage || entry.Data["event.name"] != analyzeEventName {
		t.Fatalf("unexpected entry: %s %#v", entry.Message, entry.Data)
	}
	if entry.Data["severity_text"] != "ERROR" {
		t.Fatalf("unexpected severity: %v", entry.Data["severity_text"])
	}
	attrs, _ := entry.Data["attributes"].(map[string]any)
	if attrs["siteplan.advisor.outcome"] != outcomeFailed {
		t.Fatalf("unexpected outcome: %#v", attrs)
	}
	if attrs["siteplan.advisor.tasks"] != int64(5) {
		t.Fatalf("unexpected task count: %#v", attrs["siteplan.advisor.tasks"])
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != analyzeSpanName {
		t.Fatalf("unexpected spans: %#v", spans)
	}
	if spans[0].Status.Code != codes.Error {
		t.Fatalf("expected error status, got %v", spans[0].Status.Code)
	}
}

func TestClientUsesClock(t *testing.T) {
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	client := NewClient(GeneratorFunc(func(context.Context, string) (string, error) { return "ok", nil }))
	client.logger, _ = test.NewNullLogger()
	client.now = func() time.Time { return at }
	if got := client.Analyze(context.Background(), []domain.Task{}); !got.GeneratedAt.Equal(at) {
		t.Fatalf("unexpected timestamp %v", got.GeneratedAt)
	}
}
