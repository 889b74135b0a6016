package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/copydesk/internal/config"
	"github.com/pitabwire/copydesk/model"
)

// newTestLogger writes JSON lines into buf at debug level.
func newTestLogger(buf *bytes.Buffer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		LevelKey:    "level",
		MessageKey:  "msg",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	})
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel))
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestNewLogger_levels(t *testing.T) {
	tests := []struct {
		level  string
		format string
		lowest zapcore.Level
	}{
		{"debug", "json", zapcore.DebugLevel},
		{"info", "json", zapcore.InfoLevel},
		{"warn", "console", zapcore.WarnLevel},
		{"error", "", zapcore.ErrorLevel},
		{"verbose", "json", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			logger, err := NewLogger(config.ObservabilityConfig{LogLevel: tt.level, LogFormat: tt.format})
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			defer logger.Sync()

			if !logger.Core().Enabled(tt.lowest) {
				t.Errorf("%s should be enabled", tt.lowest)
			}
			if below := tt.lowest - 1; below >= zapcore.DebugLevel && logger.Core().Enabled(below) {
				t.Errorf("%s should be disabled", below)
			}
		})
	}
}

func TestLoggerFrom(t *testing.T) {
	stored, fallback := zap.NewNop(), zap.NewNop()

	if got := LoggerFrom(WithLogger(context.Background(), stored), fallback); got != stored {
		t.Error("LoggerFrom should return the context logger")
	}
	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Error("LoggerFrom should return the fallback without a context logger")
	}
}

func TestRequestLogger_fields(t *testing.T) {
	tests := []struct {
		name    string
		rctx    *model.RequestContext
		want    map[string]string
		missing []string
	}{
		{
			name: "editor with trace",
			rctx: &model.RequestContext{
				SubjectID:     "sub-7",
				Email:         "editor@acme.example.com",
				CorrelationID: "c0ffee",
				TraceID:       "4bf92f3577b34da6a3ce929d0e0e4736",
			},
			want: map[string]string{
				"subject_id":     "sub-7",
				"actor":          "editor@acme.example.com",
				"correlation_id": "c0ffee",
				"trace_id":       "4bf92f3577b34da6a3ce929d0e0e4736",
			},
		},
		{
			name: "tracing disabled",
			rctx: &model.RequestContext{
				SubjectID:     "sub-8",
				Email:         "writer@acme.example.com",
				CorrelationID: "beef",
			},
			want:    map[string]string{"actor": "writer@acme.example.com", "correlation_id": "beef"},
			missing: []string{"trace_id"},
		},
		{
			name:    "background job",
			missing: []string{"actor", "subject_id", "correlation_id", "trace_id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			ctx := context.Background()
			if tt.rctx != nil {
				ctx = model.WithRequestContext(ctx, tt.rctx)
			}

			RequestLogger(ctx, newTestLogger(&buf)).Info("workflow updated")

			entry := decodeLine(t, &buf)
			if entry["msg"] != "workflow updated" {
				t.Errorf("msg = %v", entry["msg"])
			}
			for k, want := range tt.want {
				if entry[k] != want {
					t.Errorf("%s = %v, want %q", k, entry[k], want)
				}
			}
			for _, k := range tt.missing {
				if _, ok := entry[k]; ok {
					t.Errorf("%s present, want absent", k)
				}
			}
		})
	}
}

func TestRequestLogger_keepsContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := newTestLogger(&buf).With(zap.String("workflow_id", "wf-9"))

	ctx := WithLogger(context.Background(), base)
	ctx = model.WithRequestContext(ctx, &model.RequestContext{
		SubjectID: "u-1",
		Email:     "editor@example.com",
	})

	RequestLogger(ctx, zap.NewNop()).Warn("unknown status")

	entry := decodeLine(t, &buf)
	if entry["workflow_id"] != "wf-9" {
		t.Errorf("workflow_id = %v, want wf-9", entry["workflow_id"])
	}
	if entry["actor"] != "editor@example.com" {
		t.Errorf("actor = %v, want editor@example.com", entry["actor"])
	}
	if entry["level"] != "warn" {
		t.Errorf("level = %v, want warn", entry["level"])
	}
}
