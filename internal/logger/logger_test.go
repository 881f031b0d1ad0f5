package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name           string
		config         Config
		expectedOutput string
		checkFunc      func(t *testing.T, output string)
	}{
		{
			name: "Text Logger Info Level",
			config: Config{
				Level:  "info",
				Format: "text",
				Output: "stdout",
			},
			checkFunc: func(t *testing.T, output string) {
				if !bytes.Contains([]byte(output), []byte("level=INFO")) ||
					!bytes.Contains([]byte(output), []byte("msg=\"test message\"")) {
					t.Errorf("Expected text log output with info level and message, got: %s", output)
				}
			},
		},
		{
			name: "JSON Logger Debug Level",
			config: Config{
				Level:  "debug",
				Format: "json",
				Output: "stdout",
			},
			checkFunc: func(t *testing.T, output string) {
				var logEntry map[string]interface{}
				err := json.Unmarshal([]byte(output), &logEntry)
				if err != nil {
					t.Fatalf("Failed to unmarshal JSON log: %v, output: %s", err, output)
				}
				if logEntry["level"] != "DEBUG" || logEntry["msg"] != "test message" {
					t.Errorf("Expected JSON log output with debug level and message, got: %v", logEntry)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.config, &buf)
			slog.SetDefault(logger)

			if tt.config.Level == "debug" {
				slog.Debug("test message")
			} else {
				slog.Info("test message")
			}

			tt.checkFunc(t, buf.String())
		})
	}
}

func TestNewLogger_ContextIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "info", Format: "json"}, &buf)

	ctx := WithJobID(WithCorrelationID(context.Background(), "corr-1"), "job-42")
	logger.InfoContext(ctx, "job started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal JSON log: %v, output: %s", err, buf.String())
	}
	if entry["correlation_id"] != "corr-1" || entry["job_id"] != "job-42" {
		t.Errorf("Expected correlation_id and job_id on record, got: %v", entry)
	}
	if CorrelationID(ctx) != "corr-1" {
		t.Errorf("CorrelationID() = %q, want corr-1", CorrelationID(ctx))
	}
}

func TestNewLogger_WithAttrsKeepsContextIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "info", Format: "text"}, &buf).With("component", "scheduler")

	logger.InfoContext(WithJobID(context.Background(), "job-7"), "queued")

	out := buf.String()
	if !bytes.Contains([]byte(out), []byte("component=scheduler")) || !bytes.Contains([]byte(out), []byte("job_id=job-7")) {
		t.Errorf("Expected component and job_id in output, got: %s", out)
	}
}
