package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordLogger struct {
	lines []string
}

func (r *recordLogger) log(level, format string, args ...any) {
	r.lines = append(r.lines, level+" "+fmt.Sprintf(format, args...))
}

func (r *recordLogger) Debug(format string, args ...any) { r.log("DEBUG", format, args...) }
func (r *recordLogger) Info(format string, args ...any)  { r.log("INFO", format, args...) }
func (r *recordLogger) Warn(format string, args ...any)  { r.log("WARN", format, args...) }
func (r *recordLogger) Error(format string, args ...any) { r.log("ERROR", format, args...) }

func TestOrNopHandlesTypedNilPointers(t *testing.T) {
	var typed *FileLogger
	var logger Logger = typed
	if !IsNil(logger) {
		t.Fatalf("expected typed nil pointer to be detected")
	}
	safe := OrNop(logger)
	if IsNil(safe) {
		t.Fatalf("expected OrNop to return a usable logger")
	}
	safe.Info("hello %s", "world") // should not panic
}

func TestMultiFansOutAndFlattens(t *testing.T) {
	a := &recordLogger{}
	b := &recordLogger{}
	c := &recordLogger{}

	logger := Multi(nil, a, Multi(b, c))
	logger.Info("n=%d", 7)

	for name, r := range map[string]*recordLogger{"a": a, "b": b, "c": c} {
		if len(r.lines) != 1 || r.lines[0] != "INFO n=7" {
			t.Fatalf("logger %s got %v", name, r.lines)
		}
	}

	if _, ok := Multi().(nopLogger); !ok {
		t.Fatalf("expected empty Multi to collapse to the nop logger")
	}
	if got := Multi(a); got != Logger(a) {
		t.Fatalf("expected single-logger Multi to return the logger itself")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"DEBUG":   LevelDebug,
		"info":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFileLoggerFormatAndLevelFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	l := newFileLogger(path, LevelWarn)
	l.component = "Test"
	defer l.Close()

	l.Info("below the floor")
	l.Warn("count=%d", 3)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)

	if strings.Contains(out, "below the floor") {
		t.Fatalf("info line written despite warn level: %q", out)
	}
	if !strings.Contains(out, "[WARN] [Test]") {
		t.Fatalf("missing level/component tags: %q", out)
	}
	if !strings.Contains(out, "logger_test.go:") {
		t.Fatalf("missing caller attribution: %q", out)
	}
	if !strings.Contains(out, "count=3") {
		t.Fatalf("missing formatted message: %q", out)
	}
}

func TestSanitizeLogLineRedactsSecrets(t *testing.T) {
	cases := []struct {
		in   string
		leak string
	}{
		{`Authorization: Bearer sk-abc123`, "sk-abc123"},
		{`auth_token=deadbeef uploading`, "deadbeef"},
		{`"api_key": "xyzzy"`, "xyzzy"},
		{`retrying with Bearer tok.en+value=`, "tok.en+value="},
	}
	for _, tc := range cases {
		got := sanitizeLogLine(tc.in)
		if strings.Contains(got, tc.leak) {
			t.Fatalf("secret survived redaction: %q -> %q", tc.in, got)
		}
		if !strings.Contains(got, redactedPlaceholder) {
			t.Fatalf("no redaction marker in %q", got)
		}
	}
}
