package app

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestPrettyHandler_RendersRequestLine(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	h := newPrettyHandler(&sb, &slog.HandlerOptions{Level: slog.LevelInfo}, true)
	log := slog.New(h)

	log.Info("http.request",
		"method", "GET",
		"path", "/messages/between",
		"status", 200,
		"status_class", "2xx",
		"duration_ms", int64(12),
	)

	line := stripANSI(sb.String())
	for _, want := range []string{
		"msg=http.request",
		"method=GET",
		"path=/messages/between",
		"status=200",
		"class=2xx",
		"duration=12ms",
		"lvl=[INFO]",
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}
}

func TestPrettyHandler_QuotesAndGroups(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	h := newPrettyHandler(&sb, nil, false)
	log := slog.New(h).WithGroup("db").With("schema", "courier")

	log.Warn("slow query", "sql", "SELECT 1", "elapsed", 1500*time.Millisecond)

	line := sb.String()
	if !strings.Contains(line, `db.sql="SELECT 1"`) {
		t.Fatalf("line %q missing quoted grouped attr", line)
	}
	if !strings.Contains(line, "db.schema=courier") {
		t.Fatalf("line %q missing inherited attr", line)
	}
	if !strings.Contains(line, "lvl=[WARN]") {
		t.Fatalf("line %q missing level tag", line)
	}
}

func TestPrettyHandler_EnabledHonorsLevel(t *testing.T) {
	t.Parallel()

	h := newPrettyHandler(&strings.Builder{}, &slog.HandlerOptions{Level: slog.LevelWarn}, false)
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("error should be enabled at warn level")
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "", want: `""`},
		{in: "plain", want: "plain"},
		{in: "two words", want: `"two words"`},
		{in: `has"quote`, want: `"has\"quote"`},
		{in: "k=v", want: `"k=v"`},
	}
	for _, tc := range cases {
		if got := quoteIfNeeded(tc.in); got != tc.want {
			t.Fatalf("quoteIfNeeded(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}
