package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestLogger_StructuredProperties(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewLogger(buf, InfoLevel)

	log.Info("Downloading {Package} from {Url}", "psr/log", "https://repo.packagist.org")

	output := buf.String()
	if !strings.Contains(output, "psr/log") {
		t.Errorf("Output missing Package: %s", output)
	}
	if !strings.Contains(output, "https://repo.packagist.org") {
		t.Errorf("Output missing Url: %s", output)
	}
}

func TestLogger_ContextAware(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewLogger(buf, InfoLevel).ForContext("SessionId", "abc")

	log.InfoContext(context.Background(), "Context-aware message")

	if !strings.Contains(buf.String(), "Context-aware message") {
		t.Errorf("Output missing message: %s", buf.String())
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		name          string
		level         LogLevel
		logFunc       func(Logger)
		shouldContain bool
	}{
		{"Info allows Info", InfoLevel, func(l Logger) { l.Info("marker") }, true},
		{"Info blocks Debug", InfoLevel, func(l Logger) { l.Debug("marker") }, false},
		{"Warn blocks Info", WarnLevel, func(l Logger) { l.Info("marker") }, false},
		{"Warn allows Error", WarnLevel, func(l Logger) { l.Error("marker") }, true},
		{"Verbose allows Verbose", VerboseLevel, func(l Logger) { l.Verbose("marker") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.logFunc(NewLogger(buf, tt.level))
			if got := strings.Contains(buf.String(), "marker"); got != tt.shouldContain {
				t.Errorf("contains = %v, want %v (output %q)", got, tt.shouldContain, buf.String())
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"quiet":   ErrorLevel,
		"warning": WarnLevel,
		"":        InfoLevel,
		"normal":  InfoLevel,
		"debug":   DebugLevel,
		"-vvv":    VerboseLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNullLogger(t *testing.T) {
	log := NewNullLogger()
	log.Info("discarded {X}", 1)
	log.ForContext("k", "v").ErrorContext(context.Background(), "discarded")
}

func TestRecordingLogger(t *testing.T) {
	rec := NewRecordingLogger()
	child := rec.ForContext("SessionId", "1")

	rec.Info("Restricting packages listed in [{Package}] to [{Constraint}]", "cakephp/cakephp", ">=3.5")
	child.Warn("Job {Url} failed", "https://example.org/p.json")
	rec.DebugContext(context.Background(), "no args")

	entries := rec.Entries()
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}

	infos := rec.Messages(InfoLevel)
	if len(infos) != 1 || infos[0] != "Restricting packages listed in [cakephp/cakephp] to [>=3.5]" {
		t.Errorf("info messages = %q", infos)
	}
	if warns := rec.Messages(WarnLevel); len(warns) != 1 || warns[0] != "Job https://example.org/p.json failed" {
		t.Errorf("warn messages = %q", warns)
	}
}

func TestRenderTemplate(t *testing.T) {
	if got := RenderTemplate("{A} and {B}", 1); got != "1 and {B}" {
		t.Errorf("RenderTemplate = %q", got)
	}
	if got := RenderTemplate("plain"); got != "plain" {
		t.Errorf("RenderTemplate = %q", got)
	}
}
