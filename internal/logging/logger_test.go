package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"", LogLevelInfo, false},
		{"silent", LogLevelSilent, false},
		{"quiet", LogLevelSilent, false},
		{"ERROR", LogLevelError, false},
		{" verbose ", LogLevelVerbose, false},
		{"debug", LogLevelDebug, false},
		{"trace", LogLevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewLoggerWithOptionsRejectsFormat(t *testing.T) {
	if _, err := NewLoggerWithOptions(LogLevelInfo, "", "xml", 1); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := NewLogger(LogLevelInfo, filepath.Join(t.TempDir(), "missing", "eipscan.log")); err == nil {
		t.Error("expected error for a log file in a missing directory")
	}
}

func TestFileReceivesEnabledLevels(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  []string
		skip  []string
	}{
		{LogLevelSilent, nil, []string{"ERROR", "INFO"}},
		{LogLevelError, []string{"ERROR: session lost"}, []string{"INFO", "VERBOSE", "DEBUG"}},
		{LogLevelInfo, []string{"ERROR: session lost", "INFO: connection open"}, []string{"VERBOSE", "DEBUG"}},
		{LogLevelDebug, []string{"ERROR", "INFO", "VERBOSE: rpi 10ms", "DEBUG: seq 7"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "eipscan.log")
			l, err := NewLogger(tt.level, path)
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			l.SetOutput(&bytes.Buffer{}, &bytes.Buffer{})
			l.Error("session lost")
			l.Info("connection open")
			l.Verbose("rpi 10ms")
			l.Debug("seq 7")
			if err := l.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			for _, w := range tt.want {
				if !strings.Contains(string(data), w) {
					t.Errorf("log missing %q:\n%s", w, data)
				}
			}
			for _, s := range tt.skip {
				if strings.Contains(string(data), s) {
					t.Errorf("log should not contain %q:\n%s", s, data)
				}
			}
		})
	}
}

func TestConsoleRouting(t *testing.T) {
	l, err := NewLoggerWithOptions(LogLevelInfo, "", "text", 1)
	if err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	l.SetOutput(&stdout, &stderr)

	l.Info("quiet at info")
	l.Error("forward open refused")
	if stdout.Len() != 0 {
		t.Errorf("info should stay off the console below verbose, got %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "ERROR: forward open refused") {
		t.Errorf("stderr = %q", stderr.String())
	}

	l.SetLevel(LogLevelVerbose)
	l.Info("now visible")
	if !strings.Contains(stdout.String(), "INFO: now visible") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestConsoleSampling(t *testing.T) {
	l, err := NewLoggerWithOptions(LogLevelVerbose, "", "text", 3)
	if err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	l.SetOutput(&stdout, &stderr)

	for i := 0; i < 6; i++ {
		l.Verbose("datagram")
	}
	if got := strings.Count(stdout.String(), "datagram"); got != 2 {
		t.Errorf("sampled lines = %d, want 2", got)
	}
	l.Error("always shown")
	if !strings.Contains(stderr.String(), "always shown") {
		t.Error("errors must not be sampled")
	}
}

func TestJSONFormat(t *testing.T) {
	l, err := NewLoggerWithOptions(LogLevelDebug, "", "json", 1)
	if err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	l.SetOutput(&stdout, &stderr)

	l.Debug("O->T %d bytes", 8)
	l.Error("timeout")

	var rec jsonRecord
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &rec); err != nil {
		t.Fatalf("stdout is not JSON: %v (%q)", err, stdout.String())
	}
	if rec.Level != "debug" || rec.Message != "O->T 8 bytes" || rec.Time == "" {
		t.Errorf("record = %+v", rec)
	}
	if err := json.Unmarshal(bytes.TrimSpace(stderr.Bytes()), &rec); err != nil {
		t.Fatalf("stderr is not JSON: %v", err)
	}
	if rec.Level != "error" {
		t.Errorf("error record level = %q", rec.Level)
	}
}

func TestLogOperationAndHex(t *testing.T) {
	l, err := NewLoggerWithOptions(LogLevelDebug, "", "text", 1)
	if err != nil {
		t.Fatal(err)
	}
	var stdout bytes.Buffer
	l.SetOutput(&stdout, &bytes.Buffer{})

	l.LogOperation("GET_ATTRIBUTE", "10.0.0.5:44818", "Get_Attribute_Single", false, 1.5, 0x14, errors.New("attribute not supported"))
	l.LogHex("reply", []byte{0x6F, 0x00, 0x0A})

	out := stdout.String()
	for _, want := range []string{"FAILED GET_ATTRIBUTE on 10.0.0.5:44818", "status: 0x14", "attribute not supported", "reply: 6f 00 0a"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestNopAndNil(t *testing.T) {
	l := Nop()
	l.Error("dropped")
	l.LogHex("x", []byte{1})
	if err := l.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	var nilLogger *Logger
	if nilLogger.enabled(LogLevelError) {
		t.Error("nil logger should be disabled")
	}
}
