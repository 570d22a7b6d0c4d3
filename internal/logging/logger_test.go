package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSetupSilentByDefault(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")
	defer SetLogger(nil)

	if err := Setup(Options{}); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if GetLogger().Core().Enabled(zapcore.ErrorLevel) {
		t.Error("logger should be silent without a level")
	}
}

func TestSetupFromEnv(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "debug")
	defer SetLogger(nil)

	if err := InitializeFromEnv(); err != nil {
		t.Fatalf("InitializeFromEnv() error = %v", err)
	}
	if !DebugEnabled() {
		t.Error("debug should be enabled from the environment")
	}
}

func TestSetupFile(t *testing.T) {
	defer SetLogger(nil)
	path := filepath.Join(t.TempDir(), "logs", "spilink.log")

	if err := Setup(Options{Level: "info", Format: "json", File: path}); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	Info("hello from test")
	Debug("filtered out")
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	out := string(data)
	for _, want := range []string{`"msg":"hello from test"`, `"level":"INFO"`, `"ts":"`, `"caller":"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log file missing %s: %s", want, out)
		}
	}
	if strings.Contains(out, "filtered out") {
		t.Errorf("log file contains debug entry: %s", out)
	}
}

func TestSetupRejectsUnknownFormat(t *testing.T) {
	defer SetLogger(nil)
	if err := Setup(Options{Level: "info", Format: "xml"}); err == nil {
		t.Error("Setup() should reject an unknown format")
	}
}

func TestHexDump(t *testing.T) {
	if got := HexDump([]byte{0x01, 0xC0}); got != "01c0" {
		t.Errorf("HexDump() = %q, want 01c0", got)
	}

	long := make([]byte, 300)
	if got := HexDump(long); !strings.HasSuffix(got, "...") || len(got) != 512+3 {
		t.Errorf("HexDump(300 bytes) length = %d, want truncated", len(got))
	}

	if got := asciiDump([]byte("ok\x00")); got != "ok." {
		t.Errorf("asciiDump() = %q, want %q", got, "ok.")
	}
}
