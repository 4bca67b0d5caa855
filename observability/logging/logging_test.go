package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestHandlerRenamesAndMasks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))
	logger.Info("swap executed", slog.String("secret", "0xdeadbeef"), slog.String("orderHash", "0x01"))
	logger.Debug("hidden")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["message"] != "swap executed" || line["severity"] != "INFO" {
		t.Fatalf("unexpected keys: %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("missing timestamp: %v", line)
	}
	if line["secret"] != RedactedValue {
		t.Fatalf("secret not masked: %v", line["secret"])
	}
	if line["orderHash"] != "0x01" {
		t.Fatalf("order hash altered: %v", line["orderHash"])
	}
}

func TestMaskField(t *testing.T) {
	if attr := MaskField("orderHash", "0x01"); attr.Value.String() != "0x01" {
		t.Fatalf("allowlisted key masked")
	}
	if attr := MaskField("maker", "fus1abc"); attr.Value.String() != RedactedValue {
		t.Fatalf("non-allowlisted key not masked")
	}
	if attr := MaskField("maker", " "); attr.Value.String() != " " {
		t.Fatalf("empty value should pass through")
	}
}

func TestSetupWithFileWritesRotatedLog(t *testing.T) {
	previous := slog.Default()
	defer slog.SetDefault(previous)

	path := filepath.Join(t.TempDir(), "fusiond.log")
	logger, closer := SetupWithFile("fusiond", "test", slog.LevelDebug, FileConfig{Path: path, MaxSizeMB: 1})
	logger.Debug("file sink ready")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(data, []byte("file sink ready")) || !bytes.Contains(data, []byte(`"service":"fusiond"`)) {
		t.Fatalf("unexpected log file contents: %s", data)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %v", raw, got)
		}
	}
}
