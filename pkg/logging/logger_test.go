package logging

import (
	"os"
	"strings"
	"sync"
	"testing"
)

// setupTestDir points the package at a temporary log directory and resets
// the package-level state, returning a cleanup function.
func setupTestDir(t *testing.T) (cleanup func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "driplet-logging-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	origLogDir := logDir
	origInitErr := initErr
	origInitOnce := initOnce
	origRunID := runID
	origRunIDOnce := runIDOnce

	logDir = tempDir
	initErr = nil
	initOnce = new(sync.Once)
	runID = ""
	runIDOnce = new(sync.Once)

	// The test dir already exists; make initLogDirectory a no-op that keeps it.
	initOnce.Do(func() {})

	return func() {
		logDir = origLogDir
		initErr = origInitErr
		initOnce = origInitOnce
		runID = origRunID
		runIDOnce = origRunIDOnce

		os.RemoveAll(tempDir)
	}
}

func TestNewLogger(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	logger, err := NewLogger("test-component")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	if logger.component != "test-component" {
		t.Errorf("Expected component test-component, got %s", logger.component)
	}

	if logger.RunID() == "" {
		t.Error("Run ID should not be empty")
	}

	if !strings.HasSuffix(logger.LogPath(), "-driplet.log") {
		t.Errorf("Unexpected log path: %s", logger.LogPath())
	}
}

func TestLoggerLevels(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	logger, err := NewLogger("levels")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	logger.Debugf("debug %d", 1)
	logger.Infof("info %d", 2)
	logger.Warnf("warn %d", 3)
	logger.Errorf("error %d", 4)
	logger.Close()

	data, err := os.ReadFile(logger.LogPath())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	content := string(data)
	for _, want := range []string{
		"[DEBUG] debug 1",
		"[INFO] info 2",
		"[WARN] warn 3",
		"[ERROR] error 4",
		"[levels]",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("Log file missing %q:\n%s", want, content)
		}
	}
}

func TestComponentsShareRunFile(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	a, err := NewLogger("alpha")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer a.Close()

	b, err := NewLogger("beta")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer b.Close()

	if a.LogPath() != b.LogPath() {
		t.Errorf("Components should share one run file: %s vs %s", a.LogPath(), b.LogPath())
	}
	if a.RunID() != b.RunID() {
		t.Errorf("Components should share one run ID: %s vs %s", a.RunID(), b.RunID())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	logger, err := NewLogger("closer")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	if err := logger.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got: %v", err)
	}
}

func TestFallbackLogger(t *testing.T) {
	logger := newFallbackLogger("fallback", os.ErrPermission)

	if logger.LogPath() != "" {
		t.Errorf("Fallback logger should have no log path, got %s", logger.LogPath())
	}

	// Must not panic writing to stderr.
	logger.Infof("still alive")

	if logger.Writer() != os.Stderr {
		t.Error("Fallback writer should be stderr")
	}
}
