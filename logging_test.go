package main

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.log")
	logger, err := newLogger("test", true, path)
	test.That(t, err, test.ShouldBeNil)

	logger.Debugw("frame processed", "seq", 7)
	logger.Sync()

	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldContainSubstring, `"msg":"frame processed"`)
	test.That(t, string(data), test.ShouldContainSubstring, `"seq":7`)
	test.That(t, string(data), test.ShouldContainSubstring, `"level":"DEBUG"`)
}

func TestNewLoggerLevel(t *testing.T) {
	logger, err := newLogger("test", false, "")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logger.Desugar().Core().Enabled(-1), test.ShouldBeFalse)
}
