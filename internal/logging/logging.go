// Package logging builds the zap loggers shared across galaxydl's
// components, one named logger per component matching the Python
// implementation's logging.getLogger(name) call sites.
package logging

import (
	"go.uber.org/zap"
)

// Build constructs a development-friendly console logger. Verbose enables
// debug-level output.
func Build(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "" // the teacher's own logging is timestamp-free stdlib `log` output
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

// Named returns a sugared logger tagged with the given component name, e.g.
// "TASK_EXEC", "ORCHESTRATOR", "MANIFEST".
func Named(base *zap.Logger, name string) *zap.SugaredLogger {
	return base.Named(name).Sugar()
}
