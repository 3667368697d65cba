// Package corelog is the runtime's structured logging surface: engine
// creation, link failures, instantiation failures, every trap, and engine
// teardown all flow through here. Grounded on grafana-k6's use of
// logrus for exactly this kind of lifecycle/operational event logging,
// adopted since the teacher itself stays silent by design (it's an
// embedded library, not a standalone process) but an embedder wiring many
// modules together needs visibility into the same events k6 logs for its
// VU lifecycle.
package corelog

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu     sync.RWMutex
	logger = logrus.New()
)

func init() {
	logger.SetLevel(logrus.WarnLevel)
}

// SetLevel adjusts the minimum severity logged. The default is "warn",
// which shows traps and link/instantiation failures; "info" also shows
// engine creation and teardown.
func SetLevel(level string) error {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	logger.SetLevel(l)
	return nil
}

// SetOutput redirects log output; tests redirect to a buffer to assert on
// emitted events without writing to stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

func entry() *logrus.Entry {
	mu.RLock()
	defer mu.RUnlock()
	return logrus.NewEntry(logger)
}

// EngineCreated logs the selection of a compiler tier for a new Engine.
func EngineCreated(tier string, target string) {
	entry().WithFields(logrus.Fields{"tier": tier, "target": target}).Info("engine created")
}

// LinkFailed logs an Artifact failing to link against a set of imports.
func LinkFailed(moduleName string, err error) {
	entry().WithFields(logrus.Fields{"module": moduleName, "error": err}).Error("module link failed")
}

// InstantiationFailed logs a failed Instance construction.
func InstantiationFailed(moduleName string, err error) {
	entry().WithFields(logrus.Fields{"module": moduleName, "error": err}).Error("instantiation failed")
}

// Trapped logs a guest trap, including its backtrace depth so operators
// can spot deeply nested recursive traps without printing the full trace.
func Trapped(moduleName string, functionName string, code string, frames int) {
	entry().WithFields(logrus.Fields{
		"module": moduleName, "function": functionName, "code": code, "frames": frames,
	}).Warn("trap")
}

// EngineClosed logs an Engine's teardown.
func EngineClosed(tier string) {
	entry().WithField("tier", tier).Info("engine closed")
}
