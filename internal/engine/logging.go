package engine

import (
	"log"
	"sync/atomic"
)

// debugLogging gates SimulationWarn-class messages (clamp saturation,
// substep subdivision) behind --debug, mirroring the teacher's
// internal/api/logging.go atomic gate.
var debugLogging atomic.Bool

// SetDebugLogging enables verbose debug logs for the simulation core.
func SetDebugLogging(enabled bool) {
	debugLogging.Store(enabled)
}

func logDebugf(format string, args ...any) {
	if debugLogging.Load() {
		log.Printf(format, args...)
	}
}

func logWarnf(format string, args ...any) {
	log.Printf("[warn] "+format, args...)
}
