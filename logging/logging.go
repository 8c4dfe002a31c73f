// Package logging is the ambient structured-logging facade: a
// package-level default logger plus SetDefault/Default accessors
// (RWMutex-guarded, swappable at startup), backed by a
// github.com/joeycumines/logiface Logger writing through
// github.com/joeycumines/stumpy.
package logging

import (
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Event is the concrete log record type every Logger in this module
// shares, stumpy's own event representation.
type Event = stumpy.Event

// Categories name the runtime subsystem a log line originated from;
// every event emitted through For/Scoped carries one as its "category"
// field.
const (
	CategoryScheduler = "scheduler"
	CategoryChannel   = "channel"
	CategoryEventLoop = "eventloop"
	CategorySocket    = "socket"
	CategoryTimer     = "timer"
)

var global struct {
	sync.RWMutex
	logger *logiface.Logger[*Event]
}

func init() {
	global.logger = stumpy.L.New(stumpy.L.WithStumpy())
}

// SetDefault replaces the package-level default logger. Typically called
// once during process startup.
func SetDefault(l *logiface.Logger[*Event]) {
	global.Lock()
	defer global.Unlock()
	global.logger = l
}

// Default returns the current package-level logger.
func Default() *logiface.Logger[*Event] {
	global.RLock()
	defer global.RUnlock()
	return global.logger
}

// Scoped returns l as a sub-logger whose every event carries the given
// category. When l cannot write (disabled level, nil writer), Clone
// returns nil and l itself is returned unchanged — logging through it
// stays a no-op either way.
func Scoped(l *logiface.Logger[*Event], category string) *logiface.Logger[*Event] {
	if c := l.Clone(); c != nil {
		return c.Str("category", category).Logger()
	}
	return l
}

// For is Scoped applied to the package-level default logger.
func For(category string) *logiface.Logger[*Event] {
	return Scoped(Default(), category)
}
