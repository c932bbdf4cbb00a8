// Package bootlog provides the severity-tagged logger used throughout
// hagfish: a package-level DefaultLogger plus free functions that
// delegate to it, with the debug levels the Hagfish C loader wrote to
// the firmware console -- INFO, LOADFILE and NET -- alongside the
// usual WARN/ERROR/FATAL.
//
// A production UEFI build replaces DefaultLogger with one backed by the
// firmware's Simple Text Output protocol; hfsim uses the default
// stderr logger unchanged.
package bootlog

import (
	"log"
	"os"
)

// Logger is the severity-tagged sink every hagfish package logs through.
type Logger interface {
	Infof(format string, args ...interface{})
	LoadFilef(format string, args ...interface{})
	Netf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// DefaultLogger is the logger used by default everywhere within hagfish.
var DefaultLogger Logger

func init() {
	DefaultLogger = logWrapper{Logger: log.New(os.Stderr, "", log.LstdFlags)}
}

type logWrapper struct {
	Logger *log.Logger
}

func (l logWrapper) Infof(format string, args ...interface{}) {
	l.Logger.Printf("[hagfish][INFO] "+format, args...)
}

func (l logWrapper) LoadFilef(format string, args ...interface{}) {
	l.Logger.Printf("[hagfish][LOADFILE] "+format, args...)
}

func (l logWrapper) Netf(format string, args ...interface{}) {
	l.Logger.Printf("[hagfish][NET] "+format, args...)
}

func (l logWrapper) Warnf(format string, args ...interface{}) {
	l.Logger.Printf("[hagfish][WARN] "+format, args...)
}

func (l logWrapper) Errorf(format string, args ...interface{}) {
	l.Logger.Printf("[hagfish][ERROR] "+format, args...)
}

func (l logWrapper) Fatalf(format string, args ...interface{}) {
	l.Logger.Fatalf("[hagfish][FATAL] "+format, args...)
}

// Infof logs an informational message.
func Infof(format string, args ...interface{}) { DefaultLogger.Infof(format, args...) }

// LoadFilef logs a component-load progress message.
func LoadFilef(format string, args ...interface{}) { DefaultLogger.LoadFilef(format, args...) }

// Netf logs a network-transport diagnostic.
func Netf(format string, args ...interface{}) { DefaultLogger.Netf(format, args...) }

// Warnf logs a warning message.
func Warnf(format string, args ...interface{}) { DefaultLogger.Warnf(format, args...) }

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) { DefaultLogger.Errorf(format, args...) }

// Fatalf logs a fatal message and exits. Never called past boot-services
// exit: once ExitBootServices succeeds there is no console left to print to.
func Fatalf(format string, args ...interface{}) { DefaultLogger.Fatalf(format, args...) }
