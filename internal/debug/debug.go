package debug

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (initialization result, scan range)
	LevelLive    = 2 // Live info (wavelength changes, scan steps)
	LevelVerbose = 3 // Verbose (pulse arithmetic, settle waits)
	LevelTrace   = 4 // Trace (controller commands, GPIO)
)

var (
	level  int
	logger *logrus.Logger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (initialization, scan summary)
// 2 = live info (wavelength changes, scan steps)
// 3 = verbose (pulse deltas, settle waits)
// 4 = trace (controller wire commands, GPIO)
func Init(debugLevel int) {
	level = debugLevel
	logger = nil
	if level > LevelOff {
		logger = logrus.New()
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.TraceLevel)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000000",
		})
	}
}

// SetOutput redirects debug output. It is a no-op while debug is off.
func SetOutput(w io.Writer) {
	if logger != nil {
		logger.SetOutput(w)
	}
}

// Level returns the current debug level.
func Level() int {
	return level
}

func entry(stage string) *logrus.Entry {
	return logger.WithField("stage", stage)
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if level >= LevelInfo && logger != nil {
		entry("info").Infof(format, args...)
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if level >= LevelInfo && logger != nil {
		entry("info").Info("═══ " + title + " ═══")
	}
}

// Value prints a named value (level 1).
func Value(name string, value interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.WithFields(logrus.Fields{"stage": "info", "name": name}).Infof("%v", value)
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if level >= LevelLive && logger != nil {
		entry("live").Infof(format, args...)
	}
}

// Wavelength prints a wavelength change (level 2).
func Wavelength(nm float64, filter int) {
	if level >= LevelLive && logger != nil {
		logger.WithFields(logrus.Fields{
			"stage":  "live",
			"nm":     nm,
			"filter": filter,
		}).Info("wavelength changed")
	}
}

// Move prints a relative move on both axes (level 2).
func Move(gratingPulses, filterPulses int) {
	if level >= LevelLive && logger != nil {
		logger.WithFields(logrus.Fields{
			"stage":   "live",
			"grating": gratingPulses,
			"filter":  filterPulses,
		}).Info("relative move")
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if level >= LevelVerbose && logger != nil {
		entry("verbose").Debugf(format, args...)
	}
}

// Printf is an alias for Verbose.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if level >= LevelVerbose && logger != nil {
		entry("verbose").Debugf("%s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if level >= LevelVerbose && logger != nil {
		entry("verbose").Debug("━━━ " + name + " ━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if level >= LevelVerbose && logger != nil {
		logger.WithFields(logrus.Fields{"stage": "verbose", "step": num}).Debug(description)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message.
func Trace(format string, args ...interface{}) {
	if level >= LevelTrace && logger != nil {
		entry("trace").Tracef(format, args...)
	}
}

// Wire prints a raw controller exchange (level 4).
func Wire(direction, line string) {
	if level >= LevelTrace && logger != nil {
		logger.WithFields(logrus.Fields{"stage": "trace", "dir": direction}).Tracef("%q", line)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.WithFields(logrus.Fields{
			"stage": "trace",
			"pin":   pin,
			"value": value,
		}).Trace(operation)
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if level >= LevelInfo && logger != nil {
		entry("info").Error(err)
	}
}
