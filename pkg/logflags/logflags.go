// Package logflags holds the per-layer loggers of the debugger. Every layer
// is silent unless logging was turned on with --log and the layer was
// selected with --log-output.
package logflags

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	target  = false
	symbol  = false
	session = false

	out io.Writer = os.Stderr
)

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Out = out
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Target returns true if the target package should log ptrace requests.
func Target() bool {
	return target
}

// TargetLogger returns a logger for the target package.
func TargetLogger() *logrus.Entry {
	return makeLogger(target, logrus.Fields{"layer": "target"})
}

// Symbol returns true if the symbol package should log.
func Symbol() bool {
	return symbol
}

// SymbolLogger returns a logger for the symbol package.
func SymbolLogger() *logrus.Entry {
	return makeLogger(symbol, logrus.Fields{"layer": "symbol"})
}

// Session returns true if the debug session should log dispatched commands.
func Session() bool {
	return session
}

// SessionLogger returns a logger for the debug session.
func SessionLogger() *logrus.Entry {
	return makeLogger(session, logrus.Fields{"layer": "session"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the layer flags based on the contents of logstr.
func Setup(logFlag bool, logstr string) error {
	target, symbol, session = false, false, false
	if !logFlag {
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "target,symbol,session"
	}
	for _, layer := range strings.Split(logstr, ",") {
		switch strings.TrimSpace(layer) {
		case "target":
			target = true
		case "symbol":
			symbol = true
		case "session":
			session = true
		default:
			return errors.New("unknown log layer: " + layer)
		}
	}
	return nil
}

// SetOutput redirects every logger created afterwards.
func SetOutput(w io.Writer) {
	out = w
}
