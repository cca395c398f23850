package logflags

import (
	"errors"
	"io"
	"io/ioutil"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var patch = false
var stack = false
var seh = false
var target = false
var bridge = false

var output io.Writer = os.Stderr

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Out = output
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Patch returns true if the patch store should log.
func Patch() bool {
	return patch
}

// PatchLogger returns a logger for the patch store.
func PatchLogger() *logrus.Entry {
	return makeLogger(patch, logrus.Fields{"layer": "patch"})
}

// Stack returns true if the call stack walker should log.
func Stack() bool {
	return stack
}

// StackLogger returns a logger for the call stack walker.
func StackLogger() *logrus.Entry {
	return makeLogger(stack, logrus.Fields{"layer": "stack"})
}

// SEH returns true if the exception handler chain walker should log.
func SEH() bool {
	return seh
}

func SEHLogger() *logrus.Entry {
	return makeLogger(seh, logrus.Fields{"layer": "seh"})
}

// Target returns true if the ptrace backend should log.
func Target() bool {
	return target
}

func TargetLogger() *logrus.Entry {
	return makeLogger(target, logrus.Fields{"layer": "target"})
}

// Bridge returns true if calls through the capability table should be logged.
func Bridge() bool {
	return bridge
}

func BridgeLogger() *logrus.Entry {
	return makeLogger(bridge, logrus.Fields{"layer": "bridge"})
}

var errLogstrWithoutLog = errors.New("--log_output specified without --log")

// Setup sets debugger flags based on the contents of logstr.
func Setup(logFlag bool, logstr string) error {
	if !logFlag {
		output = ioutil.Discard
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	output = os.Stderr
	if logstr == "" {
		logstr = "patch"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch strings.TrimSpace(logcmd) {
		case "patch":
			patch = true
		case "stack":
			stack = true
		case "seh":
			seh = true
		case "target":
			target = true
		case "bridge":
			bridge = true
		case "all":
			patch, stack, seh, target, bridge = true, true, true, true, true
		}
	}
	return nil
}

// Reset disables all layers.
func Reset() {
	patch, stack, seh, target, bridge = false, false, false, false, false
	output = os.Stderr
}
