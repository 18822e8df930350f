package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/heirwallet/installer/bitcoind"
	"github.com/heirwallet/installer/daemoncfg"
	"github.com/heirwallet/installer/datadir"
	"github.com/heirwallet/installer/descriptor"
	"github.com/heirwallet/installer/hw"
	"github.com/heirwallet/installer/installer"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements an io.Writer that outputs to the log rotator and,
// when enabled, to standard error.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	if logToStderr {
		_, _ = os.Stderr.Write(p)
	}
	if logRotatorPipe != nil {
		_, _ = logRotatorPipe.Write(p)
	}

	return len(p), nil
}

var (
	// backendLog is the logging backend used to create all subsystem
	// loggers.
	backendLog = btclog.NewBackend(logWriter{})

	// logToStderr mirrors log lines to standard error. It is set once at
	// startup, before anything logs.
	logToStderr bool

	// logRotator rotates the log file. It must be closed on exit.
	logRotator *rotator.Rotator

	// logRotatorPipe is the write end of the pipe feeding logRotator.
	logRotatorPipe *io.PipeWriter

	log     = backendLog.Logger("MAIN")
	instLog = backendLog.Logger("INST")
	descLog = backendLog.Logger("DESC")
	hwrgLog = backendLog.Logger("HWRG")
	btcdLog = backendLog.Logger("BTCD")
	dcfgLog = backendLog.Logger("DCFG")
	ddirLog = backendLog.Logger("DDIR")
)

// Initialize package-global logger variables.
func init() {
	installer.UseLogger(instLog)
	descriptor.UseLogger(descLog)
	hw.UseLogger(hwrgLog)
	bitcoind.UseLogger(btcdLog)
	daemoncfg.UseLogger(dcfgLog)
	datadir.UseLogger(ddirLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"MAIN": log,
	"INST": instLog,
	"DESC": descLog,
	"HWRG": hwrgLog,
	"BTCD": btcdLog,
	"DCFG": dcfgLog,
	"DDIR": ddirLog,
}

// initLogRotator initializes the logging rotator to write logs to logFile
// and create roll files in the same directory. It must be called before the
// package-global log rotator variables are used.
func initLogRotator(logFile string, maxFileSizeMB, maxFiles int) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	r, err := rotator.New(
		logFile, int64(maxFileSizeMB*1024), false, maxFiles,
	)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		if err := r.Run(pr); err != nil {
			_, _ = fmt.Fprintf(os.Stderr,
				"failed to run file rotator: %v\n", err)
		}
	}()

	logRotator = r
	logRotatorPipe = pw

	return nil
}

// closeLogRotator flushes and closes the log file.
func closeLogRotator() {
	if logRotatorPipe != nil {
		_ = logRotatorPipe.Close()
	}
	if logRotator != nil {
		_ = logRotator.Close()
	}
}

// setLogLevel sets the logging level for the provided subsystem. Invalid
// subsystems are ignored.
func setLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)

	return subsystems
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)
	return ok
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly. An appropriate error is returned if anything is
// invalid. The level is either a single level for every subsystem, or
// comma separated SUBSYS=level pairs, optionally preceded by a global level.
func parseAndSetDebugLevels(debugLevel string) error {
	levels := strings.Split(debugLevel, ",")

	// If the first entry has no =, treat it as the log level for all
	// subsystems.
	if global := levels[0]; !strings.Contains(global, "=") {
		if !validLogLevel(global) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", global)
		}

		setLogLevels(global)
		levels = levels[1:]
	}

	for _, pair := range levels {
		subsysID, logLevel, ok := strings.Cut(pair, "=")
		if !ok || strings.Contains(logLevel, "=") {
			return fmt.Errorf("the specified debug level has an "+
				"invalid format [%v] -- use format "+
				"subsystem1=level1,subsystem2=level2", pair)
		}

		if _, exists := subsystemLoggers[subsysID]; !exists {
			return fmt.Errorf("the specified subsystem [%v] is "+
				"invalid -- supported subsystems %v", subsysID,
				supportedSubsystems())
		}

		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}
