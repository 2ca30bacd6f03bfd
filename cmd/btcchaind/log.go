// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2021 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/blockrelay/btcchain/internal/blockchain"
	"github.com/blockrelay/btcchain/internal/mining"
	"github.com/blockrelay/btcchain/internal/mining/cpuminer"
	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements io.Writer and writes marshalled log output to both
// standard output and a rotating log file.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	logRotator.Write(p)
	return len(p), nil
}

// logRotator is one of the logging outputs. It should be closed on
// application shutdown.
var logRotator *rotator.Rotator

// initLogRotator initializes the logging rotator to write logs to logFile
// and create roll files in the same directory. It must be called before
// the package-level loggers below produce any output.
func initLogRotator(logFile string) {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create log directory:", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create file rotator:", err)
		os.Exit(1)
	}

	logRotator = r
}

var backendLog = slog.NewBackend(logWriter{})

// log is the subsystem logger for the btcchaind binary itself -- startup,
// shutdown, and signal handling.
var log = backendLog.Logger("BCHD")

// bchnLog and minrLog are handed to the blockchain and mining packages via
// their UseLogger setters.
var bchnLog = backendLog.Logger("BCHN")
var minrLog = backendLog.Logger("MINR")
var cpunLog = backendLog.Logger("CPUN")

// subsystemLoggers maps each subsystem tag to its logger so setLogLevel(s)
// can operate generically over all of them.
var subsystemLoggers = map[string]slog.Logger{
	"BCHD": log,
	"BCHN": bchnLog,
	"MINR": minrLog,
	"CPUN": cpunLog,
}

func init() {
	blockchain.UseLogger(bchnLog)
	mining.UseLogger(minrLog)
	cpuminer.UseLogger(cpunLog)
}

// setLogLevel sets the logging level for the provided subsystem. Invalid
// subsystems are ignored.
func setLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	level, _ := slog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for every known subsystem.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}
