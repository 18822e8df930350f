// Copyright (c) 2025 The heirwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command heirwallet-installer walks the user through creating an
// inheritance wallet: it builds the descriptor, registers it on signing
// devices, checks the bitcoind connection and writes the daemon
// configuration. On success the configuration path is printed and the
// command exits with status 0.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/heirwallet/installer/bitcoind"
	"github.com/heirwallet/installer/daemoncfg"
	"github.com/heirwallet/installer/hw"
	"github.com/heirwallet/installer/installer"
	"github.com/jessevdk/go-flags"
	"golang.org/x/term"
)

var (
	_ installer.DeviceRegistry  = (*hw.Registry)(nil)
	_ installer.BitcoindChecker = (*bitcoind.Validator)(nil)
	_ installer.ConfigWriter    = (*daemoncfg.Emitter)(nil)
	_ wizard                    = (*installer.Installer)(nil)
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig(os.Args[1:])
	switch {
	case errors.Is(err, errShowSubsystems):
		fmt.Println("Supported subsystems",
			strings.Join(supportedSubsystems(), ", "))

		return nil

	case err != nil:
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			return nil
		}

		return err
	}

	// Logs would garble the prompt, so they only go to stderr when the
	// installer is scripted.
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	logToStderr = !interactive

	logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
	err = initLogRotator(logFile, cfg.MaxLogFileSize, cfg.MaxLogFiles)
	if err != nil {
		return err
	}
	defer closeLogRotator()

	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer cancel()

	registry := hw.NewRegistry(hw.Config{
		Driver:          hw.NewHWIDriver(cfg.HWI),
		ProbeTimeout:    cfg.ProbeTimeout,
		RegisterTimeout: cfg.DeviceTimeout,
		ImportTimeout:   cfg.DeviceTimeout,
	})
	defer registry.Stop()

	inst, err := installer.New(installer.Config{
		Root:    cfg.DataDir,
		Network: cfg.network,
		Devices: registry,
		Bitcoind: bitcoind.NewValidator(bitcoind.Config{
			Network: cfg.network,
			Timeout: cfg.BitcoindTimeout,
		}),
		Writer: daemoncfg.NewEmitter(0),
	})
	if err != nil {
		return err
	}

	if err := inst.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := inst.Stop(context.Background()); err != nil {
			log.Errorf("Unable to stop installer: %v", err)
		}
	}()

	log.Infof("Installer ready, data directory %v", cfg.DataDir)

	path, err := runREPL(ctx, inst, os.Stdin, os.Stdout, interactive)
	if err != nil {
		return err
	}

	fmt.Println(path)

	return nil
}
