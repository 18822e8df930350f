// Copyright (c) 2025 The heirwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package daemoncfg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/heirwallet/installer/datadir"
	"github.com/heirwallet/installer/descriptor"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// DefaultLockTimeout bounds the wait for the data directory lock.
	DefaultLockTimeout = 5 * time.Second

	// configPerms is the permission of the written configuration. It
	// holds the bitcoind cookie path and the wallet policy.
	configPerms = 0o600

	// tempSuffix is appended to the configuration path while it is being
	// written.
	tempSuffix = ".tmp"
)

var (
	// ErrPathUnwritable is returned when the configuration cannot be
	// written to its location.
	ErrPathUnwritable = errors.New("configuration path is not writable")

	// ErrDiskFull is returned when the disk ran out of space while writing
	// the configuration.
	ErrDiskFull = errors.New("disk full")

	// ErrAlreadyInstalled is returned when a configuration already exists
	// for the network.
	ErrAlreadyInstalled = errors.New("a wallet is already installed for " +
		"this network")
)

// Request holds everything needed to write the daemon configuration.
type Request struct {
	// Root is the wallet data directory.
	Root string

	// Descriptor is the wallet policy. Its network is the wallet's.
	Descriptor *descriptor.Descriptor

	// BitcoindAddr and CookiePath are the validated bitcoind settings.
	BitcoindAddr string
	CookiePath   string

	// Devices lists the devices that registered the descriptor.
	Devices []RegisteredDevice
}

// config builds the configuration of the request.
func (r *Request) config() (*Config, error) {
	switch {
	case r.Descriptor == nil:
		return nil, fmt.Errorf("%w: no descriptor", ErrSerialization)

	case r.Root == "":
		return nil, fmt.Errorf("%w: no data directory",
			ErrSerialization)

	case r.BitcoindAddr == "" || r.CookiePath == "":
		return nil, fmt.Errorf("%w: incomplete bitcoind settings",
			ErrSerialization)
	}

	net := r.Descriptor.Network()

	cfg := &Config{
		Network:        net.String(),
		MainDescriptor: r.Descriptor.String(),
		DataDir:        datadir.NetworkDir(r.Root, net),
		Bitcoind: BitcoindConfig{
			Addr:       r.BitcoindAddr,
			CookiePath: r.CookiePath,
		},
	}
	for _, dev := range r.Devices {
		cfg.RegisteredDevices = append(
			cfg.RegisteredDevices, dev.String(),
		)
	}

	return cfg, nil
}

// Emitter persists daemon configurations.
type Emitter struct {
	lockTimeout time.Duration
}

// NewEmitter creates an emitter waiting at most lockTimeout for the data
// directory lock. A zero timeout uses DefaultLockTimeout.
func NewEmitter(lockTimeout time.Duration) *Emitter {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}

	return &Emitter{lockTimeout: lockTimeout}
}

// Write persists the configuration of the request atomically and returns
// its path. The file is written next to its destination, synced and renamed
// into place under the data directory lock, so the path either holds the
// complete configuration or nothing. An existing configuration is never
// overwritten.
func (e *Emitter) Write(ctx context.Context, req Request) (string, error) {
	cfg, err := req.config()
	if err != nil {
		return "", err
	}

	data := cfg.Encode()

	// Make sure the encoding can be read back before touching the disk.
	if _, err := Decode(data); err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	net := req.Descriptor.Network()
	dir := datadir.NetworkDir(req.Root, net)
	path := datadir.ConfigPath(req.Root, net)

	lock, err := datadir.Acquire(dir, e.lockTimeout)
	if err != nil {
		if errors.Is(err, datadir.ErrLocked) {
			return "", err
		}

		return "", classifyWriteErr(err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Errorf("Unable to release install lock: %v", err)
		}
	}()

	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%w: %s", ErrAlreadyInstalled, path)
	}

	tmp := path + tempSuffix
	if err := fn.WriteFileRemove(tmp, data, configPerms); err != nil {
		return "", classifyWriteErr(err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", classifyWriteErr(err)
	}

	log.Infof("Wrote %v configuration to %v", net, path)

	return path, nil
}

// Read loads a configuration written by Write.
func Read(path string) (*Config, error) {
	//nolint:gosec // The path is the configuration location.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Decode(data)
}

// classifyWriteErr maps a filesystem failure to ErrDiskFull or
// ErrPathUnwritable.
func classifyWriteErr(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %v", ErrDiskFull, err)
	}

	return fmt.Errorf("%w: %v", ErrPathUnwritable, err)
}
