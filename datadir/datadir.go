// Package datadir lays out the wallet data directory per network and guards
// installs with an exclusive lock file.
package datadir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/heirwallet/installer/descriptor"
)

const (
	// ConfigFileName is the name of the daemon configuration written by
	// the installer in the network directory.
	ConfigFileName = "heirwalletd.conf"

	// lockFileName is the name of the install lock file.
	lockFileName = ".install.lock"

	// dirPerms is the permission used for created directories.
	dirPerms = 0o700

	// filePerms is the permission used for the lock file.
	filePerms = 0o600

	// retryInterval is the interval to wait before retrying to acquire the
	// lock file.
	retryInterval = 10 * time.Millisecond
)

var (
	// ErrLocked is returned when the lock could not be acquired before the
	// timeout.
	ErrLocked = errors.New("data directory is locked by another install")
)

// DefaultRoot returns the default wallet data directory.
func DefaultRoot() string {
	return btcutil.AppDataDir("heirwallet", false)
}

// NetworkDir returns the directory holding the wallet of the network.
func NetworkDir(root string, net descriptor.Network) string {
	return filepath.Join(root, net.String())
}

// ConfigPath returns the path of the daemon configuration of the network.
func ConfigPath(root string, net descriptor.Network) string {
	return filepath.Join(NetworkDir(root, net), ConfigFileName)
}

// Exists reports whether a wallet was already installed for the network,
// which is the case once its network directory holds a daemon
// configuration.
func Exists(root string, net descriptor.Network) (bool, error) {
	_, err := os.Stat(ConfigPath(root, net))
	switch {
	case err == nil:
		return true, nil

	case errors.Is(err, os.ErrNotExist):
		return false, nil
	}

	return false, err
}

// Lock is an exclusive install lock held on a directory.
type Lock struct {
	path string
	file *os.File
}

// Acquire creates dir if needed and takes its install lock. If another
// process holds it, Acquire retries until the timeout and then fails with
// ErrLocked. A lock left behind by a killed process must be removed by hand.
func Acquire(dir string, timeout time.Duration) (*Lock, error) {
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return nil, err
	}

	lockFile := filepath.Clean(filepath.Join(dir, lockFileName))
	deadline := time.After(timeout)

	for {
		// Attempt to acquire the lock file. If it already exists, wait
		// for a bit and retry.
		//
		//nolint:gosec // lockFile is built from the data directory and a
		// constant.
		f, err := os.OpenFile(
			lockFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerms,
		)
		if err == nil {
			log.Debugf("Acquired install lock %v", lockFile)

			return &Lock{path: lockFile, file: f}, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}

		select {
		case <-deadline:
			return nil, fmt.Errorf("%w: %s", ErrLocked, lockFile)

		case <-time.After(retryInterval):
		}
	}
}

// Release removes the lock file.
func (l *Lock) Release() error {
	// Always close the file first, Windows won't allow us to remove it
	// otherwise.
	_ = l.file.Close()

	if err := os.Remove(l.path); err != nil {
		return fmt.Errorf("couldn't remove lock file: %w", err)
	}

	log.Debugf("Released install lock %v", l.path)

	return nil
}
