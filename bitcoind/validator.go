// Copyright (c) 2025 The heirwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bitcoind checks that a bitcoind node can serve the wallet: its RPC
// address is reachable, its cookie file is readable and it runs the expected
// network.
package bitcoind

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/heirwallet/installer/descriptor"
)

const (
	// DefaultTimeout bounds a whole check.
	DefaultTimeout = 10 * time.Second

	// cookieFile is the name of the cookie bitcoind writes in its network
	// directory.
	cookieFile = ".cookie"
)

// Config holds the validator configuration.
type Config struct {
	// Network is the network bitcoind must be running.
	Network descriptor.Network

	// Timeout bounds a check. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// Validator checks bitcoind connection settings.
type Validator struct {
	cfg Config
}

// NewValidator creates a validator.
func NewValidator(cfg Config) *Validator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Validator{cfg: cfg}
}

// Check validates the connection settings in order: the address is parsed,
// the cookie is read, the address is dialed and bitcoind is asked for its
// genesis block hash. The first failing step is reported. There is no
// retry.
func (v *Validator) Check(ctx context.Context, address,
	cookiePath string) error {

	return v.CheckNetwork(ctx, v.cfg.Network, address, cookiePath)
}

// CheckNetwork is like Check but for the given network instead of the
// configured one.
func (v *Validator) CheckNetwork(ctx context.Context,
	network descriptor.Network, address, cookiePath string) error {

	hostPort, err := ParseAddress(address)
	if err != nil {
		return err
	}

	user, pass, err := ReadCookie(cookiePath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	if err := dial(ctx, hostPort); err != nil {
		return err
	}

	hash, err := genesisHash(ctx, hostPort, user, pass)
	if err != nil {
		return err
	}

	want := network.Params().GenesisHash
	if !hash.IsEqual(want) {
		return fmt.Errorf("%w: genesis %v, want %v for %v",
			ErrNetworkMismatch, hash, want, network)
	}

	log.Infof("Bitcoind at %v is reachable on %v", hostPort, network)

	return nil
}

// ParseAddress validates a host:port address. The host must be an IP literal
// or localhost and the port must be in 1-65535. The normalised address is
// returned.
func ParseAddress(address string) (string, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(address))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAddressUnparseable, err)
	}

	if host != "localhost" && net.ParseIP(host) == nil {
		return "", fmt.Errorf("%w: host %q is not an IP address",
			ErrAddressUnparseable, host)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return "", fmt.Errorf("%w: bad port %q", ErrAddressUnparseable,
			portStr)
	}

	return net.JoinHostPort(host, portStr), nil
}

// ReadCookie reads bitcoind's cookie file and returns its credentials.
func ReadCookie(path string) (string, string, error) {
	if path == "" {
		return "", "", fmt.Errorf("%w: no path", ErrCookieUnreadable)
	}

	//nolint:gosec // Reading a user supplied path is the point.
	content, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrCookieUnreadable, err)
	}

	user, pass, ok := strings.Cut(strings.TrimSpace(string(content)), ":")
	if !ok || user == "" || pass == "" {
		return "", "", fmt.Errorf("%w: %s is not a cookie file",
			ErrCookieUnreadable, path)
	}

	return user, pass, nil
}

// DefaultAddress returns the local RPC address of bitcoind for the network.
func DefaultAddress(network descriptor.Network) string {
	return net.JoinHostPort(
		"127.0.0.1", strconv.Itoa(int(network.RPCPort())),
	)
}

// DefaultCookiePath returns where bitcoind writes its cookie for the network
// when run with its default data directory.
func DefaultCookiePath(network descriptor.Network) string {
	dir := btcutil.AppDataDir("bitcoin", false)

	switch network {
	case descriptor.NetworkTest:
		dir = filepath.Join(dir, "testnet3")

	case descriptor.NetworkSignet:
		dir = filepath.Join(dir, "signet")

	case descriptor.NetworkRegtest:
		dir = filepath.Join(dir, "regtest")
	}

	return filepath.Join(dir, cookieFile)
}

// dial makes sure something accepts TCP connections at the address.
func dial(ctx context.Context, hostPort string) error {
	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		var netErr net.Error
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded),
			errors.As(err, &netErr) && netErr.Timeout():

			return fmt.Errorf("%w: dial %v", ErrTimeout, hostPort)

		case errors.Is(err, syscall.ECONNREFUSED):
			return fmt.Errorf("%w: %v", ErrConnectionRefused, hostPort)
		}

		return fmt.Errorf("%w: %v", ErrConnectionRefused, err)
	}

	return conn.Close()
}

// genesisHash asks bitcoind for the hash of block 0 over JSON-RPC.
func genesisHash(ctx context.Context, hostPort, user,
	pass string) (*chainhash.Hash, error) {

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:                 hostPort,
		User:                 user,
		Pass:                 pass,
		DisableAutoReconnect: true,
		DisableConnectOnNew:  true,
		DisableTLS:           true,
		HTTPPostMode:         true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRPC, err)
	}
	defer client.Shutdown()

	// The future is read here rather than through Receive in a goroutine.
	// Shutdown during a retry backoff never answers the future, so a
	// blocked Receive would never return.
	future := client.GetBlockHashAsync(0)

	select {
	case resp := <-future:
		replay := make(rpcclient.FutureGetBlockHashResult, 1)
		replay <- resp

		hash, err := replay.Receive()
		if err != nil {
			return nil, fmt.Errorf("%w: getblockhash: %v", ErrRPC, err)
		}

		return hash, nil

	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: waiting for getblockhash",
				ErrTimeout)
		}

		return nil, ctx.Err()
	}
}
