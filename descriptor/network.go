// Copyright (c) 2025 The heirwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

var (
	// ErrUnknownNetwork is returned when a network name cannot be mapped to
	// one of the supported networks.
	ErrUnknownNetwork = errors.New("unknown network")
)

// Network identifies the bitcoin network a wallet is installed for. It
// determines which extended key prefix is accepted and the default ports and
// paths of the node.
type Network uint8

const (
	// NetworkMain is the bitcoin main network.
	NetworkMain Network = iota

	// NetworkTest is the public test network.
	NetworkTest

	// NetworkSignet is the default signet.
	NetworkSignet

	// NetworkRegtest is the local regression test network.
	NetworkRegtest
)

// Networks lists every supported network in display order.
var Networks = []Network{
	NetworkMain, NetworkTest, NetworkSignet, NetworkRegtest,
}

// String returns the name used for the network's data directory and in the
// persisted configuration.
func (n Network) String() string {
	switch n {
	case NetworkMain:
		return "bitcoin"

	case NetworkTest:
		return "testnet"

	case NetworkSignet:
		return "signet"

	case NetworkRegtest:
		return "regtest"

	default:
		return "unknown network"
	}
}

// ParseNetwork maps a network name to a Network. Besides the canonical names
// returned by String, the aliases "main", "mainnet" and "test" are accepted.
func ParseNetwork(name string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bitcoin", "main", "mainnet":
		return NetworkMain, nil

	case "testnet", "testnet3", "test":
		return NetworkTest, nil

	case "signet":
		return NetworkSignet, nil

	case "regtest":
		return NetworkRegtest, nil

	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
	}
}

// Params returns the btcd chain parameters of the network.
func (n Network) Params() *chaincfg.Params {
	switch n {
	case NetworkTest:
		return &chaincfg.TestNet3Params

	case NetworkSignet:
		return &chaincfg.SigNetParams

	case NetworkRegtest:
		return &chaincfg.RegressionNetParams

	default:
		return &chaincfg.MainNetParams
	}
}

// CoinType returns the BIP-44 coin type used in derivation paths: 0 on the
// main network and 1 on every test network.
func (n Network) CoinType() uint32 {
	if n == NetworkMain {
		return 0
	}

	return 1
}

// ChainName returns the chain name understood by bitcoind and HWI.
func (n Network) ChainName() string {
	switch n {
	case NetworkTest:
		return "test"

	case NetworkSignet:
		return "signet"

	case NetworkRegtest:
		return "regtest"

	default:
		return "main"
	}
}

// RPCPort returns bitcoind's default JSON-RPC port on the network.
func (n Network) RPCPort() uint16 {
	switch n {
	case NetworkTest:
		return 18332

	case NetworkSignet:
		return 38332

	case NetworkRegtest:
		return 18443

	default:
		return 8332
	}
}

// IsTest returns true for every network that uses the testnet key prefix.
func (n Network) IsTest() bool {
	return n != NetworkMain
}
