package hw

import (
	"context"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/heirwallet/installer/descriptor"
)

// Driver is the transport to a family of signing devices. Implementations
// must honour context cancellation on every call, and must classify their
// failures with the errors of this package where possible.
type Driver interface {
	// Enumerate lists the devices currently attached.
	Enumerate(ctx context.Context) ([]Candidate, error)

	// Probe identifies a candidate, returning the device with its master
	// fingerprint.
	Probe(ctx context.Context, c Candidate) (Device, error)

	// GetXPub returns the extended public key at path on the device.
	GetXPub(ctx context.Context, dev Device, net descriptor.Network,
		path []uint32) (*hdkeychain.ExtendedKey, error)

	// RegisterDescriptor asks the device to register the descriptor under
	// name. It returns the device's registration proof if it issues one.
	RegisterDescriptor(ctx context.Context, dev Device, net descriptor.Network,
		name, desc string) ([]byte, error)
}
