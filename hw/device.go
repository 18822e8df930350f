package hw

import (
	"fmt"
	"strings"
	"time"

	"github.com/heirwallet/installer/descriptor"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Kind is the vendor family of a signing device.
type Kind uint8

const (
	// KindUnknown is a device the driver could not identify.
	KindUnknown Kind = iota

	// KindLedger is a Ledger device.
	KindLedger

	// KindTrezor is a Trezor device.
	KindTrezor

	// KindColdcard is a Coldcard device.
	KindColdcard

	// KindBitBox02 is a BitBox02 device.
	KindBitBox02

	// KindJade is a Blockstream Jade device.
	KindJade

	// KindSpecter is a Specter DIY device.
	KindSpecter
)

// String returns the driver name of the kind.
func (k Kind) String() string {
	switch k {
	case KindLedger:
		return "ledger"
	case KindTrezor:
		return "trezor"
	case KindColdcard:
		return "coldcard"
	case KindBitBox02:
		return "bitbox02"
	case KindJade:
		return "jade"
	case KindSpecter:
		return "specter"
	default:
		return "unknown"
	}
}

// ParseKind maps a driver device type to a Kind. Unrecognised types map to
// KindUnknown.
func ParseKind(s string) Kind {
	switch strings.ToLower(s) {
	case "ledger":
		return KindLedger
	case "trezor", "keepkey":
		return KindTrezor
	case "coldcard":
		return KindColdcard
	case "bitbox02":
		return KindBitBox02
	case "jade":
		return KindJade
	case "specter":
		return KindSpecter
	default:
		return KindUnknown
	}
}

// Attestation records that a device confirmed a descriptor registration.
type Attestation struct {
	// Descriptor is the descriptor string the device registered.
	Descriptor string

	// HMAC is the registration proof returned by devices that issue one,
	// such as Ledger. Empty otherwise.
	HMAC []byte

	// RegisteredAt is when the registration completed.
	RegisteredAt time.Time
}

// Candidate is a device the driver saw during enumeration but that has not
// been probed yet.
type Candidate struct {
	Kind  Kind
	Model string
	Path  string

	// Fingerprint is the master key fingerprint if enumeration reported
	// it, hex encoded.
	Fingerprint string

	// NeedsPin and NeedsPassphrase report that the device must be
	// unlocked before it can answer.
	NeedsPin        bool
	NeedsPassphrase bool

	// Err is an error reported by the driver for this device during
	// enumeration.
	Err error
}

// Device is a connected and identified signing device.
type Device struct {
	Kind        Kind
	Model       string
	Path        string
	Fingerprint descriptor.Fingerprint

	// Registered is set once the device has confirmed a descriptor
	// registration.
	Registered fn.Option[Attestation]
}

// String returns a short human readable description of the device.
func (d Device) String() string {
	name := d.Model
	if name == "" {
		name = d.Kind.String()
	}

	return fmt.Sprintf("%s (%s)", name, d.Fingerprint)
}

// IsRegistered returns true if the device has an attestation for exactly the
// given descriptor string.
func (d Device) IsRegistered(desc string) bool {
	return fn.MapOptionZ(d.Registered, func(a Attestation) bool {
		return a.Descriptor == desc
	})
}
