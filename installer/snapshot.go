package installer

import (
	"slices"

	"github.com/heirwallet/installer/descriptor"
	"github.com/heirwallet/installer/hw"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// DeviceView is a device as shown to the user.
type DeviceView struct {
	Device hw.Device

	// Registered is true if the device confirmed the current descriptor.
	Registered bool

	// Chosen is true for the device last selected.
	Chosen bool
}

// Snapshot is a read-only view of the installer. A new snapshot is built
// after every change and none of its contents are shared with the running
// installer.
type Snapshot struct {
	Step    Step
	Network descriptor.Network

	// DataDirExists is true when a wallet is already installed for the
	// network.
	DataDirExists bool

	Mode     InputMode
	Owner    KeyInput
	Heir     KeyInput
	Timelock TimelockInput
	Imported ImportedInput

	// Descriptor is the validated descriptor, nil until the descriptor
	// step succeeds.
	Descriptor *descriptor.Descriptor

	// Address is the first receive address of the descriptor.
	Address string

	// MaxInputWeight is the worst case weight of an input spending the
	// descriptor.
	MaxInputWeight int64

	Devices []DeviceView

	// KeyImport is set while the device picker is open for a key.
	KeyImport fn.Option[descriptor.Role]

	Bitcoind BitcoindInput

	// ConfigPath is the written configuration, set on the done step.
	ConfigPath string

	Processing bool
	LastError  error
	Finished   bool
}

// snapshot projects the state.
func (s state) snapshot() Snapshot {
	snap := Snapshot{
		Step:          s.step,
		Network:       s.network,
		DataDirExists: s.dataDirExists,
		Mode:          s.mode,
		Owner:         s.owner,
		Heir:          s.heir,
		Timelock:      s.timelock,
		Imported:      s.imported,
		Descriptor:    s.desc,
		KeyImport:     s.keyImport,
		Bitcoind:      s.bitcoind,
		ConfigPath:    s.configPath,
		Processing:    s.processing,
		LastError:     s.lastError,
		Finished:      s.finished,
	}
	snap.Owner.Key = s.owner.Key.Clone()
	snap.Heir.Key = s.heir.Key.Clone()

	if s.desc != nil {
		if addr, err := s.desc.Address(0, 0); err == nil {
			snap.Address = addr.EncodeAddress()
		} else {
			log.Warnf("Unable to derive first address: %v", err)
		}

		if weight, err := s.desc.MaxInputWeight(); err == nil {
			snap.MaxInputWeight = weight
		}
	}

	chosen := s.chosen.UnwrapOr(descriptor.Fingerprint{})
	for _, dev := range s.devices {
		dev.Registered = fn.MapOptionZ(dev.Registered, cloneAttestation)

		snap.Devices = append(snap.Devices, DeviceView{
			Device:     dev,
			Registered: s.isRegistered(dev),
			Chosen: s.chosen.IsSome() &&
				dev.Fingerprint == chosen,
		})
	}

	return snap
}

// cloneAttestation copies the attestation's HMAC.
func cloneAttestation(a hw.Attestation) fn.Option[hw.Attestation] {
	a.HMAC = slices.Clone(a.HMAC)

	return fn.Some(a)
}
