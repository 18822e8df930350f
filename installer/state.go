// Copyright (c) 2025 The heirwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package installer

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/heirwallet/installer/bitcoind"
	"github.com/heirwallet/installer/daemoncfg"
	"github.com/heirwallet/installer/descriptor"
	"github.com/heirwallet/installer/hw"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrProcessing is returned for intents sent while an operation is in
	// flight.
	ErrProcessing = errors.New("an operation is in progress")

	// ErrInvalidIntent is returned for intents that make no sense on the
	// current step.
	ErrInvalidIntent = errors.New("intent not allowed on this step")

	// ErrNoDevice is returned when selecting a device that is not in the
	// device list.
	ErrNoDevice = errors.New("no such device")

	// ErrDataDirExists is reported when a wallet is already installed for
	// the selected network.
	ErrDataDirExists = errors.New("a wallet already exists for this " +
		"network")

	// ErrDataDirUnchecked is reported when moving on before the data
	// directory could be checked.
	ErrDataDirUnchecked = errors.New("data directory not checked yet")

	// ErrFinished is returned for intents sent after Exit.
	ErrFinished = errors.New("installer finished")

	// ErrInvariant is returned when the state machine reaches a state its
	// transitions should make impossible.
	ErrInvariant = errors.New("installer invariant violated")
)

// state is everything the installer knows. It is a value: transition
// returns a new state and never mutates the one it was given. Slices and
// maps are replaced, never written in place.
type state struct {
	step    Step
	network descriptor.Network

	dataDirChecked bool
	dataDirExists  bool

	mode     InputMode
	owner    KeyInput
	heir     KeyInput
	timelock TimelockInput
	imported ImportedInput

	// desc is the validated descriptor. It is set when leaving the
	// descriptor step and cleared when its inputs change.
	desc *descriptor.Descriptor

	devices []hw.Device
	chosen  fn.Option[descriptor.Fingerprint]

	// keyImport is the key being imported while the device picker is
	// open.
	keyImport fn.Option[descriptor.Role]

	// attested records every registration confirmed in this session.
	attested map[descriptor.Fingerprint]hw.Attestation

	bitcoind BitcoindInput

	configPath string
	finished   bool

	processing bool
	pending    uint64
	seq        uint64
	lastError  error
}

// newState returns the state of a fresh installer for the network together
// with the data directory check it needs.
func newState(net descriptor.Network) (state, []effect) {
	return state{step: StepWelcome}.selectNetwork(net)
}

// transition applies an event to the state. Rejected intents return an
// error and the unchanged state. Recoverable failures are recorded in
// lastError with a nil error.
func transition(s state, ev event) (state, []effect, error) {
	switch ev := ev.(type) {
	case Intent:
		return s.applyIntent(ev)

	case completion:
		return s.applyCompletion(ev), nil, nil

	default:
		return s, nil, fmt.Errorf("%w: unknown event %T", ErrInvariant,
			ev)
	}
}

// start records a new pending effect.
func (s state) start(mk func(seqNum) effect) (state, []effect) {
	s.seq++
	s.pending = s.seq
	s.processing = true

	return s, []effect{mk(seqNum{seq: s.seq})}
}

// invalid rejects an intent for the current step.
func (s state) invalid(in Intent) (state, []effect, error) {
	return s, nil, fmt.Errorf("%w: %T on %v", ErrInvalidIntent, in, s.step)
}

// invariant reports a state the transitions should have made impossible.
func (s state) invariant(format string, args ...any) (state, []effect,
	error) {

	err := fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
	log.Criticalf("Installer on %v: %v", s.step, err)

	return s, nil, err
}

func (s state) applyIntent(in Intent) (state, []effect, error) {
	if s.finished {
		return s, nil, ErrFinished
	}

	if s.processing {
		return s, nil, fmt.Errorf("%w: %T", ErrProcessing, in)
	}

	switch in := in.(type) {
	case Next:
		return s.next(in)

	case Previous:
		return s.previous(in)

	case SelectNetwork:
		if s.step != StepWelcome {
			return s.invalid(in)
		}

		s, effects := s.selectNetwork(in.Network)

		return s, effects, nil

	case SetInputMode:
		if s.step != StepDefineDescriptor || s.keyImport.IsSome() {
			return s.invalid(in)
		}

		if in.Mode != InputDerived && in.Mode != InputImported {
			return s.invalid(in)
		}

		s.mode = in.Mode
		s.desc = nil
		s.lastError = nil

		return s, nil, nil

	case FieldEdited:
		return s.editField(in)

	case ImportHWKey:
		if s.step != StepDefineDescriptor || s.mode != InputDerived ||
			s.keyImport.IsSome() {

			return s.invalid(in)
		}

		role := descriptor.RoleOwner
		if in.Heir {
			role = descriptor.RoleHeir
		}
		s.keyImport = fn.Some(role)
		s.lastError = nil

		s, effects := s.start(func(n seqNum) effect {
			return enumerateDevices{seqNum: n}
		})

		return s, effects, nil

	case SelectDevice:
		return s.selectDevice(in)

	case Reload:
		return s.reload(in)

	case Install:
		return s.install(in)

	case Exit:
		if s.step != StepDone {
			return s.invalid(in)
		}

		if in.Path != "" && in.Path != s.configPath {
			return s, nil, fmt.Errorf("%w: exit with %q, wrote %q",
				ErrInvalidIntent, in.Path, s.configPath)
		}

		s.finished = true

		return s, []effect{finish{path: s.configPath}}, nil

	case Close:
		if s.keyImport.IsNone() {
			return s.invalid(in)
		}

		s.keyImport = fn.None[descriptor.Role]()
		s.lastError = nil

		return s, nil, nil

	default:
		return s.invalid(in)
	}
}

// selectNetwork switches network and resets everything that depends on it.
func (s state) selectNetwork(net descriptor.Network) (state, []effect) {
	s.network = net
	s.dataDirChecked = false
	s.dataDirExists = false

	s.mode = InputDerived
	s.owner = KeyInput{}
	s.heir = KeyInput{}
	s.timelock = TimelockInput{}
	s.imported = ImportedInput{}
	s.desc = nil

	s.devices = nil
	s.chosen = fn.None[descriptor.Fingerprint]()
	s.keyImport = fn.None[descriptor.Role]()
	s.attested = nil

	s.bitcoind = BitcoindInput{
		Address:    bitcoind.DefaultAddress(net),
		CookiePath: bitcoind.DefaultCookiePath(net),
	}
	s.lastError = nil

	return s.start(func(n seqNum) effect {
		return checkDataDir{seqNum: n, network: net}
	})
}

func (s state) next(in Next) (state, []effect, error) {
	switch s.step {
	case StepWelcome:
		switch {
		case !s.dataDirChecked:
			s.lastError = ErrDataDirUnchecked

		case s.dataDirExists:
			s.lastError = fmt.Errorf("%w: %v", ErrDataDirExists,
				s.network)

		default:
			s.step = StepDefineDescriptor
			s.lastError = nil
		}

		return s, nil, nil

	case StepDefineDescriptor:
		if s.keyImport.IsSome() {
			return s.invalid(in)
		}

		s = s.validateDescriptor()
		if s.desc == nil {
			return s, nil, nil
		}

		s.step = StepRegisterDescriptor
		s.chosen = fn.None[descriptor.Fingerprint]()

		s, effects := s.start(func(n seqNum) effect {
			return enumerateDevices{seqNum: n}
		})

		return s, effects, nil

	case StepRegisterDescriptor:
		s.step = StepDefineBitcoind
		s.lastError = nil

		return s, nil, nil

	case StepDefineBitcoind:
		s.lastError = nil

		s, effects := s.start(func(n seqNum) effect {
			return checkBitcoind{
				seqNum:     n,
				network:    s.network,
				address:    s.bitcoind.Address,
				cookiePath: s.bitcoind.CookiePath,
			}
		})

		return s, effects, nil

	default:
		return s.invalid(in)
	}
}

func (s state) previous(in Previous) (state, []effect, error) {
	switch s.step {
	case StepDefineDescriptor:
		s.keyImport = fn.None[descriptor.Role]()
		s.step = StepWelcome

	case StepRegisterDescriptor:
		s.chosen = fn.None[descriptor.Fingerprint]()
		s.step = StepDefineDescriptor

	case StepDefineBitcoind:
		s.step = StepRegisterDescriptor

	case StepInstall:
		s.step = StepDefineBitcoind

	default:
		return s.invalid(in)
	}

	s.lastError = nil

	return s, nil, nil
}

// validateDescriptor runs the descriptor builder for the current mode and
// records the outcome on each input.
func (s state) validateDescriptor() state {
	var (
		desc *descriptor.Descriptor
		err  error
	)

	switch s.mode {
	case InputImported:
		desc, err = descriptor.ParseImported(s.imported.Text, s.network)

		s.imported.Validity, s.imported.Err = Valid, nil
		if err != nil {
			s.imported.Validity, s.imported.Err = Invalid, err
		}

	default:
		desc, err = descriptor.Validate(
			s.owner.Text, s.heir.Text, s.timelock.Text, s.network,
		)

		fieldErrs := make(map[descriptor.Field]error)
		for _, fe := range descriptor.FieldErrors(err) {
			fieldErrs[fe.Field] = fe.Err
		}

		s.owner = validateKey(
			s.owner.Text, s.network, fieldErrs[descriptor.FieldOwnerKey],
		)
		s.heir = validateKey(
			s.heir.Text, s.network, fieldErrs[descriptor.FieldHeirKey],
		)
		s.timelock = validateTimelock(
			s.timelock.Text, fieldErrs[descriptor.FieldTimelock],
		)
	}

	if err != nil {
		log.Debugf("Descriptor rejected: %v", err)

		s.desc = nil
		s.lastError = err

		return s
	}

	s.desc = desc
	s.lastError = nil

	return s
}

func (s state) editField(in FieldEdited) (state, []effect, error) {
	switch {
	case s.step == StepDefineDescriptor && in.Field.isDescriptorField():
		if s.keyImport.IsSome() {
			return s.invalid(in)
		}

		switch in.Field {
		case FieldOwnerKey:
			s.owner = KeyInput{Text: in.Text}

		case FieldHeirKey:
			s.heir = KeyInput{Text: in.Text}

		case FieldTimelock:
			s.timelock = TimelockInput{Text: in.Text}

		case FieldImported:
			s.imported = ImportedInput{Text: in.Text}
		}
		s.desc = nil

	case s.step == StepDefineBitcoind && in.Field == FieldBitcoindAddress:
		s.bitcoind = BitcoindInput{
			Address:    in.Text,
			CookiePath: s.bitcoind.CookiePath,
		}

	case s.step == StepDefineBitcoind && in.Field == FieldCookiePath:
		s.bitcoind = BitcoindInput{
			Address:    s.bitcoind.Address,
			CookiePath: in.Text,
		}

	default:
		return s.invalid(in)
	}

	s.lastError = nil

	return s, nil, nil
}

func (s state) selectDevice(in SelectDevice) (state, []effect, error) {
	inPicker := s.step == StepDefineDescriptor && s.keyImport.IsSome()
	if !inPicker && s.step != StepRegisterDescriptor {
		return s.invalid(in)
	}

	if in.Index < 0 || in.Index >= len(s.devices) {
		return s, nil, fmt.Errorf("%w: index %d of %d", ErrNoDevice,
			in.Index, len(s.devices))
	}

	fp := s.devices[in.Index].Fingerprint
	s.chosen = fn.Some(fp)
	s.lastError = nil

	var effects []effect
	if inPicker {
		role := s.keyImport.UnwrapOr(descriptor.RoleOwner)

		s, effects = s.start(func(n seqNum) effect {
			return importKey{
				seqNum:      n,
				fingerprint: fp,
				network:     s.network,
				role:        role,
			}
		})

		return s, effects, nil
	}

	if s.desc == nil {
		return s.invariant("register on %v without a descriptor", fp)
	}

	s, effects = s.start(func(n seqNum) effect {
		return registerDescriptor{
			seqNum:      n,
			fingerprint: fp,
			desc:        s.desc,
		}
	})

	return s, effects, nil
}

func (s state) reload(in Reload) (state, []effect, error) {
	var effects []effect

	switch {
	case s.step == StepWelcome:
		net := s.network
		s.lastError = nil
		s, effects = s.start(func(n seqNum) effect {
			return checkDataDir{seqNum: n, network: net}
		})

	case s.step == StepRegisterDescriptor,
		s.step == StepDefineDescriptor && s.keyImport.IsSome():

		s.lastError = nil
		s, effects = s.start(func(n seqNum) effect {
			return enumerateDevices{seqNum: n}
		})

	default:
		return s.invalid(in)
	}

	return s, effects, nil
}

func (s state) install(in Install) (state, []effect, error) {
	if s.step != StepInstall {
		return s.invalid(in)
	}

	if s.desc == nil {
		return s.invariant("install without a descriptor")
	}

	req := daemoncfg.Request{
		Descriptor:   s.desc,
		BitcoindAddr: s.bitcoind.Address,
		CookiePath:   s.bitcoind.CookiePath,
		Devices:      s.registeredDevices(),
	}
	s.lastError = nil

	s, effects := s.start(func(n seqNum) effect {
		return writeConfig{seqNum: n, request: req}
	})

	return s, effects, nil
}

// registeredDevices returns the devices that confirmed the current
// descriptor, ordered by fingerprint.
func (s state) registeredDevices() []daemoncfg.RegisteredDevice {
	if s.desc == nil {
		return nil
	}

	var devices []daemoncfg.RegisteredDevice
	for fp, att := range s.attested {
		if att.Descriptor != s.desc.String() {
			continue
		}

		devices = append(devices, daemoncfg.RegisteredDevice{
			Fingerprint: fp,
			HMAC:        att.HMAC,
		})
	}

	slices.SortFunc(devices, func(a, b daemoncfg.RegisteredDevice) int {
		return bytes.Compare(a.Fingerprint[:], b.Fingerprint[:])
	})

	return devices
}

// isRegistered reports whether the device confirmed the current descriptor.
func (s state) isRegistered(dev hw.Device) bool {
	if s.desc == nil {
		return false
	}

	if dev.IsRegistered(s.desc.String()) {
		return true
	}

	att, ok := s.attested[dev.Fingerprint]

	return ok && att.Descriptor == s.desc.String()
}

func (s state) applyCompletion(c completion) state {
	if !s.processing || c.sequence() != s.pending {
		log.Debugf("Discarding stale %T (seq=%d, pending=%d)", c,
			c.sequence(), s.pending)

		return s
	}

	s.processing = false
	s.pending = 0

	switch c := c.(type) {
	case dataDirChecked:
		s.dataDirChecked = c.err == nil
		s.dataDirExists = c.exists

		switch {
		case c.err != nil:
			s.lastError = c.err

		case c.exists:
			s.lastError = fmt.Errorf("%w: %v", ErrDataDirExists,
				s.network)

		default:
			s.lastError = nil
		}

	case devicesEnumerated:
		if c.err != nil {
			s.lastError = c.err
			break
		}

		s.devices = slices.Clone(c.devices)
		s.lastError = nil

		s.chosen.WhenSome(func(fp descriptor.Fingerprint) {
			found := slices.ContainsFunc(s.devices,
				func(d hw.Device) bool {
					return d.Fingerprint == fp
				},
			)
			if !found {
				s.chosen = fn.None[descriptor.Fingerprint]()
			}
		})

	case keyImported:
		if c.err != nil {
			s.lastError = c.err
			break
		}

		input := KeyInput{
			Text:     c.key.String(),
			Validity: Valid,
			Key:      c.key,
		}
		if c.role == descriptor.RoleHeir {
			s.heir = input
		} else {
			s.owner = input
		}

		s.keyImport = fn.None[descriptor.Role]()
		s.desc = nil
		s.lastError = nil

	case descriptorRegistered:
		if c.err != nil {
			s.lastError = c.err
			break
		}

		attested := maps.Clone(s.attested)
		if attested == nil {
			attested = make(map[descriptor.Fingerprint]hw.Attestation)
		}
		attested[c.fingerprint] = c.attestation
		s.attested = attested

		devices := slices.Clone(s.devices)
		for i := range devices {
			if devices[i].Fingerprint == c.fingerprint {
				devices[i].Registered = fn.Some(c.attestation)
			}
		}
		s.devices = devices
		s.lastError = nil

	case bitcoindChecked:
		if c.err != nil {
			s.bitcoind.Validity = Invalid
			s.bitcoind.Err = c.err
			s.lastError = c.err

			break
		}

		s.bitcoind.Validity = Valid
		s.bitcoind.Err = nil
		s.step = StepInstall
		s.lastError = nil

	case configWritten:
		if c.err != nil {
			s.lastError = c.err
			break
		}

		s.configPath = c.path
		s.step = StepDone
		s.lastError = nil
	}

	return s
}
