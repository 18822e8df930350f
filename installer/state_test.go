package installer

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/heirwallet/installer/descriptor"
	"github.com/heirwallet/installer/hw"
	"github.com/stretchr/testify/require"
)

// step applies an event and requires it to be accepted.
func step(t *testing.T, s state, ev event) (state, []effect) {
	t.Helper()

	next, effects, err := transition(s, ev)
	require.NoError(t, err)

	return next, effects
}

// complete feeds the completion of the single pending effect.
func complete(t *testing.T, s state, effects []effect,
	mk func(seqNum) completion) state {

	t.Helper()

	require.Len(t, effects, 1)
	require.True(t, s.processing)

	next, more, err := transition(s, mk(seqNum{seq: effects[0].sequence()}))
	require.NoError(t, err)
	require.Empty(t, more)
	require.False(t, next.processing)

	return next
}

// welcomeState returns a regtest state whose data directory check found no
// wallet.
func welcomeState(t *testing.T) state {
	t.Helper()

	s, effects := newState(testNet)
	require.IsType(t, checkDataDir{}, effects[0])

	return complete(t, s, effects, func(n seqNum) completion {
		return dataDirChecked{seqNum: n}
	})
}

// filledState returns a state on the descriptor step with both keys and the
// timelock entered.
func filledState(t *testing.T, timelock string) state {
	t.Helper()

	s, _ := step(t, welcomeState(t), Next{})
	s, _ = step(t, s, FieldEdited{Field: FieldOwnerKey, Text: testXPub(t, 1)})
	s, _ = step(t, s, FieldEdited{Field: FieldHeirKey, Text: testXPub(t, 2)})
	s, _ = step(t, s, FieldEdited{Field: FieldTimelock, Text: timelock})

	return s
}

// registerState returns a state on the register step with the devices.
func registerState(t *testing.T, devices ...hw.Device) state {
	t.Helper()

	s, effects := step(t, filledState(t, "144"), Next{})

	return complete(t, s, effects, func(n seqNum) completion {
		return devicesEnumerated{seqNum: n, devices: devices}
	})
}

// TestValidDescriptorAdvances checks that valid keys and timelock move the
// wizard to the register step with the descriptor stored.
func TestValidDescriptorAdvances(t *testing.T) {
	t.Parallel()

	// Arrange.
	s := filledState(t, "144")

	// Act.
	s, effects := step(t, s, Next{})

	// Assert.
	require.Equal(t, StepRegisterDescriptor, s.step)
	require.NotNil(t, s.desc)
	require.Equal(t, uint16(144), s.desc.Timelock())
	require.True(t, s.desc.Equal(testDescriptor(t)))
	require.Contains(t, s.desc.String(), "older(144)")

	require.Equal(t, Valid, s.owner.Validity)
	require.Equal(t, Valid, s.heir.Validity)
	require.Equal(t, Valid, s.timelock.Validity)
	require.Equal(t, uint16(144), s.timelock.Blocks)

	require.True(t, s.processing)
	require.Len(t, effects, 1)
	require.IsType(t, enumerateDevices{}, effects[0])
}

// TestZeroTimelockRejected checks that a zero timelock keeps the wizard on
// the descriptor step with a positive integer error.
func TestZeroTimelockRejected(t *testing.T) {
	t.Parallel()

	s, effects := step(t, filledState(t, "0"), Next{})

	require.Empty(t, effects)
	require.Equal(t, StepDefineDescriptor, s.step)
	require.Nil(t, s.desc)
	require.False(t, s.processing)
	require.ErrorIs(t, s.lastError, descriptor.ErrTimelockNotPositive)

	require.Equal(t, Invalid, s.timelock.Validity)
	require.ErrorIs(t, s.timelock.Err, descriptor.ErrTimelockNotPositive)
	require.Equal(t, Valid, s.owner.Validity)
	require.Equal(t, Valid, s.heir.Validity)
}

// TestDescriptorFieldErrors checks that each input reports its own error.
func TestDescriptorFieldErrors(t *testing.T) {
	t.Parallel()

	// Arrange: the heir is the owner.
	s, _ := step(t, welcomeState(t), Next{})
	s, _ = step(t, s, FieldEdited{Field: FieldOwnerKey, Text: testXPub(t, 1)})
	s, _ = step(t, s, FieldEdited{Field: FieldHeirKey, Text: testXPub(t, 1)})
	s, _ = step(t, s, FieldEdited{Field: FieldTimelock, Text: "abc"})

	// Act.
	s, _ = step(t, s, Next{})

	// Assert.
	require.Equal(t, StepDefineDescriptor, s.step)
	require.Equal(t, Valid, s.owner.Validity)
	require.ErrorIs(t, s.heir.Err, descriptor.ErrSameKey)
	require.ErrorIs(t, s.timelock.Err, descriptor.ErrTimelockNotNumber)

	// Editing a field resets its validation only.
	s, _ = step(t, s, FieldEdited{Field: FieldHeirKey, Text: testXPub(t, 2)})
	require.Equal(t, Unvalidated, s.heir.Validity)
	require.NoError(t, s.heir.Err)
	require.Equal(t, Invalid, s.timelock.Validity)
	require.NoError(t, s.lastError)
}

// TestImportedDescriptor checks the imported input mode.
func TestImportedDescriptor(t *testing.T) {
	t.Parallel()

	// Arrange.
	s, _ := step(t, welcomeState(t), Next{})
	s, _ = step(t, s, SetInputMode{Mode: InputImported})
	s, _ = step(t, s, FieldEdited{
		Field: FieldImported,
		Text:  "wsh(pk(" + testXPub(t, 1) + "))",
	})

	// Act: an unsupported template is rejected.
	s, _ = step(t, s, Next{})

	// Assert.
	require.Equal(t, StepDefineDescriptor, s.step)
	require.Equal(t, Invalid, s.imported.Validity)
	require.ErrorIs(t, s.lastError, descriptor.ErrDescriptorSyntax)

	// The derived fields are ignored in imported mode.
	s, _ = step(t, s, FieldEdited{
		Field: FieldImported, Text: testDescriptor(t).String(),
	})
	s, effects := step(t, s, Next{})

	require.Equal(t, StepRegisterDescriptor, s.step)
	require.Len(t, effects, 1)
	require.Equal(t, descriptor.OriginImported, s.desc.Origin())
	require.True(t, s.desc.Equal(testDescriptor(t)))
	require.Equal(t, Valid, s.imported.Validity)

	// Key import only makes sense for derived descriptors.
	s = complete(t, s, effects, func(n seqNum) completion {
		return devicesEnumerated{seqNum: n}
	})
	s, _ = step(t, s, Previous{})
	_, _, err := transition(s, ImportHWKey{})
	require.ErrorIs(t, err, ErrInvalidIntent)
}

// TestRegisterTimeoutThenRetry checks that a timed out registration leaves
// the device unregistered and another device can be tried.
func TestRegisterTimeoutThenRetry(t *testing.T) {
	t.Parallel()

	// Arrange.
	f1, f2 := testDevice(1), testDevice(2)
	s := registerState(t, f1, f2)

	// Act: the first device times out.
	s, effects := step(t, s, SelectDevice{Index: 0})
	require.Equal(t, registerDescriptor{
		seqNum:      seqNum{seq: s.pending},
		fingerprint: f1.Fingerprint,
		desc:        s.desc,
	}, effects[0])

	s = complete(t, s, effects, func(n seqNum) completion {
		return descriptorRegistered{
			seqNum:      n,
			fingerprint: f1.Fingerprint,
			err:         hw.ErrTimeout,
		}
	})

	// Assert.
	require.Equal(t, StepRegisterDescriptor, s.step)
	require.ErrorIs(t, s.lastError, hw.ErrTimeout)

	snap := s.snapshot()
	require.False(t, snap.Devices[0].Registered)
	require.True(t, snap.Devices[0].Device.Registered.IsNone())
	require.True(t, snap.Devices[0].Chosen)

	// The second device can be tried and succeeds.
	s, effects = step(t, s, SelectDevice{Index: 1})
	s = complete(t, s, effects, func(n seqNum) completion {
		return descriptorRegistered{
			seqNum:      n,
			fingerprint: f2.Fingerprint,
			attestation: hw.Attestation{
				Descriptor: s.desc.String(),
				HMAC:       []byte{1},
			},
		}
	})

	require.NoError(t, s.lastError)
	snap = s.snapshot()
	require.False(t, snap.Devices[0].Registered)
	require.True(t, snap.Devices[1].Registered)
	require.True(t, snap.Devices[1].Chosen)
}

// TestSelectDeviceOutOfRange checks device selection bounds.
func TestSelectDeviceOutOfRange(t *testing.T) {
	t.Parallel()

	s := registerState(t)

	for _, idx := range []int{0, -1} {
		next, effects, err := transition(s, SelectDevice{Index: idx})
		require.ErrorIs(t, err, ErrNoDevice)
		require.Empty(t, effects)
		require.Equal(t, s, next)
	}
}

// TestStaleRegistrationHidden checks that a registration of an earlier
// descriptor does not count for a new one.
func TestStaleRegistrationHidden(t *testing.T) {
	t.Parallel()

	// Arrange: register the 144 block descriptor on the device.
	dev := testDevice(1)
	s := registerState(t, dev)
	s, effects := step(t, s, SelectDevice{Index: 0})
	s = complete(t, s, effects, func(n seqNum) completion {
		return descriptorRegistered{
			seqNum:      n,
			fingerprint: dev.Fingerprint,
			attestation: hw.Attestation{Descriptor: s.desc.String()},
		}
	})
	require.True(t, s.snapshot().Devices[0].Registered)
	require.Len(t, s.registeredDevices(), 1)

	// Act: go back and change the timelock.
	s, _ = step(t, s, Previous{})
	s, _ = step(t, s, FieldEdited{Field: FieldTimelock, Text: "288"})
	s, effects = step(t, s, Next{})
	s = complete(t, s, effects, func(n seqNum) completion {
		return devicesEnumerated{seqNum: n, devices: s.devices}
	})

	// Assert.
	require.False(t, s.snapshot().Devices[0].Registered)
	require.Empty(t, s.registeredDevices())
}

// TestBitcoindFailureKeepsStep checks that a failed connection check keeps
// the wizard on the bitcoind step.
func TestBitcoindFailureKeepsStep(t *testing.T) {
	t.Parallel()

	// Arrange.
	s, _ := step(t, registerState(t), Next{})
	require.Equal(t, StepDefineBitcoind, s.step)
	require.Equal(t, "127.0.0.1:18443", s.bitcoind.Address)

	s, _ = step(t, s, FieldEdited{Field: FieldCookiePath, Text: "/nope"})

	// Act.
	s, effects := step(t, s, Next{})
	require.Equal(t, checkBitcoind{
		seqNum:     seqNum{seq: s.pending},
		network:    testNet,
		address:    "127.0.0.1:18443",
		cookiePath: "/nope",
	}, effects[0])

	cookieErr := errors.New("cookie unreadable")
	s = complete(t, s, effects, func(n seqNum) completion {
		return bitcoindChecked{seqNum: n, err: cookieErr}
	})

	// Assert.
	require.Equal(t, StepDefineBitcoind, s.step)
	require.ErrorIs(t, s.lastError, cookieErr)
	require.Equal(t, Invalid, s.bitcoind.Validity)
}

// TestInstallRejectedWhileProcessing checks that a second install is
// refused while the first write is pending.
func TestInstallRejectedWhileProcessing(t *testing.T) {
	t.Parallel()

	// Arrange.
	s, _ := step(t, registerState(t), Next{})
	s, effects := step(t, s, Next{})
	s = complete(t, s, effects, func(n seqNum) completion {
		return bitcoindChecked{seqNum: n}
	})
	require.Equal(t, StepInstall, s.step)

	// Act.
	s, effects = step(t, s, Install{})
	_, again, err := transition(s, Install{})

	// Assert.
	require.ErrorIs(t, err, ErrProcessing)
	require.Empty(t, again)
	require.Len(t, effects, 1)
	require.IsType(t, writeConfig{}, effects[0])

	// The write completes and the wizard is done.
	s = complete(t, s, effects, func(n seqNum) completion {
		return configWritten{seqNum: n, path: "/data/heirwalletd.conf"}
	})
	require.Equal(t, StepDone, s.step)
	require.Equal(t, "/data/heirwalletd.conf", s.configPath)

	_, _, err = transition(s, Previous{})
	require.ErrorIs(t, err, ErrInvalidIntent)

	_, _, err = transition(s, Exit{Path: "/elsewhere"})
	require.ErrorIs(t, err, ErrInvalidIntent)

	s, effects = step(t, s, Exit{Path: "/data/heirwalletd.conf"})
	require.Equal(t, []effect{finish{path: "/data/heirwalletd.conf"}},
		effects)
	require.True(t, s.finished)

	_, _, err = transition(s, Next{})
	require.ErrorIs(t, err, ErrFinished)
}

// TestWriteFailureKeepsStep checks that a failed write is reported and can
// be retried.
func TestWriteFailureKeepsStep(t *testing.T) {
	t.Parallel()

	s, _ := step(t, registerState(t), Next{})
	s, effects := step(t, s, Next{})
	s = complete(t, s, effects, func(n seqNum) completion {
		return bitcoindChecked{seqNum: n}
	})

	s, effects = step(t, s, Install{})
	s = complete(t, s, effects, func(n seqNum) completion {
		return configWritten{seqNum: n, err: errors.New("disk full")}
	})

	require.Equal(t, StepInstall, s.step)
	require.Error(t, s.lastError)

	_, effects = step(t, s, Install{})
	require.Len(t, effects, 1)
}

// TestDataDirExists checks that an existing wallet blocks the welcome step
// until another network is selected.
func TestDataDirExists(t *testing.T) {
	t.Parallel()

	// Arrange.
	s, effects := newState(descriptor.NetworkMain)
	s = complete(t, s, effects, func(n seqNum) completion {
		return dataDirChecked{seqNum: n, exists: true}
	})

	// Act.
	s, _ = step(t, s, Next{})

	// Assert.
	require.Equal(t, StepWelcome, s.step)
	require.ErrorIs(t, s.lastError, ErrDataDirExists)
	require.True(t, s.snapshot().DataDirExists)

	// Another network is free.
	s, effects = step(t, s, SelectNetwork{Network: testNet})
	require.Equal(t, checkDataDir{
		seqNum: seqNum{seq: s.pending}, network: testNet,
	}, effects[0])
	require.NoError(t, s.lastError)

	s = complete(t, s, effects, func(n seqNum) completion {
		return dataDirChecked{seqNum: n}
	})
	s, _ = step(t, s, Next{})
	require.Equal(t, StepDefineDescriptor, s.step)
}

// TestDataDirCheckFailure checks that a failed check must be retried before
// moving on.
func TestDataDirCheckFailure(t *testing.T) {
	t.Parallel()

	s, effects := newState(testNet)
	s = complete(t, s, effects, func(n seqNum) completion {
		return dataDirChecked{seqNum: n, err: errors.New("denied")}
	})

	s, _ = step(t, s, Next{})
	require.Equal(t, StepWelcome, s.step)
	require.ErrorIs(t, s.lastError, ErrDataDirUnchecked)

	s, effects = step(t, s, Reload{})
	s = complete(t, s, effects, func(n seqNum) completion {
		return dataDirChecked{seqNum: n}
	})
	s, _ = step(t, s, Next{})
	require.Equal(t, StepDefineDescriptor, s.step)
}

// TestSelectNetworkResetsInput checks that switching network forgets the
// inputs of the previous one.
func TestSelectNetworkResetsInput(t *testing.T) {
	t.Parallel()

	s, _ := step(t, filledState(t, "144"), Previous{})
	require.Equal(t, testXPub(t, 1), s.owner.Text)

	s, _ = step(t, s, SelectNetwork{Network: descriptor.NetworkSignet})

	require.Equal(t, descriptor.NetworkSignet, s.network)
	require.Empty(t, s.owner.Text)
	require.Empty(t, s.timelock.Text)
	require.Equal(t, "127.0.0.1:38332", s.bitcoind.Address)
	require.False(t, s.dataDirChecked)
}

// TestKeyImport checks filling a key from a device.
func TestKeyImport(t *testing.T) {
	t.Parallel()

	// Arrange: open the picker for the heir key.
	s, _ := step(t, welcomeState(t), Next{})
	s, effects := step(t, s, ImportHWKey{Heir: true})
	require.Equal(t, descriptor.RoleHeir, s.keyImport.UnwrapOr(0))

	dev := testDevice(7)
	s = complete(t, s, effects, func(n seqNum) completion {
		return devicesEnumerated{seqNum: n, devices: []hw.Device{dev}}
	})

	// Fields can't be edited behind the picker.
	_, _, err := transition(s, FieldEdited{Field: FieldHeirKey})
	require.ErrorIs(t, err, ErrInvalidIntent)

	_, _, err = transition(s, SelectDevice{Index: 1})
	require.ErrorIs(t, err, ErrNoDevice)

	// Act: the first attempt is rejected on the device.
	s, effects = step(t, s, SelectDevice{Index: 0})
	require.Equal(t, importKey{
		seqNum:      seqNum{seq: s.pending},
		fingerprint: dev.Fingerprint,
		network:     testNet,
		role:        descriptor.RoleHeir,
	}, effects[0])

	s = complete(t, s, effects, func(n seqNum) completion {
		return keyImported{
			seqNum: n, role: descriptor.RoleHeir,
			err: hw.ErrUserRejected,
		}
	})
	require.ErrorIs(t, s.lastError, hw.ErrUserRejected)
	require.True(t, s.keyImport.IsSome())

	// The retry succeeds.
	key := testAccountKey(t, 2)
	s, effects = step(t, s, SelectDevice{Index: 0})
	s = complete(t, s, effects, func(n seqNum) completion {
		return keyImported{seqNum: n, role: descriptor.RoleHeir, key: key}
	})

	// Assert.
	require.True(t, s.keyImport.IsNone())
	require.Equal(t, Valid, s.heir.Validity)
	require.Equal(t, key.String(), s.heir.Text)
	require.NoError(t, s.lastError)

	// The imported key, with its origin, builds a descriptor.
	s, _ = step(t, s, FieldEdited{Field: FieldOwnerKey, Text: testXPub(t, 1)})
	s, _ = step(t, s, FieldEdited{Field: FieldTimelock, Text: "10"})
	s, _ = step(t, s, Next{})
	require.Equal(t, StepRegisterDescriptor, s.step)
	require.Equal(t, key.Origin, s.desc.Heir().Origin)
}

// TestClosePicker checks that closing the picker keeps the fields.
func TestClosePicker(t *testing.T) {
	t.Parallel()

	s := filledState(t, "144")
	s, effects := step(t, s, ImportHWKey{})
	s = complete(t, s, effects, func(n seqNum) completion {
		return devicesEnumerated{seqNum: n, err: hw.ErrTimeout}
	})
	require.ErrorIs(t, s.lastError, hw.ErrTimeout)

	_, _, err := transition(s, Next{})
	require.ErrorIs(t, err, ErrInvalidIntent)

	s, effects = step(t, s, Reload{})
	require.IsType(t, enumerateDevices{}, effects[0])
	s = complete(t, s, effects, func(n seqNum) completion {
		return devicesEnumerated{seqNum: n}
	})

	s, _ = step(t, s, Close{})
	require.True(t, s.keyImport.IsNone())
	require.Equal(t, testXPub(t, 1), s.owner.Text)

	_, _, err = transition(s, Close{})
	require.ErrorIs(t, err, ErrInvalidIntent)
}

// TestStaleCompletionDiscarded checks that only the pending effect's
// completion is applied.
func TestStaleCompletionDiscarded(t *testing.T) {
	t.Parallel()

	s := registerState(t, testDevice(1))
	s, effects := step(t, s, Reload{})
	pending := effects[0].sequence()

	// A completion for an earlier effect is ignored.
	next, more, err := transition(s, devicesEnumerated{
		seqNum: seqNum{seq: pending - 1},
	})
	require.NoError(t, err)
	require.Empty(t, more)
	require.Equal(t, s, next)

	// So is a completion when nothing is pending.
	s = complete(t, s, effects, func(n seqNum) completion {
		return devicesEnumerated{seqNum: n, devices: s.devices}
	})
	next, _, err = transition(s, devicesEnumerated{
		seqNum: seqNum{seq: pending},
	})
	require.NoError(t, err)
	require.Equal(t, s, next)
}

// TestIntentsRejectedWhileProcessing checks that no intent is accepted while
// an effect is in flight.
func TestIntentsRejectedWhileProcessing(t *testing.T) {
	t.Parallel()

	s, _ := newState(testNet)
	require.True(t, s.processing)

	for _, in := range allIntents() {
		next, effects, err := transition(s, in)
		require.ErrorIs(t, err, ErrProcessing, "%T", in)
		require.Empty(t, effects)
		require.Equal(t, s, next)
	}
}

// TestInvalidIntentsPerStep checks intents that make no sense on a step.
func TestInvalidIntentsPerStep(t *testing.T) {
	t.Parallel()

	welcome := welcomeState(t)
	define := filledState(t, "144")
	register := registerState(t, testDevice(1))
	bitcoindStep, _ := step(t, register, Next{})

	tests := []struct {
		name   string
		state  state
		intent Intent
	}{
		{"previous on welcome", welcome, Previous{}},
		{"install on welcome", welcome, Install{}},
		{"close on welcome", welcome, Close{}},
		{"field on welcome", welcome, FieldEdited{Field: FieldOwnerKey}},
		{"network on define", define, SelectNetwork{Network: testNet}},
		{"device on define", define, SelectDevice{}},
		{"reload on define", define, Reload{}},
		{"bitcoind field on define", define,
			FieldEdited{Field: FieldBitcoindAddress}},
		{"unknown mode", define, SetInputMode{Mode: 9}},
		{"key field on register", register,
			FieldEdited{Field: FieldOwnerKey}},
		{"import key on register", register, ImportHWKey{}},
		{"exit on register", register, Exit{}},
		{"key field on bitcoind", bitcoindStep,
			FieldEdited{Field: FieldTimelock}},
		{"device on bitcoind", bitcoindStep, SelectDevice{}},
		{"install on bitcoind", bitcoindStep, Install{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			next, effects, err := transition(tc.state, tc.intent)
			require.ErrorIs(t, err, ErrInvalidIntent)
			require.Empty(t, effects)
			require.Equal(t, tc.state, next)
		})
	}
}

// TestRegisterWithoutDescriptor checks that the missing descriptor is
// reported as an invariant violation.
func TestRegisterWithoutDescriptor(t *testing.T) {
	t.Parallel()

	s := registerState(t, testDevice(1))
	s.desc = nil

	_, effects, err := transition(s, SelectDevice{Index: 0})
	require.ErrorIs(t, err, ErrInvariant)
	require.Empty(t, effects)
}

// allIntents returns one intent of each kind.
func allIntents() []Intent {
	return []Intent{
		Next{}, Previous{}, SelectNetwork{}, SetInputMode{},
		FieldEdited{}, SelectDevice{}, ImportHWKey{}, Reload{},
		Install{}, Exit{}, Close{},
	}
}

// randomWalk holds the inputs a random walk draws from.
type randomWalk struct {
	r       *rand.Rand
	texts   map[Field][]string
	owner   *descriptor.Key
	heir    *descriptor.Key
	devices []hw.Device
}

func (w *randomWalk) intent() Intent {
	switch w.r.IntN(11) {
	case 0, 1, 2:
		return Next{}

	case 3:
		return Previous{}

	case 4:
		return SelectNetwork{Network: testNet}

	case 5:
		return SetInputMode{Mode: InputMode(w.r.IntN(2))}

	case 6:
		field := Field(w.r.IntN(6))
		texts := w.texts[field]

		return FieldEdited{
			Field: field, Text: texts[w.r.IntN(len(texts))],
		}

	case 7:
		return SelectDevice{Index: w.r.IntN(3)}

	case 8:
		return ImportHWKey{Heir: w.r.IntN(2) == 0}

	case 9:
		return []Intent{Reload{}, Close{}}[w.r.IntN(2)]

	default:
		return []Intent{Install{}, Exit{}}[w.r.IntN(2)]
	}
}

// completion returns a random outcome of the effect.
func (w *randomWalk) completion(eff effect) completion {
	n := seqNum{seq: eff.sequence()}

	var err error
	if w.r.IntN(3) == 0 {
		err = errors.New("random failure")
	}

	switch e := eff.(type) {
	case checkDataDir:
		return dataDirChecked{
			seqNum: n, exists: w.r.IntN(4) == 0, err: err,
		}

	case enumerateDevices:
		return devicesEnumerated{
			seqNum: n, devices: w.devices[:w.r.IntN(3)], err: err,
		}

	case importKey:
		key := w.owner
		if e.role == descriptor.RoleHeir {
			key = w.heir
		}

		return keyImported{seqNum: n, role: e.role, key: key, err: err}

	case registerDescriptor:
		return descriptorRegistered{
			seqNum:      n,
			fingerprint: e.fingerprint,
			attestation: hw.Attestation{Descriptor: e.desc.String()},
			err:         err,
		}

	case checkBitcoind:
		return bitcoindChecked{seqNum: n, err: err}

	default:
		return configWritten{seqNum: n, path: "/data/x.conf", err: err}
	}
}

// TestRandomTracesNeverStick drives the state machine with random intents
// and outcomes and checks that processing always clears and that guarded
// steps are only reached with their guard holding.
func TestRandomTracesNeverStick(t *testing.T) {
	t.Parallel()

	owner, heir := testXPub(t, 1), testXPub(t, 2)
	w := &randomWalk{
		r: rand.New(rand.NewPCG(1, 2)),
		texts: map[Field][]string{
			FieldOwnerKey:        {owner, heir, "xpub-garbage", ""},
			FieldHeirKey:         {heir, owner, ""},
			FieldTimelock:        {"144", "0", "65536", "1"},
			FieldImported:        {testDescriptor(t).String(), "wsh()"},
			FieldBitcoindAddress: {"127.0.0.1:18443", "nowhere"},
			FieldCookiePath:      {"/cookie", ""},
		},
		owner:   testAccountKey(t, 1),
		heir:    testAccountKey(t, 2),
		devices: []hw.Device{testDevice(1), testDevice(2)},
	}

	s, effects := newState(testNet)
	reached := make(map[Step]bool)

	for i := 0; i < 5000; i++ {
		// Every effect completes before the next intent.
		for _, eff := range effects {
			if _, ok := eff.(finish); ok {
				continue
			}

			var err error
			s, _, err = transition(s, w.completion(eff))
			require.NoError(t, err)
		}
		require.False(t, s.processing, "iteration %d", i)

		if s.finished {
			s, effects = newState(testNet)
			continue
		}

		in := w.intent()
		next, more, err := transition(s, in)
		require.NotErrorIs(t, err, ErrInvariant)
		require.NotErrorIs(t, err, ErrProcessing)

		if err != nil {
			require.Equal(t, s, next)
		}
		require.LessOrEqual(t, len(more), 1)

		s, effects = next, more
		reached[s.step] = true

		if s.step >= StepRegisterDescriptor && s.step <= StepInstall {
			require.NotNil(t, s.desc, "iteration %d on %v", i, s.step)
		}
	}

	// The walk covers the whole wizard.
	for st := StepWelcome; st <= StepDone; st++ {
		require.True(t, reached[st], "step %v never reached", st)
	}
}

// TestSnapshotKeysAreCopies checks that writing through the keys of a
// snapshot does not change the state it was taken from.
func TestSnapshotKeysAreCopies(t *testing.T) {
	t.Parallel()

	// Arrange.
	s := registerState(t, testDevice(1))
	snap := s.snapshot()
	heirXPub := snap.Heir.Key.XPub

	// Act.
	snap.Owner.Key.XPub = heirXPub
	snap.Descriptor.Owner().XPub = heirXPub

	// Assert.
	again := s.snapshot()
	require.Equal(t, snap.Address, again.Address)
	require.NotEqual(t, heirXPub.String(), again.Owner.Key.XPub.String())
	require.NotEqual(
		t, heirXPub.String(), again.Descriptor.Owner().XPub.String(),
	)
}
