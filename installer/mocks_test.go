package installer

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/heirwallet/installer/daemoncfg"
	"github.com/heirwallet/installer/descriptor"
	"github.com/heirwallet/installer/hw"
	"github.com/heirwallet/installer/testutil/wait"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// testNet is the network used throughout the tests.
const testNet = descriptor.NetworkRegtest

// mockRegistry is a mock implementation of DeviceRegistry.
type mockRegistry struct {
	mock.Mock
}

// Enumerate implements DeviceRegistry.
func (m *mockRegistry) Enumerate(ctx context.Context) ([]hw.Device, error) {
	args := m.Called(ctx)
	devices, _ := args.Get(0).([]hw.Device)

	return devices, args.Error(1)
}

// Register implements DeviceRegistry.
func (m *mockRegistry) Register(ctx context.Context, fp descriptor.Fingerprint,
	desc *descriptor.Descriptor) <-chan fn.Result[hw.Attestation] {

	args := m.Called(ctx, fp, desc)

	return args.Get(0).(<-chan fn.Result[hw.Attestation])
}

// ImportKey implements DeviceRegistry.
func (m *mockRegistry) ImportKey(ctx context.Context, fp descriptor.Fingerprint,
	net descriptor.Network) <-chan fn.Result[*descriptor.Key] {

	args := m.Called(ctx, fp, net)

	return args.Get(0).(<-chan fn.Result[*descriptor.Key])
}

// mockChecker is a mock implementation of BitcoindChecker.
type mockChecker struct {
	mock.Mock
}

// CheckNetwork implements BitcoindChecker.
func (m *mockChecker) CheckNetwork(ctx context.Context, net descriptor.Network,
	address, cookiePath string) error {

	args := m.Called(ctx, net, address, cookiePath)

	return args.Error(0)
}

// mockWriter is a mock implementation of ConfigWriter.
type mockWriter struct {
	mock.Mock
}

// Write implements ConfigWriter.
func (m *mockWriter) Write(ctx context.Context,
	req daemoncfg.Request) (string, error) {

	args := m.Called(ctx, req)

	return args.String(0), args.Error(1)
}

// resultChan returns a channel holding the result.
func resultChan[T any](res fn.Result[T]) <-chan fn.Result[T] {
	ch := make(chan fn.Result[T], 1)
	ch <- res

	return ch
}

// testAccountKey derives a BIP-48 account key from a repeated seed byte.
func testAccountKey(t *testing.T, seedByte byte) *descriptor.Key {
	t.Helper()

	seed := bytes.Repeat([]byte{seedByte}, hdkeychain.RecommendedSeedLen)
	master, err := hdkeychain.NewMaster(seed, testNet.Params())
	require.NoError(t, err)

	path := descriptor.AccountPath(testNet, 0)
	child := master
	for _, idx := range path {
		child, err = child.Derive(idx)
		require.NoError(t, err)
	}

	pub, err := child.Neuter()
	require.NoError(t, err)

	masterPub, err := master.Neuter()
	require.NoError(t, err)
	masterKey, err := descriptor.NewKey(masterPub, nil, testNet)
	require.NoError(t, err)

	key, err := descriptor.NewKey(pub, &descriptor.KeyOrigin{
		Fingerprint: masterKey.Fingerprint(),
		Path:        path,
	}, testNet)
	require.NoError(t, err)

	return key
}

// testXPub returns the bare account xpub for a seed byte.
func testXPub(t *testing.T, seedByte byte) string {
	t.Helper()

	return testAccountKey(t, seedByte).XPub.String()
}

// testDevice returns a device whose fingerprint repeats b.
func testDevice(b byte) hw.Device {
	return hw.Device{
		Kind:        hw.KindLedger,
		Model:       "ledger_nano_x",
		Path:        "1-1:1.0",
		Fingerprint: descriptor.Fingerprint{b, b, b, b},
	}
}

// testDescriptor builds the descriptor the wizard derives from seeds 1 and
// 2 with a 144 block timelock.
func testDescriptor(t *testing.T) *descriptor.Descriptor {
	t.Helper()

	desc, err := descriptor.Validate(
		testXPub(t, 1), testXPub(t, 2), "144", testNet,
	)
	require.NoError(t, err)

	return desc
}

// testHarness bundles an installer with its mocked collaborators.
type testHarness struct {
	t        *testing.T
	inst     *Installer
	registry *mockRegistry
	checker  *mockChecker
	writer   *mockWriter
	root     string
}

// newHarness starts an installer on regtest with no existing wallet.
func newHarness(t *testing.T) *testHarness {
	t.Helper()

	h := &testHarness{
		t:        t,
		registry: &mockRegistry{},
		checker:  &mockChecker{},
		writer:   &mockWriter{},
		root:     t.TempDir(),
	}

	inst, err := New(Config{
		Root:     h.root,
		Network:  testNet,
		Devices:  h.registry,
		Bitcoind: h.checker,
		Writer:   h.writer,
		DataDirExists: func(string, descriptor.Network) (bool, error) {
			return false, nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, inst.Start(context.Background()))
	t.Cleanup(func() {
		_ = inst.Stop(context.Background())
	})

	h.inst = inst
	h.waitIdle()

	return h
}

// send sends an intent and requires it to be accepted.
func (h *testHarness) send(in Intent) {
	h.t.Helper()

	require.NoError(h.t, h.inst.Send(context.Background(), in))
}

// waitIdle waits until no operation is in flight.
func (h *testHarness) waitIdle() Snapshot {
	h.t.Helper()

	err := wait.Predicate(func() bool {
		return !h.inst.Snapshot().Processing
	}, 5*time.Second)
	require.NoError(h.t, err)

	return h.inst.Snapshot()
}

// toRegister fills the descriptor step and moves to the register step with
// the given devices connected.
func (h *testHarness) toRegister(devices ...hw.Device) Snapshot {
	h.t.Helper()

	h.registry.On("Enumerate", mock.Anything).Return(devices, nil).Once()

	h.send(Next{})
	h.send(FieldEdited{Field: FieldOwnerKey, Text: testXPub(h.t, 1)})
	h.send(FieldEdited{Field: FieldHeirKey, Text: testXPub(h.t, 2)})
	h.send(FieldEdited{Field: FieldTimelock, Text: "144"})
	h.send(Next{})

	snap := h.waitIdle()
	require.Equal(h.t, StepRegisterDescriptor, snap.Step)

	return snap
}

// toInstall continues from the register step to the install step.
func (h *testHarness) toInstall() Snapshot {
	h.t.Helper()

	h.checker.On(
		"CheckNetwork", mock.Anything, testNet, "127.0.0.1:18443",
		"/run/bitcoind/.cookie",
	).Return(nil).Once()

	h.send(Next{})
	h.send(FieldEdited{Field: FieldBitcoindAddress, Text: "127.0.0.1:18443"})
	h.send(FieldEdited{Field: FieldCookiePath, Text: "/run/bitcoind/.cookie"})
	h.send(Next{})

	snap := h.waitIdle()
	require.NoError(h.t, snap.LastError)
	require.Equal(h.t, StepInstall, snap.Step)

	return snap
}

// receive reads a value from ch or fails after a timeout.
func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v

	case <-time.After(5 * time.Second):
		require.FailNow(t, "timeout waiting for value")

		var zero T

		return zero
	}
}
