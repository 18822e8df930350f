package hw

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/heirwallet/installer/descriptor"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// resultTimeout bounds how long tests wait for an asynchronous result.
const resultTimeout = 5 * time.Second

var _ Driver = (*mockDriver)(nil)

// mockDriver is a mock implementation of the Driver interface.
type mockDriver struct {
	mock.Mock
}

func (m *mockDriver) Enumerate(ctx context.Context) ([]Candidate, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]Candidate), args.Error(1)
}

func (m *mockDriver) Probe(ctx context.Context, c Candidate) (Device, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(Device), args.Error(1)
}

func (m *mockDriver) GetXPub(ctx context.Context, dev Device,
	net descriptor.Network, path []uint32) (*hdkeychain.ExtendedKey, error) {

	args := m.Called(ctx, dev, net, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*hdkeychain.ExtendedKey), args.Error(1)
}

func (m *mockDriver) RegisterDescriptor(ctx context.Context, dev Device,
	net descriptor.Network, name, desc string) ([]byte, error) {

	args := m.Called(ctx, dev, net, name, desc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]byte), args.Error(1)
}

// waitForCtx is a mock Run function blocking until the call's context
// expires.
func waitForCtx(args mock.Arguments) {
	<-args.Get(0).(context.Context).Done()
}

// testFingerprint returns a fingerprint made of the byte repeated.
func testFingerprint(b byte) descriptor.Fingerprint {
	return descriptor.Fingerprint{b, b, b, b}
}

// testCandidate returns a candidate whose path is derived from b.
func testCandidate(b byte) Candidate {
	return Candidate{
		Kind: KindLedger,
		Path: fmt.Sprintf("/dev/hidraw%d", b),
	}
}

// testDevice returns the device a probe of testCandidate(b) yields.
func testDevice(b byte) Device {
	c := testCandidate(b)

	return Device{
		Kind:        c.Kind,
		Path:        c.Path,
		Fingerprint: testFingerprint(b),
	}
}

// testAccountKey derives the neutered BIP-48 account key of a signer whose
// seed is the byte repeated.
func testAccountKey(t *testing.T, seedByte byte,
	net descriptor.Network) *hdkeychain.ExtendedKey {

	t.Helper()

	seed := bytes.Repeat([]byte{seedByte}, hdkeychain.RecommendedSeedLen)
	key, err := hdkeychain.NewMaster(seed, net.Params())
	require.NoError(t, err)

	for _, idx := range descriptor.AccountPath(net, 0) {
		key, err = key.Derive(idx)
		require.NoError(t, err)
	}

	pub, err := key.Neuter()
	require.NoError(t, err)

	return pub
}

// testDescriptor builds a regtest inheritance descriptor.
func testDescriptor(t *testing.T) *descriptor.Descriptor {
	t.Helper()

	net := descriptor.NetworkRegtest
	desc, err := descriptor.Validate(
		testAccountKey(t, 0x01, net).String(),
		testAccountKey(t, 0x02, net).String(), "144", net,
	)
	require.NoError(t, err)

	return desc
}

// receive waits for the single result of an asynchronous registry call.
func receive[T any](t *testing.T, c <-chan fn.Result[T]) (T, error) {
	t.Helper()

	select {
	case res := <-c:
		return res.Unpack()

	case <-time.After(resultTimeout):
		require.FailNow(t, "no result received")

		var zero T
		return zero, nil
	}
}
