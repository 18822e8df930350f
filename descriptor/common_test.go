package descriptor

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/stretchr/testify/require"
)

// testSigner is a BIP-32 signer generated from a fixed seed, used to produce
// account keys and signatures in tests.
type testSigner struct {
	master  *hdkeychain.ExtendedKey
	account *hdkeychain.ExtendedKey
	origin  KeyOrigin
}

// newTestSigner creates a signer whose seed is the given byte repeated. The
// account key is derived at m/48'/coin'/0'/2' for the network.
func newTestSigner(t *testing.T, seedByte byte, net Network) *testSigner {
	t.Helper()

	seed := bytes.Repeat([]byte{seedByte}, hdkeychain.RecommendedSeedLen)

	master, err := hdkeychain.NewMaster(seed, net.Params())
	require.NoError(t, err)

	path := AccountPath(net, 0)

	account := master
	for _, idx := range path {
		account, err = account.Derive(idx)
		require.NoError(t, err)
	}

	masterPub, err := master.ECPubKey()
	require.NoError(t, err)

	var fp Fingerprint
	copy(fp[:], btcutil.Hash160(masterPub.SerializeCompressed()))

	return &testSigner{
		master:  master,
		account: account,
		origin: KeyOrigin{
			Fingerprint: fp,
			Path:        path,
		},
	}
}

// xpub returns the bare account extended public key.
func (s *testSigner) xpub(t *testing.T) string {
	t.Helper()

	pub, err := s.account.Neuter()
	require.NoError(t, err)

	return pub.String()
}

// keyExpr returns the account key with its origin and derivation suffix.
func (s *testSigner) keyExpr(t *testing.T) string {
	t.Helper()

	return "[" + s.origin.String() + "]" + s.xpub(t) + "/<0;1>/*"
}

// childPriv returns the private key at change/index below the account.
func (s *testSigner) childPriv(t *testing.T,
	change, index uint32) *hdkeychain.ExtendedKey {

	t.Helper()

	branch, err := s.account.Derive(change)
	require.NoError(t, err)

	child, err := branch.Derive(index)
	require.NoError(t, err)

	return child
}
