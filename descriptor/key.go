package descriptor

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

var (
	// ErrKeyEncoding is returned when a key is not a valid base58check
	// encoded BIP-32 extended key.
	ErrKeyEncoding = errors.New("invalid extended key encoding")

	// ErrKeyPrivate is returned when an extended key carries private key
	// material.
	ErrKeyPrivate = errors.New("extended key must not contain private " +
		"material")

	// ErrKeyNetwork is returned when the key's version bytes belong to a
	// different network than the one being installed.
	ErrKeyNetwork = errors.New("extended key is for another network")

	// ErrKeyVersion is returned when the key's version bytes are not the
	// standard xpub/tpub versions.
	ErrKeyVersion = errors.New("unsupported extended key version")

	// ErrKeyOrigin is returned when the key origin (the bracketed
	// fingerprint and path) is malformed.
	ErrKeyOrigin = errors.New("invalid key origin")

	// ErrKeyDerivation is returned when the derivation suffix after the key
	// is anything other than the multipath receive/change wildcard.
	ErrKeyDerivation = errors.New("unsupported key derivation suffix")
)

const (
	// multipathSuffix is the only derivation suffix supported after an
	// extended key: receive (0) and change (1) branches, unhardened
	// wildcard index.
	multipathSuffix = "/<0;1>/*"

	// fingerprintLen is the size of a BIP-32 fingerprint in bytes.
	fingerprintLen = 4
)

// Fingerprint is the first four bytes of the HASH160 of a public key. It is
// used as a short and stable identifier of master keys and signing devices.
type Fingerprint [fingerprintLen]byte

// String returns the lowercase hex encoding of the fingerprint.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Uint32 returns the fingerprint as a big endian integer, the representation
// btcd uses for parent fingerprints.
func (f Fingerprint) Uint32() uint32 {
	return binary.BigEndian.Uint32(f[:])
}

// ParseFingerprint decodes an eight character hex fingerprint.
func ParseFingerprint(s string) (Fingerprint, error) {
	var fp Fingerprint

	b, err := hex.DecodeString(s)
	if err != nil || len(b) != fingerprintLen {
		return fp, fmt.Errorf("invalid fingerprint %q", s)
	}

	copy(fp[:], b)

	return fp, nil
}

// FingerprintFromUint32 converts btcd's integer fingerprint representation.
func FingerprintFromUint32(v uint32) Fingerprint {
	var fp Fingerprint
	binary.BigEndian.PutUint32(fp[:], v)

	return fp
}

// KeyOrigin describes where an extended key was derived from: the
// fingerprint of the master key and the path from the master to the key.
type KeyOrigin struct {
	// Fingerprint is the master key fingerprint.
	Fingerprint Fingerprint

	// Path is the derivation path from the master key. Hardened indexes
	// have hdkeychain.HardenedKeyStart added.
	Path []uint32
}

// String renders the origin without the surrounding brackets, e.g.
// "d34db33f/48'/1'/0'/2'".
func (o KeyOrigin) String() string {
	var b strings.Builder
	b.WriteString(o.Fingerprint.String())

	for _, idx := range o.Path {
		b.WriteByte('/')
		b.WriteString(formatPathIndex(idx))
	}

	return b.String()
}

// Key is a validated extended public key as it appears inside an
// inheritance descriptor.
type Key struct {
	// Origin is the optional key origin.
	Origin *KeyOrigin

	// XPub is the neutered extended key.
	XPub *hdkeychain.ExtendedKey

	fingerprint Fingerprint
}

// Fingerprint returns the fingerprint of the extended key itself, that is
// the first four bytes of HASH160 of its public key.
func (k *Key) Fingerprint() Fingerprint {
	return k.fingerprint
}

// MasterFingerprint returns the origin fingerprint if the key has an origin,
// or the key's own fingerprint otherwise.
func (k *Key) MasterFingerprint() Fingerprint {
	if k.Origin != nil {
		return k.Origin.Fingerprint
	}

	return k.fingerprint
}

// Clone returns a copy of the key that shares nothing mutable with k. The
// extended key itself is immutable and is shared.
func (k *Key) Clone() *Key {
	if k == nil {
		return nil
	}

	clone := *k
	if k.Origin != nil {
		origin := *k.Origin
		origin.Path = append([]uint32(nil), k.Origin.Path...)
		clone.Origin = &origin
	}

	return &clone
}

// String returns the canonical descriptor form of the key, including the
// origin and the multipath derivation suffix.
func (k *Key) String() string {
	var b strings.Builder
	if k.Origin != nil {
		b.WriteByte('[')
		b.WriteString(k.Origin.String())
		b.WriteByte(']')
	}

	b.WriteString(k.XPub.String())
	b.WriteString(multipathSuffix)

	return b.String()
}

// Equal returns true if both keys are the same extended key with the same
// origin.
func (k *Key) Equal(other *Key) bool {
	if k == nil || other == nil {
		return k == other
	}

	return k.String() == other.String()
}

// sameSigner returns true if both keys are controlled by the same signer:
// either they share their own fingerprint or they come from the same master
// key.
func (k *Key) sameSigner(other *Key) bool {
	if k.fingerprint == other.fingerprint {
		return true
	}

	return k.MasterFingerprint() == other.MasterFingerprint()
}

// Child derives the public key at change/index below the extended key,
// following the multipath derivation suffix.
func (k *Key) Child(change, index uint32) (*hdkeychain.ExtendedKey, error) {
	if change > 1 {
		return nil, fmt.Errorf("%w: branch %d", ErrKeyDerivation, change)
	}

	if index >= hdkeychain.HardenedKeyStart {
		return nil, fmt.Errorf("%w: hardened index %d",
			ErrKeyDerivation, index)
	}

	branch, err := k.XPub.Derive(change)
	if err != nil {
		return nil, err
	}

	return branch.Derive(index)
}

// NewKey wraps an extended public key, optionally with its origin, after
// validating it for the network.
func NewKey(xpub *hdkeychain.ExtendedKey, origin *KeyOrigin,
	net Network) (*Key, error) {

	if xpub.IsPrivate() {
		return nil, ErrKeyPrivate
	}

	err := checkVersion(xpub, net)
	if err != nil {
		return nil, err
	}

	pub, err := xpub.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyEncoding, err)
	}

	key := &Key{
		Origin: origin,
		XPub:   xpub,
	}
	copy(key.fingerprint[:], btcutil.Hash160(pub.SerializeCompressed()))

	return key, nil
}

// ParseKey parses a descriptor key expression for the given network. The
// accepted forms are a bare extended public key, an extended key preceded by
// a bracketed origin, and either of those followed by the "/<0;1>/*"
// derivation suffix.
func ParseKey(text string, net Network) (*Key, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty key", ErrKeyEncoding)
	}

	var (
		origin *KeyOrigin
		err    error
	)
	if strings.HasPrefix(text, "[") {
		end := strings.IndexByte(text, ']')
		if end < 0 {
			return nil, fmt.Errorf("%w: missing ']'", ErrKeyOrigin)
		}

		origin, err = parseOrigin(text[1:end])
		if err != nil {
			return nil, err
		}

		text = text[end+1:]
	}

	encoded := text
	if slash := strings.IndexByte(text, '/'); slash >= 0 {
		encoded = text[:slash]
		if text[slash:] != multipathSuffix {
			return nil, fmt.Errorf("%w: %q", ErrKeyDerivation,
				text[slash:])
		}
	}

	xpub, err := hdkeychain.NewKeyFromString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyEncoding, err)
	}

	return NewKey(xpub, origin, net)
}

// checkVersion makes sure the key's version bytes are the public key version
// of the network. Signet and regtest share the testnet version.
func checkVersion(xpub *hdkeychain.ExtendedKey, net Network) error {
	version := xpub.Version()

	want := net.Params().HDPublicKeyID
	if bytes.Equal(version, want[:]) {
		return nil
	}

	// Tell a key for the other network family apart from a key with a
	// non-standard version (e.g. SLIP-132 zpub/vpub).
	var other *chaincfg.Params
	if net.IsTest() {
		other = &chaincfg.MainNetParams
	} else {
		other = &chaincfg.TestNet3Params
	}

	if bytes.Equal(version, other.HDPublicKeyID[:]) {
		return fmt.Errorf("%w: expected a %s key", ErrKeyNetwork,
			prefixName(net))
	}

	return fmt.Errorf("%w: %x", ErrKeyVersion, version)
}

// prefixName returns the human readable key prefix of the network.
func prefixName(net Network) string {
	if net.IsTest() {
		return "tpub"
	}

	return "xpub"
}

// parseOrigin parses the content of a bracketed key origin.
func parseOrigin(s string) (*KeyOrigin, error) {
	parts := strings.Split(s, "/")

	fp, err := ParseFingerprint(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyOrigin, err)
	}

	origin := &KeyOrigin{
		Fingerprint: fp,
		Path:        make([]uint32, 0, len(parts)-1),
	}
	for _, part := range parts[1:] {
		idx, err := parsePathIndex(part)
		if err != nil {
			return nil, err
		}

		origin.Path = append(origin.Path, idx)
	}

	return origin, nil
}

// ParsePath parses a derivation path such as "m/48'/1'/0'/2'". The leading
// "m/" is optional.
func ParsePath(s string) ([]uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "m"), "/")
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, "/")
	path := make([]uint32, 0, len(parts))

	for _, part := range parts {
		idx, err := parsePathIndex(part)
		if err != nil {
			return nil, err
		}

		path = append(path, idx)
	}

	return path, nil
}

// FormatPath renders a derivation path with a leading "m".
func FormatPath(path []uint32) string {
	var b strings.Builder
	b.WriteByte('m')

	for _, idx := range path {
		b.WriteByte('/')
		b.WriteString(formatPathIndex(idx))
	}

	return b.String()
}

// parsePathIndex parses one path element. Hardened elements may be marked
// with ', h or H.
func parsePathIndex(s string) (uint32, error) {
	hardened := false
	if n := len(s); n > 0 && (s[n-1] == '\'' || s[n-1] == 'h' ||
		s[n-1] == 'H') {

		hardened = true
		s = s[:n-1]
	}

	idx, err := strconv.ParseUint(s, 10, 32)
	if err != nil || idx >= hdkeychain.HardenedKeyStart {
		return 0, fmt.Errorf("%w: bad path element %q", ErrKeyOrigin, s)
	}

	if hardened {
		idx += hdkeychain.HardenedKeyStart
	}

	return uint32(idx), nil
}

// formatPathIndex renders one path element, marking hardened elements with
// an apostrophe.
func formatPathIndex(idx uint32) string {
	if idx >= hdkeychain.HardenedKeyStart {
		return strconv.FormatUint(
			uint64(idx-hdkeychain.HardenedKeyStart), 10,
		) + "'"
	}

	return strconv.FormatUint(uint64(idx), 10)
}

// AccountPath returns the BIP-48 P2WSH account path m/48'/coin'/account'/2'
// the hardware devices are asked for.
func AccountPath(net Network, account uint32) []uint32 {
	return []uint32{
		hdkeychain.HardenedKeyStart + 48,
		hdkeychain.HardenedKeyStart + net.CoinType(),
		hdkeychain.HardenedKeyStart + account,
		hdkeychain.HardenedKeyStart + 2,
	}
}
