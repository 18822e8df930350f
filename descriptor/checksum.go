package descriptor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDescriptorChecksum is returned when a descriptor checksum is
	// malformed or does not match the descriptor.
	ErrDescriptorChecksum = errors.New("invalid descriptor checksum")
)

const (
	// inputCharset is the set of characters a descriptor may contain. The
	// position of a character is its checksum symbol value.
	inputCharset = "0123456789()[],'/*abcdefgh@:$%{}" +
		"IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~" +
		"ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "

	// checksumCharset is the bech32 character set the eight checksum
	// characters are drawn from.
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

	// checksumLen is the number of checksum characters.
	checksumLen = 8
)

// checksumGenerator holds the BCH code generator constants.
var checksumGenerator = [5]uint64{
	0xf5dee51989, 0xa9fdca3312, 0x1bab10e32d, 0x3706b1677a, 0x644d626ffd,
}

// polymod feeds the symbols through the BCH code and returns the residue.
func polymod(symbols []uint64) uint64 {
	chk := uint64(1)
	for _, v := range symbols {
		top := chk >> 35
		chk = (chk&0x7ffffffff)<<5 ^ v

		for i := 0; i < 5; i++ {
			if (top>>i)&1 == 1 {
				chk ^= checksumGenerator[i]
			}
		}
	}

	return chk
}

// expand converts the descriptor characters into checksum symbols. Every
// character contributes its low five bits, and each group of three
// characters contributes one extra symbol built from their high bits.
func expand(s string) ([]uint64, error) {
	symbols := make([]uint64, 0, len(s)+len(s)/3+1)
	groups := make([]uint64, 0, 3)

	for i := 0; i < len(s); i++ {
		v := strings.IndexByte(inputCharset, s[i])
		if v < 0 {
			return nil, fmt.Errorf("%w: invalid character %q",
				ErrDescriptorSyntax, s[i])
		}

		symbols = append(symbols, uint64(v&31))
		groups = append(groups, uint64(v>>5))

		if len(groups) == 3 {
			symbols = append(
				symbols, groups[0]*9+groups[1]*3+groups[2],
			)
			groups = groups[:0]
		}
	}

	switch len(groups) {
	case 1:
		symbols = append(symbols, groups[0])

	case 2:
		symbols = append(symbols, groups[0]*3+groups[1])
	}

	return symbols, nil
}

// Checksum computes the eight character checksum of a descriptor without
// its "#" suffix.
func Checksum(desc string) (string, error) {
	symbols, err := expand(desc)
	if err != nil {
		return "", err
	}

	symbols = append(symbols, make([]uint64, checksumLen)...)
	c := polymod(symbols) ^ 1

	var b strings.Builder
	for i := 0; i < checksumLen; i++ {
		b.WriteByte(checksumCharset[(c>>(5*(7-i)))&31])
	}

	return b.String(), nil
}

// AddChecksum returns the descriptor followed by "#" and its checksum.
func AddChecksum(desc string) (string, error) {
	sum, err := Checksum(desc)
	if err != nil {
		return "", err
	}

	return desc + "#" + sum, nil
}

// SplitChecksum separates a descriptor from its checksum and verifies the
// checksum if one is present. The returned bool reports whether a checksum
// was present.
func SplitChecksum(s string) (string, bool, error) {
	hash := strings.LastIndexByte(s, '#')
	if hash < 0 {
		return s, false, nil
	}

	desc, sum := s[:hash], s[hash+1:]
	if len(sum) != checksumLen {
		return "", true, fmt.Errorf("%w: expected %d characters, got %d",
			ErrDescriptorChecksum, checksumLen, len(sum))
	}

	symbols, err := expand(desc)
	if err != nil {
		return "", true, err
	}

	for i := 0; i < len(sum); i++ {
		v := strings.IndexByte(checksumCharset, sum[i])
		if v < 0 {
			return "", true, fmt.Errorf("%w: invalid character %q",
				ErrDescriptorChecksum, sum[i])
		}

		symbols = append(symbols, uint64(v))
	}

	if polymod(symbols) != 1 {
		return "", true, fmt.Errorf("%w: mismatch",
			ErrDescriptorChecksum)
	}

	return desc, true, nil
}
