package installer

import (
	"fmt"
	"strings"

	"github.com/heirwallet/installer/descriptor"
)

// Validity is the outcome of validating a raw input.
type Validity uint8

const (
	// Unvalidated means the input changed since it was last validated.
	Unvalidated Validity = iota

	// Valid means the input passed validation.
	Valid

	// Invalid means the input failed validation. The reason is kept next
	// to the input.
	Invalid
)

// String returns the name of the validity.
func (v Validity) String() string {
	switch v {
	case Unvalidated:
		return "unvalidated"

	case Valid:
		return "valid"

	case Invalid:
		return "invalid"

	default:
		return fmt.Sprintf("validity(%d)", uint8(v))
	}
}

// Field names an editable text input.
type Field uint8

const (
	// FieldOwnerKey is the owner's extended public key.
	FieldOwnerKey Field = iota

	// FieldHeirKey is the heir's extended public key.
	FieldHeirKey

	// FieldTimelock is the heir's relative timelock in blocks.
	FieldTimelock

	// FieldImported is an imported descriptor string.
	FieldImported

	// FieldBitcoindAddress is the bitcoind RPC address.
	FieldBitcoindAddress

	// FieldCookiePath is the path of bitcoind's cookie file.
	FieldCookiePath
)

// fieldNames maps fields to the names accepted by ParseField.
var fieldNames = map[Field]string{
	FieldOwnerKey:        "owner",
	FieldHeirKey:         "heir",
	FieldTimelock:        "timelock",
	FieldImported:        "descriptor",
	FieldBitcoindAddress: "address",
	FieldCookiePath:      "cookie",
}

// String returns the short name of the field.
func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}

	return fmt.Sprintf("field(%d)", uint8(f))
}

// ParseField parses a field name as returned by String.
func ParseField(s string) (Field, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range fieldNames {
		if name == s {
			return f, nil
		}
	}

	return 0, fmt.Errorf("%w: unknown field %q", ErrInvalidIntent, s)
}

// isDescriptorField reports whether the field belongs to the descriptor
// step.
func (f Field) isDescriptorField() bool {
	switch f {
	case FieldOwnerKey, FieldHeirKey, FieldTimelock, FieldImported:
		return true

	default:
		return false
	}
}

// KeyInput is the raw text of a key field and its validation outcome.
type KeyInput struct {
	Text     string
	Validity Validity

	// Key is set when Validity is Valid.
	Key *descriptor.Key

	// Err is set when Validity is Invalid.
	Err error
}

// validateKey parses the key unless a validation error is already known
// for it.
func validateKey(text string, net descriptor.Network,
	fieldErr error) KeyInput {

	if fieldErr != nil {
		return KeyInput{Text: text, Validity: Invalid, Err: fieldErr}
	}

	key, err := descriptor.ParseKey(text, net)
	if err != nil {
		return KeyInput{Text: text, Validity: Invalid, Err: err}
	}

	return KeyInput{Text: text, Validity: Valid, Key: key}
}

// TimelockInput is the raw text of the timelock field and its validation
// outcome.
type TimelockInput struct {
	Text     string
	Validity Validity

	// Blocks is set when Validity is Valid.
	Blocks uint16

	// Err is set when Validity is Invalid.
	Err error
}

// validateTimelock parses the timelock unless a validation error is already
// known for it.
func validateTimelock(text string, fieldErr error) TimelockInput {
	if fieldErr != nil {
		return TimelockInput{Text: text, Validity: Invalid, Err: fieldErr}
	}

	blocks, err := descriptor.ParseTimelock(text)
	if err != nil {
		return TimelockInput{Text: text, Validity: Invalid, Err: err}
	}

	return TimelockInput{Text: text, Validity: Valid, Blocks: blocks}
}

// ImportedInput is the raw text of an imported descriptor and its validation
// outcome.
type ImportedInput struct {
	Text     string
	Validity Validity
	Err      error
}

// BitcoindInput holds the bitcoind connection settings. They are validated
// together when the user moves on.
type BitcoindInput struct {
	Address    string
	CookiePath string
	Validity   Validity
	Err        error
}
