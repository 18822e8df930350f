// Copyright (c) 2025 The heirwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrSameKey is returned when the owner and heir keys belong to the same
	// signer, which would defeat the inheritance policy.
	ErrSameKey = errors.New("owner and heir keys must be different")

	// ErrDescriptorSyntax is returned when an imported descriptor is not an
	// inheritance descriptor.
	ErrDescriptorSyntax = errors.New("invalid descriptor")

	// ErrDescriptorNetwork is returned when an imported descriptor uses
	// keys of another network.
	ErrDescriptorNetwork = errors.New("descriptor is for another network")
)

// Field names the user input a validation error belongs to.
type Field uint8

const (
	// FieldOwnerKey is the owner's extended public key.
	FieldOwnerKey Field = iota

	// FieldHeirKey is the heir's extended public key.
	FieldHeirKey

	// FieldTimelock is the relative timelock in blocks.
	FieldTimelock

	// FieldImported is the imported descriptor text.
	FieldImported
)

// String returns the name of the field.
func (f Field) String() string {
	switch f {
	case FieldOwnerKey:
		return "owner key"

	case FieldHeirKey:
		return "heir key"

	case FieldTimelock:
		return "timelock"

	case FieldImported:
		return "descriptor"

	default:
		return "unknown field"
	}
}

// FieldError attributes a validation error to one input field.
type FieldError struct {
	Field Field
	Err   error
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return fmt.Sprintf("%v: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *FieldError) Unwrap() error {
	return e.Err
}

// FieldErrors extracts every FieldError contained in err, which may be a
// single error or the result of errors.Join.
func FieldErrors(err error) []*FieldError {
	if err == nil {
		return nil
	}

	var fieldErrs []*FieldError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			fieldErrs = append(fieldErrs, FieldErrors(e)...)
		}

		return fieldErrs
	}

	var fe *FieldError
	if errors.As(err, &fe) {
		fieldErrs = append(fieldErrs, fe)
	}

	return fieldErrs
}

// Origin tells whether a descriptor was built from keys and a timelock or
// imported as a whole.
type Origin uint8

const (
	// OriginDerived marks a descriptor built by Validate.
	OriginDerived Origin = iota

	// OriginImported marks a descriptor accepted by ParseImported.
	OriginImported
)

// String returns the name of the origin.
func (o Origin) String() string {
	switch o {
	case OriginDerived:
		return "derived"

	case OriginImported:
		return "imported"

	default:
		return "unknown origin"
	}
}

// Role is a spending party of the inheritance policy.
type Role uint8

const (
	// RoleOwner can spend at any time.
	RoleOwner Role = iota

	// RoleHeir can spend once the coins have enough confirmations.
	RoleHeir
)

// String returns the name of the role.
func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"

	case RoleHeir:
		return "heir"

	default:
		return "unknown role"
	}
}

// Descriptor is a validated inheritance descriptor. The owner can spend at
// any time. The heir can spend alone once the funding output has Timelock
// confirmations, while the owner keeps the ability to spend.
//
// A Descriptor is immutable once built.
type Descriptor struct {
	origin   Origin
	network  Network
	owner    *Key
	heir     *Key
	timelock uint16

	// canonical is the rendered descriptor including its checksum.
	canonical string
}

// Validate builds the inheritance descriptor from the raw owner key, heir
// key and timelock inputs. All field errors are reported at once, each
// wrapped in a FieldError.
func Validate(ownerText, heirText, timelockText string,
	net Network) (*Descriptor, error) {

	var errs []error

	owner, err := ParseKey(ownerText, net)
	if err != nil {
		errs = append(errs, &FieldError{Field: FieldOwnerKey, Err: err})
	}

	heir, err := ParseKey(heirText, net)
	if err != nil {
		errs = append(errs, &FieldError{Field: FieldHeirKey, Err: err})
	}

	timelock, err := ParseTimelock(timelockText)
	if err != nil {
		errs = append(errs, &FieldError{Field: FieldTimelock, Err: err})
	}

	if owner != nil && heir != nil && owner.sameSigner(heir) {
		errs = append(errs, &FieldError{Field: FieldHeirKey,
			Err: ErrSameKey})
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	desc, err := newDescriptor(OriginDerived, net, owner, heir, timelock)
	if err != nil {
		return nil, err
	}

	log.Debugf("Built %v descriptor on %v with timelock=%d: %v",
		desc.origin, net, timelock, desc)

	return desc, nil
}

// newDescriptor assembles the descriptor and renders its canonical form.
func newDescriptor(origin Origin, net Network, owner, heir *Key,
	timelock uint16) (*Descriptor, error) {

	body := fmt.Sprintf("wsh(or_d(pk(%s),and_v(v:pkh(%s),older(%d))))",
		owner, heir, timelock)

	canonical, err := AddChecksum(body)
	if err != nil {
		return nil, err
	}

	return &Descriptor{
		origin:    origin,
		network:   net,
		owner:     owner,
		heir:      heir,
		timelock:  timelock,
		canonical: canonical,
	}, nil
}

// ParseImported parses an inheritance descriptor string for the network. A
// trailing checksum is optional but verified when present. Only the
// inheritance template produced by Validate is accepted, with both keys
// ranged over "/<0;1>/*". The descriptor keeps the text as written, hardened
// markers included; only a missing checksum is added.
func ParseImported(text string, net Network) (*Descriptor, error) {
	text = strings.TrimSpace(text)

	body, _, err := SplitChecksum(text)
	if err != nil {
		return nil, err
	}

	if strings.ContainsAny(body, " \t\r\n") {
		return nil, fmt.Errorf("%w: unexpected whitespace",
			ErrDescriptorSyntax)
	}

	ownerText, heirText, timelockText, err := splitTemplate(body)
	if err != nil {
		return nil, err
	}

	for _, keyText := range []string{ownerText, heirText} {
		if !strings.HasSuffix(keyText, multipathSuffix) {
			return nil, fmt.Errorf("%w: key %q is not ranged over %s",
				ErrDescriptorSyntax, keyText, multipathSuffix)
		}
	}

	owner, err := ParseKey(ownerText, net)
	if err != nil {
		return nil, importedKeyError(err)
	}

	heir, err := ParseKey(heirText, net)
	if err != nil {
		return nil, importedKeyError(err)
	}

	if owner.sameSigner(heir) {
		return nil, ErrSameKey
	}

	timelock, err := ParseTimelock(timelockText)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDescriptorSyntax, err)
	}
	if strconv.FormatUint(uint64(timelock), 10) != timelockText {
		return nil, fmt.Errorf("%w: non canonical timelock %q",
			ErrDescriptorSyntax, timelockText)
	}

	desc, err := newDescriptor(OriginImported, net, owner, heir, timelock)
	if err != nil {
		return nil, err
	}

	desc.canonical, err = AddChecksum(body)
	if err != nil {
		return nil, err
	}

	log.Debugf("Accepted imported descriptor on %v: %v", net, desc)

	return desc, nil
}

// importedKeyError classifies a key error found inside an imported
// descriptor.
func importedKeyError(err error) error {
	if errors.Is(err, ErrKeyNetwork) {
		return fmt.Errorf("%w: %v", ErrDescriptorNetwork, err)
	}

	return fmt.Errorf("%w: %v", ErrDescriptorSyntax, err)
}

// splitTemplate matches the inheritance template and returns the owner key,
// heir key and timelock expressions.
func splitTemplate(body string) (string, string, string, error) {
	const (
		prefix   = "wsh(or_d(pk("
		heirPart = "),and_v(v:pkh("
		lockPart = "),older("
		suffix   = "))))"
	)

	rest, ok := strings.CutPrefix(body, prefix)
	if !ok {
		return "", "", "", fmt.Errorf("%w: expected %q prefix",
			ErrDescriptorSyntax, prefix)
	}

	rest, ok = strings.CutSuffix(rest, suffix)
	if !ok {
		return "", "", "", fmt.Errorf("%w: unbalanced or unexpected "+
			"closing", ErrDescriptorSyntax)
	}

	owner, rest, ok := strings.Cut(rest, heirPart)
	if !ok {
		return "", "", "", fmt.Errorf("%w: missing heir branch",
			ErrDescriptorSyntax)
	}

	heir, timelock, ok := strings.Cut(rest, lockPart)
	if !ok {
		return "", "", "", fmt.Errorf("%w: missing timelock",
			ErrDescriptorSyntax)
	}

	return owner, heir, timelock, nil
}

// String returns the descriptor text including its checksum. Imported
// descriptors are returned as they were written.
func (d *Descriptor) String() string {
	return d.canonical
}

// Origin returns whether the descriptor was derived or imported.
func (d *Descriptor) Origin() Origin {
	return d.origin
}

// Network returns the network the descriptor's keys belong to.
func (d *Descriptor) Network() Network {
	return d.network
}

// Owner returns a copy of the owner's key.
func (d *Descriptor) Owner() *Key {
	return d.owner.Clone()
}

// Heir returns a copy of the heir's key.
func (d *Descriptor) Heir() *Key {
	return d.heir.Clone()
}

// Timelock returns the number of confirmations the heir has to wait for.
func (d *Descriptor) Timelock() uint16 {
	return d.timelock
}

// Equal returns true if both descriptors lock coins the same way on the same
// network, regardless of how they were obtained.
func (d *Descriptor) Equal(other *Descriptor) bool {
	if d == nil || other == nil {
		return d == other
	}

	return d.network == other.network && d.canonical == other.canonical
}

// CanSpend reports whether the role can spend an output locked by the
// descriptor once the output has the given number of confirmations.
func (d *Descriptor) CanSpend(role Role, confirmations uint32) bool {
	switch role {
	case RoleOwner:
		return true

	case RoleHeir:
		return confirmations >= uint32(d.timelock)

	default:
		return false
	}
}
