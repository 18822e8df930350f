package installer

import (
	"fmt"
	"strings"
)

// Step is a page of the install wizard. Steps are ordered and the wizard
// only moves one step at a time.
type Step uint8

const (
	// StepWelcome selects the network.
	StepWelcome Step = iota

	// StepDefineDescriptor collects the owner key, heir key and timelock,
	// or an imported descriptor.
	StepDefineDescriptor

	// StepRegisterDescriptor registers the descriptor on signing devices.
	StepRegisterDescriptor

	// StepDefineBitcoind collects the bitcoind connection settings.
	StepDefineBitcoind

	// StepInstall writes the daemon configuration.
	StepInstall

	// StepDone shows the written configuration.
	StepDone
)

// String returns the name of the step.
func (s Step) String() string {
	switch s {
	case StepWelcome:
		return "welcome"

	case StepDefineDescriptor:
		return "define descriptor"

	case StepRegisterDescriptor:
		return "register descriptor"

	case StepDefineBitcoind:
		return "define bitcoind"

	case StepInstall:
		return "install"

	case StepDone:
		return "done"

	default:
		return fmt.Sprintf("step(%d)", uint8(s))
	}
}

// InputMode selects how the descriptor is defined.
type InputMode uint8

const (
	// InputDerived builds the descriptor from an owner key, an heir key
	// and a timelock.
	InputDerived InputMode = iota

	// InputImported parses a descriptor string.
	InputImported
)

// String returns the name of the mode.
func (m InputMode) String() string {
	switch m {
	case InputDerived:
		return "derived"

	case InputImported:
		return "imported"

	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseInputMode parses a mode name as returned by String.
func ParseInputMode(s string) (InputMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "derived":
		return InputDerived, nil

	case "imported":
		return InputImported, nil

	default:
		return 0, fmt.Errorf("%w: unknown input mode %q",
			ErrInvalidIntent, s)
	}
}
