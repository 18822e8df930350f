package installer

import (
	"github.com/heirwallet/installer/daemoncfg"
	"github.com/heirwallet/installer/descriptor"
	"github.com/heirwallet/installer/hw"
)

// event is anything the state machine reacts to: a user intent or the
// completion of an effect.
type event interface {
	isEvent()
}

// Intent is a request from the user. Intents are sent with Installer.Send.
type Intent interface {
	event
	isIntent()
}

// Next moves to the next step once the current step's guard holds.
type Next struct{}

// Previous moves back one step.
type Previous struct{}

// SelectNetwork chooses the network on the welcome step.
type SelectNetwork struct {
	Network descriptor.Network
}

// SetInputMode chooses between a derived and an imported descriptor.
type SetInputMode struct {
	Mode InputMode
}

// FieldEdited replaces the raw text of a field.
type FieldEdited struct {
	Field Field
	Text  string
}

// SelectDevice picks a device by its position in the snapshot's device
// list.
type SelectDevice struct {
	Index int
}

// ImportHWKey opens the device picker to fill the owner or heir key from a
// signing device.
type ImportHWKey struct {
	Heir bool
}

// Reload enumerates devices again, or checks the data directory again on the
// welcome step.
type Reload struct{}

// Install writes the daemon configuration.
type Install struct{}

// Exit ends the installer once the configuration is written. An empty Path
// accepts the written path.
type Exit struct {
	Path string
}

// Close closes the device picker.
type Close struct{}

func (Next) isEvent()          {}
func (Previous) isEvent()      {}
func (SelectNetwork) isEvent() {}
func (SetInputMode) isEvent()  {}
func (FieldEdited) isEvent()   {}
func (SelectDevice) isEvent()  {}
func (ImportHWKey) isEvent()   {}
func (Reload) isEvent()        {}
func (Install) isEvent()       {}
func (Exit) isEvent()          {}
func (Close) isEvent()         {}

func (Next) isIntent()          {}
func (Previous) isIntent()      {}
func (SelectNetwork) isIntent() {}
func (SetInputMode) isIntent()  {}
func (FieldEdited) isIntent()   {}
func (SelectDevice) isIntent()  {}
func (ImportHWKey) isIntent()   {}
func (Reload) isIntent()        {}
func (Install) isIntent()       {}
func (Exit) isIntent()          {}
func (Close) isIntent()         {}

// seqNum tags an effect and its completion. Only the completion of the
// pending effect is applied.
type seqNum struct {
	seq uint64
}

// sequence returns the sequence number.
func (s seqNum) sequence() uint64 {
	return s.seq
}

// completion is the result of an effect fed back into the state machine.
type completion interface {
	event
	sequence() uint64
}

type dataDirChecked struct {
	seqNum
	exists bool
	err    error
}

type devicesEnumerated struct {
	seqNum
	devices []hw.Device
	err     error
}

type keyImported struct {
	seqNum
	role descriptor.Role
	key  *descriptor.Key
	err  error
}

type descriptorRegistered struct {
	seqNum
	fingerprint descriptor.Fingerprint
	attestation hw.Attestation
	err         error
}

type bitcoindChecked struct {
	seqNum
	err error
}

type configWritten struct {
	seqNum
	path string
	err  error
}

func (dataDirChecked) isEvent()       {}
func (devicesEnumerated) isEvent()    {}
func (keyImported) isEvent()          {}
func (descriptorRegistered) isEvent() {}
func (bitcoindChecked) isEvent()      {}
func (configWritten) isEvent()        {}

// effect is work requested by a transition. Effects other than finish run
// asynchronously and report back with a completion carrying the same
// sequence number.
type effect interface {
	sequence() uint64
}

type checkDataDir struct {
	seqNum
	network descriptor.Network
}

type enumerateDevices struct {
	seqNum
}

type importKey struct {
	seqNum
	fingerprint descriptor.Fingerprint
	network     descriptor.Network
	role        descriptor.Role
}

type registerDescriptor struct {
	seqNum
	fingerprint descriptor.Fingerprint
	desc        *descriptor.Descriptor
}

type checkBitcoind struct {
	seqNum
	network    descriptor.Network
	address    string
	cookiePath string
}

// writeConfig carries the request without its root, which the runtime
// fills in.
type writeConfig struct {
	seqNum
	request daemoncfg.Request
}

// finish ends the installer with the written configuration path. It
// completes synchronously.
type finish struct {
	seqNum
	path string
}
