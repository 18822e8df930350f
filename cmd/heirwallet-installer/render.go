package main

import (
	"fmt"
	"strings"

	"github.com/heirwallet/installer/descriptor"
	"github.com/heirwallet/installer/installer"
)

// render returns the text shown for a snapshot. It only depends on the
// snapshot.
func render(snap installer.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "== %s (%v) ==\n", stepTitle(snap.Step), snap.Network)

	switch snap.Step {
	case installer.StepWelcome:
		renderWelcome(&b, snap)

	case installer.StepDefineDescriptor:
		if snap.KeyImport.IsSome() {
			renderPicker(&b, snap)
		} else {
			renderDefineDescriptor(&b, snap)
		}

	case installer.StepRegisterDescriptor:
		renderRegister(&b, snap)

	case installer.StepDefineBitcoind:
		fmt.Fprintf(&b, "  address: %s\n", snap.Bitcoind.Address)
		fmt.Fprintf(&b, "  cookie:  %s\n", snap.Bitcoind.CookiePath)
		b.WriteString("commands: set address <host:port>, " +
			"set cookie <path>, next, back\n")

	case installer.StepInstall:
		renderSummary(&b, snap)
		b.WriteString("commands: install, back\n")

	case installer.StepDone:
		fmt.Fprintf(&b, "Configuration written to %s\n", snap.ConfigPath)
		b.WriteString("commands: exit\n")
	}

	if snap.Processing {
		b.WriteString("working...\n")
	}
	if snap.LastError != nil {
		fmt.Fprintf(&b, "error: %v\n", snap.LastError)
	}

	return b.String()
}

func stepTitle(step installer.Step) string {
	switch step {
	case installer.StepWelcome:
		return "Welcome"

	case installer.StepDefineDescriptor:
		return "Define the wallet descriptor"

	case installer.StepRegisterDescriptor:
		return "Register the descriptor on your devices"

	case installer.StepDefineBitcoind:
		return "Connect to bitcoind"

	case installer.StepInstall:
		return "Install"

	case installer.StepDone:
		return "Done"

	default:
		return step.String()
	}
}

func renderWelcome(b *strings.Builder, snap installer.Snapshot) {
	if snap.DataDirExists {
		fmt.Fprintf(b, "A wallet is already installed for %v.\n",
			snap.Network)
	}

	names := make([]string, 0, len(descriptor.Networks))
	for _, net := range descriptor.Networks {
		names = append(names, net.String())
	}

	fmt.Fprintf(b, "commands: network <%s>, next\n",
		strings.Join(names, "|"))
}

func renderDefineDescriptor(b *strings.Builder, snap installer.Snapshot) {
	fmt.Fprintf(b, "  mode: %v\n", snap.Mode)

	if snap.Mode == installer.InputImported {
		fmt.Fprintf(b, "  descriptor: %s%s\n", snap.Imported.Text,
			validityMark(snap.Imported.Validity, snap.Imported.Err))
		b.WriteString("commands: set descriptor <text>, " +
			"mode derived, next, back\n")

		return
	}

	fmt.Fprintf(b, "  owner:    %s%s\n", snap.Owner.Text,
		validityMark(snap.Owner.Validity, snap.Owner.Err))
	fmt.Fprintf(b, "  heir:     %s%s\n", snap.Heir.Text,
		validityMark(snap.Heir.Validity, snap.Heir.Err))
	fmt.Fprintf(b, "  timelock: %s%s\n", snap.Timelock.Text,
		validityMark(snap.Timelock.Validity, snap.Timelock.Err))
	b.WriteString("commands: set owner|heir|timelock <text>, " +
		"import owner|heir, mode imported, next, back\n")
}

// validityMark returns the inline marker for a validated input.
func validityMark(v installer.Validity, err error) string {
	switch v {
	case installer.Valid:
		return " [ok]"

	case installer.Invalid:
		return fmt.Sprintf(" [invalid: %v]", err)

	default:
		return ""
	}
}

func renderPicker(b *strings.Builder, snap installer.Snapshot) {
	role := snap.KeyImport.UnwrapOr(descriptor.RoleOwner)
	fmt.Fprintf(b, "Import the %v key from a device:\n", role)

	renderDevices(b, snap)
	b.WriteString("commands: device <n>, reload, close\n")
}

func renderDevices(b *strings.Builder, snap installer.Snapshot) {
	if len(snap.Devices) == 0 {
		b.WriteString("  no device found\n")
		return
	}

	for i, dev := range snap.Devices {
		var marks []string
		if dev.Chosen {
			marks = append(marks, "selected")
		}
		if dev.Registered {
			marks = append(marks, "registered")
		}

		line := fmt.Sprintf("  %d) %v", i+1, dev.Device)
		if len(marks) > 0 {
			line += " [" + strings.Join(marks, ", ") + "]"
		}
		b.WriteString(line + "\n")
	}
}

func renderRegister(b *strings.Builder, snap installer.Snapshot) {
	renderDescriptor(b, snap)
	renderDevices(b, snap)
	b.WriteString("commands: device <n>, reload, next, back\n")
}

func renderDescriptor(b *strings.Builder, snap installer.Snapshot) {
	if snap.Descriptor == nil {
		return
	}

	fmt.Fprintf(b, "  descriptor: %s\n", snap.Descriptor)
	fmt.Fprintf(b, "  heir can spend after %d blocks\n",
		snap.Descriptor.Timelock())
	fmt.Fprintf(b, "  first address: %s\n", snap.Address)
	fmt.Fprintf(b, "  max input weight: %d WU\n", snap.MaxInputWeight)
}

func renderSummary(b *strings.Builder, snap installer.Snapshot) {
	renderDescriptor(b, snap)
	fmt.Fprintf(b, "  bitcoind: %s (cookie %s)\n", snap.Bitcoind.Address,
		snap.Bitcoind.CookiePath)

	var registered []string
	for _, dev := range snap.Devices {
		if dev.Registered {
			registered = append(registered, dev.Device.String())
		}
	}
	if len(registered) == 0 {
		registered = []string{"none"}
	}
	fmt.Fprintf(b, "  registered on: %s\n", strings.Join(registered, ", "))
}
