package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/heirwallet/installer/descriptor"
	"github.com/heirwallet/installer/installer"
)

var (
	// errQuit is returned by parseIntent for the quit command.
	errQuit = errors.New("installation aborted")

	// errHelp is returned by parseIntent for the help command.
	errHelp = errors.New("help requested")

	// errUnknownCommand is returned for input that is not a command.
	errUnknownCommand = errors.New("unknown command")
)

const helpText = `commands:
  next | n                    go to the next step
  back | previous | p         go to the previous step
  network <name>              select bitcoin, testnet, signet or regtest
  mode derived|imported       choose how the descriptor is defined
  set <field> <text>          edit owner, heir, timelock, descriptor,
                              address or cookie
  import owner|heir           fill a key from a signing device
  device <n>                  select the n-th device
  reload | r                  look for devices again
  close                       close the device picker
  install                     write the configuration
  exit [path]                 leave after installing
  quit                        abort the installation
`

// parseIntent turns a command line into an intent.
func parseIntent(line string) (installer.Intent, error) {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "next", "n":
		return installer.Next{}, nil

	case "back", "previous", "p":
		return installer.Previous{}, nil

	case "network":
		net, err := descriptor.ParseNetwork(rest)
		if err != nil {
			return nil, err
		}

		return installer.SelectNetwork{Network: net}, nil

	case "mode":
		mode, err := installer.ParseInputMode(rest)
		if err != nil {
			return nil, err
		}

		return installer.SetInputMode{Mode: mode}, nil

	case "set":
		name, text, _ := strings.Cut(rest, " ")
		field, err := installer.ParseField(name)
		if err != nil {
			return nil, err
		}

		return installer.FieldEdited{
			Field: field,
			Text:  strings.TrimSpace(text),
		}, nil

	case "import":
		switch strings.ToLower(rest) {
		case "owner":
			return installer.ImportHWKey{}, nil

		case "heir":
			return installer.ImportHWKey{Heir: true}, nil
		}

		return nil, fmt.Errorf("%w: import owner|heir", errUnknownCommand)

	case "device":
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: device <n> takes a number "+
				"from the list", errUnknownCommand)
		}

		return installer.SelectDevice{Index: n - 1}, nil

	case "reload", "r":
		return installer.Reload{}, nil

	case "close":
		return installer.Close{}, nil

	case "install":
		return installer.Install{}, nil

	case "exit":
		return installer.Exit{Path: rest}, nil

	case "quit", "q":
		return nil, errQuit

	case "help", "h", "?":
		return nil, errHelp

	default:
		return nil, fmt.Errorf("%w: %q, type help", errUnknownCommand,
			cmd)
	}
}

// wizard is the part of the installer the command loop drives.
type wizard interface {
	Send(ctx context.Context, in installer.Intent) error
	Snapshot() installer.Snapshot
	Updates() <-chan installer.Snapshot
}

// runREPL renders the wizard, reads commands and sends them until the
// installer finishes. It returns the configuration path.
func runREPL(ctx context.Context, w wizard, in io.Reader, out io.Writer,
	prompt bool) (string, error) {

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	for {
		snap, err := settle(ctx, w)
		if err != nil {
			return "", err
		}

		if snap.Finished {
			return snap.ConfigPath, nil
		}

		fmt.Fprint(out, render(snap))
		if prompt {
			fmt.Fprint(out, "> ")
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}

			return "", fmt.Errorf("%w: end of input", errQuit)
		}

		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		intent, err := parseIntent(line)
		switch {
		case errors.Is(err, errQuit):
			return "", err

		case errors.Is(err, errHelp):
			fmt.Fprint(out, helpText)
			continue

		case err != nil:
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}

		log.Debugf("Sending %T", intent)

		if err := w.Send(ctx, intent); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

// settle waits until no operation is in flight and returns the snapshot.
func settle(ctx context.Context, w wizard) (installer.Snapshot, error) {
	for {
		snap := w.Snapshot()
		if !snap.Processing {
			return snap, nil
		}

		select {
		case <-w.Updates():
		case <-ctx.Done():
			return installer.Snapshot{}, ctx.Err()
		}
	}
}
