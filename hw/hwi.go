package hw

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/heirwallet/installer/descriptor"
)

// DefaultHWIPath is the HWI executable looked up in PATH when none is
// configured.
const DefaultHWIPath = "hwi"

// waitDelay bounds how long a killed HWI process may keep its output pipes
// open.
const waitDelay = time.Second

// Error codes reported by HWI in its JSON error objects.
const (
	hwiCodeNoPassword     = -6
	hwiCodeDeviceConn     = -3
	hwiCodeNotReady       = -12
	hwiCodeActionCanceled = -14
	hwiCodeDeviceBusy     = -15
)

// hwiError is the error object HWI prints instead of a result.
type hwiError struct {
	Error *string `json:"error"`
	Code  int     `json:"code"`
}

// hwiDevice is one entry of `hwi enumerate`.
type hwiDevice struct {
	Type                string `json:"type"`
	Model               string `json:"model"`
	Path                string `json:"path"`
	Fingerprint         string `json:"fingerprint"`
	NeedsPinSent        bool   `json:"needs_pin_sent"`
	NeedsPassphraseSent bool   `json:"needs_passphrase_sent"`
	Error               string `json:"error"`
	Code                int    `json:"code"`
}

// HWIDriver drives devices through the HWI command line tool.
type HWIDriver struct {
	path string
}

// A compile-time assertion to ensure HWIDriver implements Driver.
var _ Driver = (*HWIDriver)(nil)

// NewHWIDriver creates a driver invoking the HWI executable at path. An empty
// path uses DefaultHWIPath.
func NewHWIDriver(path string) *HWIDriver {
	if path == "" {
		path = DefaultHWIPath
	}

	return &HWIDriver{path: path}
}

// Enumerate lists attached devices with `hwi enumerate`.
func (d *HWIDriver) Enumerate(ctx context.Context) ([]Candidate, error) {
	out, err := d.run(ctx, "enumerate")
	if err != nil {
		return nil, err
	}

	var entries []hwiDevice
	if err := json.Unmarshal(out, &entries); err != nil {
		return nil, fmt.Errorf("%w: decode enumerate: %v", ErrProtocol,
			err)
	}

	candidates := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		c := Candidate{
			Kind:            ParseKind(e.Type),
			Model:           e.Model,
			Path:            e.Path,
			Fingerprint:     e.Fingerprint,
			NeedsPin:        e.NeedsPinSent,
			NeedsPassphrase: e.NeedsPassphraseSent,
		}
		if e.Error != "" {
			c.Err = classifyHWI(e.Code, e.Error)
		}

		candidates = append(candidates, c)
	}

	return candidates, nil
}

// Probe turns an enumerated candidate into a device. HWI reports the master
// fingerprint during enumeration, so no device round trip is needed.
func (d *HWIDriver) Probe(_ context.Context, c Candidate) (Device, error) {
	switch {
	case c.Err != nil:
		return Device{}, c.Err

	case c.NeedsPin || c.NeedsPassphrase:
		return Device{}, fmt.Errorf("%w: %s at %s", ErrDeviceLocked,
			c.Kind, c.Path)
	}

	fp, err := descriptor.ParseFingerprint(c.Fingerprint)
	if err != nil {
		return Device{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	return Device{
		Kind:        c.Kind,
		Model:       c.Model,
		Path:        c.Path,
		Fingerprint: fp,
	}, nil
}

// GetXPub fetches the extended public key at path with `hwi getxpub`.
func (d *HWIDriver) GetXPub(ctx context.Context, dev Device,
	net descriptor.Network, path []uint32) (*hdkeychain.ExtendedKey, error) {

	out, err := d.run(
		ctx, "--fingerprint", dev.Fingerprint.String(),
		"--chain", net.ChainName(),
		"getxpub", descriptor.FormatPath(path),
	)
	if err != nil {
		return nil, err
	}

	var resp struct {
		XPub string `json:"xpub"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode getxpub: %v", ErrProtocol,
			err)
	}

	xpub, err := hdkeychain.NewKeyFromString(resp.XPub)
	if err != nil {
		return nil, fmt.Errorf("%w: device returned a bad key: %v",
			ErrProtocol, err)
	}

	return xpub, nil
}

// RegisterDescriptor registers the descriptor with `hwi register`.
func (d *HWIDriver) RegisterDescriptor(ctx context.Context, dev Device,
	net descriptor.Network, name, desc string) ([]byte, error) {

	out, err := d.run(
		ctx, "--fingerprint", dev.Fingerprint.String(),
		"--chain", net.ChainName(),
		"register", "--desc", desc, "--name", name,
	)
	if err != nil {
		return nil, err
	}

	var resp struct {
		HMAC string `json:"hmac"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode register: %v", ErrProtocol,
			err)
	}

	if resp.HMAC == "" {
		return nil, nil
	}

	hmac, err := hex.DecodeString(resp.HMAC)
	if err != nil {
		return nil, fmt.Errorf("%w: bad hmac: %v", ErrProtocol, err)
	}

	return hmac, nil
}

// run executes HWI and returns its standard output. HWI prints a JSON error
// object on failure which is mapped to the errors of this package.
func (d *HWIDriver) run(ctx context.Context, args ...string) ([]byte, error) {
	log.Tracef("Running %s %s", d.path, strings.Join(args, " "))

	//nolint:gosec // The executable and arguments come from configuration
	// and validated descriptors, never from a shell.
	cmd := exec.CommandContext(ctx, d.path, args...)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: hwi %v", ErrTimeout, args)
		}

		return nil, err
	}

	out := bytes.TrimSpace(stdout.Bytes())

	// An error object may come with either exit status.
	var herr hwiError
	if len(out) > 0 && out[0] == '{' &&
		json.Unmarshal(out, &herr) == nil && herr.Error != nil {

		return nil, classifyHWI(herr.Code, *herr.Error)
	}

	if runErr != nil {
		return nil, fmt.Errorf("%w: hwi: %v: %s", ErrProtocol, runErr,
			strings.TrimSpace(stderr.String()))
	}

	return out, nil
}

// classifyHWI maps an HWI error code to the errors of this package.
func classifyHWI(code int, msg string) error {
	var kind error
	switch code {
	case hwiCodeDeviceConn:
		kind = ErrDeviceDisconnected

	case hwiCodeActionCanceled:
		kind = ErrUserRejected

	case hwiCodeDeviceBusy:
		kind = ErrDeviceBusy

	case hwiCodeNoPassword, hwiCodeNotReady:
		kind = ErrDeviceLocked

	default:
		kind = ErrProtocol
	}

	return fmt.Errorf("%w: %s (code %d)", kind, msg, code)
}
