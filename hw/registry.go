// Copyright (c) 2025 The heirwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hw

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/heirwallet/installer/descriptor"
	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultProbeTimeout bounds enumeration and each device probe.
	DefaultProbeTimeout = 5 * time.Second

	// DefaultDeviceTimeout bounds operations that wait for the user to
	// confirm on the device.
	DefaultDeviceTimeout = 3 * time.Minute

	// DefaultMaxProbes is the number of devices probed concurrently.
	DefaultMaxProbes = 4

	// DefaultWalletName is the name descriptors are registered under.
	DefaultWalletName = "heirwallet"
)

// Config holds the registry configuration.
type Config struct {
	// Driver is the device transport.
	Driver Driver

	// ProbeTimeout bounds the driver's enumeration and each probe.
	ProbeTimeout time.Duration

	// RegisterTimeout bounds a descriptor registration.
	RegisterTimeout time.Duration

	// ImportTimeout bounds a key import.
	ImportTimeout time.Duration

	// MaxProbes limits the number of concurrent probes.
	MaxProbes int

	// WalletName is the name the descriptor is registered under.
	WalletName string

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Registry tracks connected signing devices and serialises operations per
// device. At most one operation may be in flight for a given fingerprint.
type Registry struct {
	cfg Config

	// gm owns the goroutines running device operations.
	gm *fn.GoroutineManager

	// mu guards the fields below.
	mu sync.Mutex

	devices      []Device
	attestations map[descriptor.Fingerprint]Attestation
	busy         map[descriptor.Fingerprint]struct{}
}

// NewRegistry creates a registry, filling unset configuration values with
// their defaults.
func NewRegistry(cfg Config) *Registry {
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.RegisterTimeout == 0 {
		cfg.RegisterTimeout = DefaultDeviceTimeout
	}
	if cfg.ImportTimeout == 0 {
		cfg.ImportTimeout = DefaultDeviceTimeout
	}
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = DefaultMaxProbes
	}
	if cfg.WalletName == "" {
		cfg.WalletName = DefaultWalletName
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Registry{
		cfg:          cfg,
		gm:           fn.NewGoroutineManager(),
		attestations: make(map[descriptor.Fingerprint]Attestation),
		busy:         make(map[descriptor.Fingerprint]struct{}),
	}
}

// Stop cancels in-flight device operations and waits for them to return.
func (r *Registry) Stop() {
	r.gm.Stop()
}

// Enumerate rescans the attached devices. Every candidate is probed
// concurrently under ProbeTimeout and candidates that fail are skipped. The
// resulting list replaces the known devices, with attestations re-attached by
// fingerprint.
func (r *Registry) Enumerate(ctx context.Context) ([]Device, error) {
	enumCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	candidates, err := r.cfg.Driver.Enumerate(enumCtx)
	cancel()
	if err != nil {
		return nil, classify(enumCtx, err)
	}

	log.Debugf("Found %d device candidates", len(candidates))

	found := make([]fn.Option[Device], len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxProbes)

	for i, c := range candidates {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(
				gctx, r.cfg.ProbeTimeout,
			)
			defer cancel()

			dev, err := r.cfg.Driver.Probe(probeCtx, c)
			if err != nil {
				log.Warnf("Skipping %v device at %v: %v", c.Kind,
					c.Path, classify(probeCtx, err))

				return nil
			}

			found[i] = fn.Some(dev)

			return nil
		})
	}

	// Probes never fail the group, only the parent context can.
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[descriptor.Fingerprint]struct{}, len(found))
	devices := make([]Device, 0, len(found))
	for _, opt := range found {
		opt.WhenSome(func(dev Device) {
			// The same device may show up on several transports.
			if _, ok := seen[dev.Fingerprint]; ok {
				return
			}
			seen[dev.Fingerprint] = struct{}{}

			if att, ok := r.attestations[dev.Fingerprint]; ok {
				dev.Registered = fn.Some(att)
			}

			devices = append(devices, dev)
		})
	}

	r.devices = devices

	log.Debugf("Enumerated devices: %v", newLogClosure(func() string {
		return spew.Sdump(devices)
	}))

	return slices.Clone(devices), nil
}

// Devices returns a copy of the known devices.
func (r *Registry) Devices() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.devices)
}

// Register asks the device with the given fingerprint to register the
// descriptor. The result is delivered on the returned channel, which always
// receives exactly one value. A busy or unknown device fails immediately.
func (r *Registry) Register(ctx context.Context, fp descriptor.Fingerprint,
	desc *descriptor.Descriptor) <-chan fn.Result[Attestation] {

	return runExclusive(ctx, r, fp, func(ctx context.Context,
		dev Device) fn.Result[Attestation] {

		return r.register(ctx, dev, desc)
	})
}

// register runs a registration on a device the caller has acquired.
func (r *Registry) register(ctx context.Context, dev Device,
	desc *descriptor.Descriptor) fn.Result[Attestation] {

	ctx, cancel := context.WithTimeout(ctx, r.cfg.RegisterTimeout)
	defer cancel()

	log.Infof("Registering descriptor on %v", dev)

	descStr := desc.String()
	hmac, err := r.cfg.Driver.RegisterDescriptor(
		ctx, dev, desc.Network(), r.cfg.WalletName, descStr,
	)
	if err != nil {
		err = classify(ctx, err)
		logFailure("register on", dev, err)

		return fn.Err[Attestation](err)
	}

	att := Attestation{
		Descriptor:   descStr,
		HMAC:         hmac,
		RegisteredAt: r.cfg.Now(),
	}
	r.recordAttestation(dev.Fingerprint, att)

	log.Infof("Device %v registered the descriptor", dev)

	return fn.Ok(att)
}

// ImportKey fetches the BIP-48 P2WSH account key of the device with the
// given fingerprint. The key is returned with its origin so it can be used
// in a descriptor as is.
func (r *Registry) ImportKey(ctx context.Context, fp descriptor.Fingerprint,
	net descriptor.Network) <-chan fn.Result[*descriptor.Key] {

	return runExclusive(ctx, r, fp, func(ctx context.Context,
		dev Device) fn.Result[*descriptor.Key] {

		return r.importKey(ctx, dev, net)
	})
}

// importKey fetches the account key from a device the caller has acquired.
func (r *Registry) importKey(ctx context.Context, dev Device,
	net descriptor.Network) fn.Result[*descriptor.Key] {

	ctx, cancel := context.WithTimeout(ctx, r.cfg.ImportTimeout)
	defer cancel()

	path := descriptor.AccountPath(net, 0)

	log.Infof("Importing key %v from %v", descriptor.FormatPath(path), dev)

	xpub, err := r.cfg.Driver.GetXPub(ctx, dev, net, path)
	if err != nil {
		err = classify(ctx, err)
		logFailure("import key from", dev, err)

		return fn.Err[*descriptor.Key](err)
	}

	key, err := descriptor.NewKey(xpub, &descriptor.KeyOrigin{
		Fingerprint: dev.Fingerprint,
		Path:        path,
	}, net)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrProtocol, err)
		logFailure("import key from", dev, err)

		return fn.Err[*descriptor.Key](err)
	}

	return fn.Ok(key)
}

// runExclusive marks the device busy and runs op on a managed goroutine. The
// device is released before the result is delivered so a caller reading the
// result may immediately start another operation on it.
func runExclusive[T any](ctx context.Context, r *Registry,
	fp descriptor.Fingerprint,
	op func(context.Context, Device) fn.Result[T]) <-chan fn.Result[T] {

	resultChan := make(chan fn.Result[T], 1)

	dev, err := r.acquire(fp)
	if err != nil {
		resultChan <- fn.Err[T](err)
		return resultChan
	}

	started := r.gm.Go(ctx, func(ctx context.Context) {
		res := op(ctx, dev)

		r.release(fp)
		resultChan <- res
	})
	if !started {
		r.release(fp)
		resultChan <- fn.Err[T](ErrRegistryStopped)
	}

	return resultChan
}

// Attestation returns the attestation recorded for a fingerprint, if any.
func (r *Registry) Attestation(
	fp descriptor.Fingerprint) fn.Option[Attestation] {

	r.mu.Lock()
	defer r.mu.Unlock()

	att, ok := r.attestations[fp]
	if !ok {
		return fn.None[Attestation]()
	}

	return fn.Some(att)
}

// acquire marks the device busy and returns it.
func (r *Registry) acquire(fp descriptor.Fingerprint) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := slices.IndexFunc(r.devices, func(d Device) bool {
		return d.Fingerprint == fp
	})
	if idx < 0 {
		return Device{}, fmt.Errorf("%w: %v", ErrUnknownDevice, fp)
	}

	if _, ok := r.busy[fp]; ok {
		return Device{}, fmt.Errorf("%w: %v", ErrDeviceBusy, fp)
	}

	r.busy[fp] = struct{}{}

	return r.devices[idx], nil
}

// release clears the busy mark of a device.
func (r *Registry) release(fp descriptor.Fingerprint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.busy, fp)
}

// recordAttestation stores the attestation by fingerprint, and on the device
// if it is still in the list.
func (r *Registry) recordAttestation(fp descriptor.Fingerprint,
	att Attestation) {

	r.mu.Lock()
	defer r.mu.Unlock()

	r.attestations[fp] = att

	for i := range r.devices {
		if r.devices[i].Fingerprint == fp {
			r.devices[i].Registered = fn.Some(att)
		}
	}
}

// classify turns a context expiry into ErrTimeout and wraps errors that are
// not already part of the taxonomy as ErrProtocol.
func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrDeviceDisconnected),
		errors.Is(err, ErrUserRejected),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrDeviceBusy),
		errors.Is(err, ErrDeviceLocked),
		errors.Is(err, ErrProtocol):

		return err

	case errors.Is(ctx.Err(), context.DeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded):

		return fmt.Errorf("%w: %v", ErrTimeout, err)

	case errors.Is(err, context.Canceled):
		return err
	}

	return fmt.Errorf("%w: %v", ErrProtocol, err)
}

// logFailure logs a failed device operation. Unclassified failures are
// logged at error level since they point at a driver or device problem.
func logFailure(op string, dev Device, err error) {
	if errors.Is(err, ErrProtocol) {
		log.Errorf("Unable to %s %v: %v", op, dev, err)
		return
	}

	log.Warnf("Unable to %s %v: %v", op, dev, err)
}
