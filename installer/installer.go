// Copyright (c) 2025 The heirwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package installer drives the install wizard. A single main loop applies
// user intents and effect completions to the wizard state one at a time,
// while device, bitcoind and disk operations run in the background.
package installer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/davecgh/go-spew/spew"
	"github.com/heirwallet/installer/daemoncfg"
	"github.com/heirwallet/installer/datadir"
	"github.com/heirwallet/installer/descriptor"
	"github.com/heirwallet/installer/hw"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("installer already started")

	// ErrNotStarted is returned when using an installer that is not
	// running.
	ErrNotStarted = errors.New("installer not started")

	// ErrShuttingDown is returned when the installer stops while a
	// request is pending, and by any call made after Stop.
	ErrShuttingDown = errors.New("installer shutting down")

	// ErrMissingDependency is returned by New for an incomplete Config.
	ErrMissingDependency = errors.New("missing installer dependency")
)

// DeviceRegistry discovers signing devices and runs operations on them.
type DeviceRegistry interface {
	// Enumerate refreshes and returns the connected devices.
	Enumerate(ctx context.Context) ([]hw.Device, error)

	// Register asks a device to register the descriptor.
	Register(ctx context.Context, fp descriptor.Fingerprint,
		desc *descriptor.Descriptor) <-chan fn.Result[hw.Attestation]

	// ImportKey fetches the account key of a device.
	ImportKey(ctx context.Context, fp descriptor.Fingerprint,
		net descriptor.Network) <-chan fn.Result[*descriptor.Key]
}

// BitcoindChecker validates bitcoind connection settings.
type BitcoindChecker interface {
	CheckNetwork(ctx context.Context, net descriptor.Network, address,
		cookiePath string) error
}

// ConfigWriter persists the daemon configuration.
type ConfigWriter interface {
	Write(ctx context.Context, req daemoncfg.Request) (string, error)
}

// Config holds the installer's collaborators.
type Config struct {
	// Root is the data directory root. Defaults to datadir.DefaultRoot.
	Root string

	// Network is the network selected when the installer starts.
	Network descriptor.Network

	Devices  DeviceRegistry
	Bitcoind BitcoindChecker
	Writer   ConfigWriter

	// DataDirExists reports whether a wallet is installed for the
	// network. Defaults to datadir.Exists.
	DataDirExists func(root string, net descriptor.Network) (bool, error)
}

// request is an intent waiting for the main loop's verdict.
type request struct {
	intent Intent
	resp   chan error
}

// Installer runs the install wizard.
type Installer struct {
	cfg Config

	started atomic.Bool
	stopped atomic.Bool

	requestChan chan request
	eventChan   chan completion
	updates     chan Snapshot
	done        chan fn.Result[string]
	doneOnce    sync.Once

	current atomic.Pointer[Snapshot]

	// gm runs the effects.
	gm *fn.GoroutineManager

	// lifetimeCtx is cancelled by Stop.
	lifetimeCtx context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	// st and initial are owned by the main loop once started.
	st      state
	initial []effect
}

// New creates an installer. It does nothing until Start is called.
func New(cfg Config) (*Installer, error) {
	switch {
	case cfg.Devices == nil:
		return nil, fmt.Errorf("%w: device registry", ErrMissingDependency)

	case cfg.Bitcoind == nil:
		return nil, fmt.Errorf("%w: bitcoind checker",
			ErrMissingDependency)

	case cfg.Writer == nil:
		return nil, fmt.Errorf("%w: config writer", ErrMissingDependency)
	}

	if cfg.Root == "" {
		cfg.Root = datadir.DefaultRoot()
	}
	if cfg.DataDirExists == nil {
		cfg.DataDirExists = datadir.Exists
	}

	st, initial := newState(cfg.Network)

	i := &Installer{
		cfg:         cfg,
		requestChan: make(chan request),
		eventChan:   make(chan completion),
		updates:     make(chan Snapshot, 1),
		done:        make(chan fn.Result[string], 1),
		gm:          fn.NewGoroutineManager(),
		st:          st,
		initial:     initial,
	}
	i.lifetimeCtx, i.cancel = context.WithCancel(context.Background())
	i.publish()

	return i, nil
}

// Start launches the main loop and the initial data directory check.
func (i *Installer) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !i.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	i.wg.Add(1)
	go i.mainLoop()

	log.Infof("Installer started on %v with data directory %v",
		i.cfg.Network, i.cfg.Root)

	return nil
}

// Stop ends the main loop and waits for running operations to return.
// Done yields ErrShuttingDown if Exit was not reached. A second Stop
// returns ErrShuttingDown.
func (i *Installer) Stop(ctx context.Context) error {
	if !i.started.Load() {
		return ErrNotStarted
	}

	if !i.stopped.CompareAndSwap(false, true) {
		return ErrShuttingDown
	}

	i.cancel()
	i.gm.Stop()

	waitDone := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	i.finish(fn.Err[string](ErrShuttingDown))

	log.Infof("Installer stopped")

	return nil
}

// Send hands an intent to the wizard and returns once it was applied. A
// rejected intent returns its error and changes nothing. Failures the user
// can correct are reported in the snapshot's LastError instead.
func (i *Installer) Send(ctx context.Context, in Intent) error {
	if !i.started.Load() {
		return ErrNotStarted
	}

	req := request{intent: in, resp: make(chan error, 1)}

	select {
	case i.requestChan <- req:
	case <-i.lifetimeCtx.Done():
		return ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.resp:
		return err
	case <-i.lifetimeCtx.Done():
		return ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the latest snapshot.
func (i *Installer) Snapshot() Snapshot {
	return *i.current.Load()
}

// Updates delivers snapshots as they change. A slow reader only sees the
// latest one.
func (i *Installer) Updates() <-chan Snapshot {
	return i.updates
}

// Done yields the configuration path after Exit, or an error if the
// installer stopped first.
func (i *Installer) Done() <-chan fn.Result[string] {
	return i.done
}

// mainLoop serialises intents and completions.
func (i *Installer) mainLoop() {
	defer i.wg.Done()

	i.dispatch(i.initial)
	i.initial = nil

	for {
		select {
		case req := <-i.requestChan:
			err := i.apply(req.intent)
			req.resp <- err

		case c := <-i.eventChan:
			if err := i.apply(c); err != nil {
				log.Errorf("Completion %T failed: %v", c, err)
			}

		case <-i.lifetimeCtx.Done():
			return
		}
	}
}

// apply runs the transition function and starts the resulting effects.
func (i *Installer) apply(ev event) error {
	next, effects, err := transition(i.st, ev)
	if err != nil {
		log.Debugf("Rejected %T on %v: %v", ev, i.st.step, err)
		return err
	}

	i.st = next
	i.publish()
	i.dispatch(effects)

	return nil
}

// publish stores a new snapshot and offers it on the updates channel,
// replacing one that was not read yet.
func (i *Installer) publish() {
	snap := i.st.snapshot()
	i.current.Store(&snap)

	log.Tracef("Installer snapshot: %v", newLogClosure(func() string {
		return spew.Sdump(snap)
	}))

	select {
	case <-i.updates:
	default:
	}

	select {
	case i.updates <- snap:
	default:
	}
}

// dispatch starts the effects.
func (i *Installer) dispatch(effects []effect) {
	for _, eff := range effects {
		if f, ok := eff.(finish); ok {
			log.Infof("Installer finished with %v", f.path)
			i.finish(fn.Ok(f.path))

			continue
		}

		log.Debugf("Starting %T (seq=%d)", eff, eff.sequence())

		started := i.gm.Go(i.lifetimeCtx, func(ctx context.Context) {
			c := i.run(ctx, eff)

			select {
			case i.eventChan <- c:
			case <-ctx.Done():
			}
		})
		if !started {
			log.Warnf("Dropped %T, installer is shutting down", eff)
		}
	}
}

// finish delivers the installer's outcome once.
func (i *Installer) finish(res fn.Result[string]) {
	i.doneOnce.Do(func() {
		i.done <- res
	})
}

// run performs an effect and returns its completion.
func (i *Installer) run(ctx context.Context, eff effect) completion {
	n := seqNum{seq: eff.sequence()}

	switch e := eff.(type) {
	case checkDataDir:
		exists, err := i.cfg.DataDirExists(i.cfg.Root, e.network)
		return dataDirChecked{seqNum: n, exists: exists, err: err}

	case enumerateDevices:
		devices, err := i.cfg.Devices.Enumerate(ctx)
		return devicesEnumerated{seqNum: n, devices: devices, err: err}

	case importKey:
		key, err := await(ctx, i.cfg.Devices.ImportKey(
			ctx, e.fingerprint, e.network,
		)).Unpack()

		return keyImported{seqNum: n, role: e.role, key: key, err: err}

	case registerDescriptor:
		att, err := await(ctx, i.cfg.Devices.Register(
			ctx, e.fingerprint, e.desc,
		)).Unpack()

		return descriptorRegistered{
			seqNum:      n,
			fingerprint: e.fingerprint,
			attestation: att,
			err:         err,
		}

	case checkBitcoind:
		err := i.cfg.Bitcoind.CheckNetwork(
			ctx, e.network, e.address, e.cookiePath,
		)

		return bitcoindChecked{seqNum: n, err: err}

	case writeConfig:
		req := e.request
		req.Root = i.cfg.Root

		path, err := i.cfg.Writer.Write(ctx, req)

		return configWritten{seqNum: n, path: path, err: err}

	default:
		// Unreachable: finish is handled by dispatch.
		return configWritten{
			seqNum: n,
			err:    fmt.Errorf("%w: unknown effect %T", ErrInvariant, eff),
		}
	}
}

// await waits for an asynchronous device result.
func await[T any](ctx context.Context, ch <-chan fn.Result[T]) fn.Result[T] {
	select {
	case res := <-ch:
		return res

	case <-ctx.Done():
		return fn.Err[T](ctx.Err())
	}
}
