package hw

import "errors"

var (
	// ErrDeviceDisconnected is returned when the device went away while an
	// operation was in flight.
	ErrDeviceDisconnected = errors.New("device disconnected")

	// ErrUserRejected is returned when the user declined the operation on
	// the device screen.
	ErrUserRejected = errors.New("rejected on the device")

	// ErrTimeout is returned when a device operation did not complete
	// within its deadline.
	ErrTimeout = errors.New("device operation timed out")

	// ErrProtocol is returned for any device failure that could not be
	// classified.
	ErrProtocol = errors.New("device protocol error")

	// ErrDeviceBusy is returned when an operation is requested on a device
	// that already has one in flight.
	ErrDeviceBusy = errors.New("device busy")

	// ErrUnknownDevice is returned when no device with the requested
	// fingerprint is known to the registry.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrDeviceLocked is returned when a device must be unlocked with its
	// PIN or passphrase before it can be used.
	ErrDeviceLocked = errors.New("device locked")

	// ErrRegistryStopped is returned for requests made after the registry
	// was stopped.
	ErrRegistryStopped = errors.New("registry stopped")
)
