package bitcoind

import "errors"

var (
	// ErrAddressUnparseable is returned when the address is not a valid
	// host:port pair with an IP literal or localhost host.
	ErrAddressUnparseable = errors.New("unparseable bitcoind address")

	// ErrCookieUnreadable is returned when the cookie file cannot be read
	// or does not hold user:password credentials.
	ErrCookieUnreadable = errors.New("unreadable bitcoind cookie file")

	// ErrConnectionRefused is returned when nothing accepts connections at
	// the address.
	ErrConnectionRefused = errors.New("bitcoind connection refused")

	// ErrTimeout is returned when the check did not complete in time.
	ErrTimeout = errors.New("bitcoind check timed out")

	// ErrNetworkMismatch is returned when bitcoind runs another network
	// than the one being installed.
	ErrNetworkMismatch = errors.New("bitcoind is on another network")

	// ErrRPC is returned when bitcoind answered the connection but the RPC
	// call failed, for example because the cookie was rejected.
	ErrRPC = errors.New("bitcoind rpc failure")
)
