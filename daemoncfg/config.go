// Package daemoncfg writes and reads the configuration the installer hands
// to the wallet daemon.
package daemoncfg

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/heirwallet/installer/descriptor"
	flags "github.com/jessevdk/go-flags"
)

var (
	// ErrSerialization is returned when a configuration cannot be encoded
	// or decoded.
	ErrSerialization = errors.New("configuration serialization failed")
)

// BitcoindConfig holds the bitcoind connection of the daemon.
type BitcoindConfig struct {
	Addr       string `long:"addr" ini-name:"bitcoind.addr" description:"The host:port of the bitcoind RPC interface"`
	CookiePath string `long:"cookie_path" ini-name:"bitcoind.cookie_path" description:"The path to the bitcoind cookie file"`
}

// Config is the persisted daemon configuration.
type Config struct {
	Network        string `long:"network" ini-name:"network" description:"The bitcoin network of the wallet"`
	MainDescriptor string `long:"main_descriptor" ini-name:"main_descriptor" description:"The inheritance descriptor of the wallet"`
	DataDir        string `long:"datadir" ini-name:"datadir" description:"The wallet data directory"`

	Bitcoind BitcoindConfig `group:"Bitcoind" namespace:"bitcoind"`

	RegisteredDevices []string `long:"registered_device" ini-name:"registered_device" description:"A device that registered the descriptor, as fingerprint or fingerprint:hmac"`
}

// RegisteredDevice is a signing device that registered the descriptor.
type RegisteredDevice struct {
	Fingerprint descriptor.Fingerprint

	// HMAC is the registration proof of the device, if it issued one.
	HMAC []byte
}

// String encodes the device as stored in the configuration.
func (d RegisteredDevice) String() string {
	if len(d.HMAC) == 0 {
		return d.Fingerprint.String()
	}

	return d.Fingerprint.String() + ":" + hex.EncodeToString(d.HMAC)
}

// parseRegisteredDevice decodes a device stored in the configuration.
func parseRegisteredDevice(s string) (RegisteredDevice, error) {
	fpStr, hmacStr, hasHMAC := strings.Cut(s, ":")

	fp, err := descriptor.ParseFingerprint(fpStr)
	if err != nil {
		return RegisteredDevice{}, err
	}

	dev := RegisteredDevice{Fingerprint: fp}
	if hasHMAC {
		dev.HMAC, err = hex.DecodeString(hmacStr)
		if err != nil || len(dev.HMAC) == 0 {
			return RegisteredDevice{}, fmt.Errorf("invalid hmac %q",
				hmacStr)
		}
	}

	return dev, nil
}

// Descriptor parses the main descriptor for the configured network.
func (c *Config) Descriptor() (*descriptor.Descriptor, error) {
	net, err := descriptor.ParseNetwork(c.Network)
	if err != nil {
		return nil, err
	}

	return descriptor.ParseImported(c.MainDescriptor, net)
}

// Devices decodes the registered devices.
func (c *Config) Devices() ([]RegisteredDevice, error) {
	devices := make([]RegisteredDevice, 0, len(c.RegisteredDevices))
	for _, s := range c.RegisteredDevices {
		dev, err := parseRegisteredDevice(s)
		if err != nil {
			return nil, fmt.Errorf("%w: registered device: %v",
				ErrSerialization, err)
		}

		devices = append(devices, dev)
	}

	return devices, nil
}

// Encode renders the configuration in INI format.
func (c *Config) Encode() []byte {
	parser := flags.NewParser(c, flags.None)

	var buf bytes.Buffer
	flags.NewIniParser(parser).Write(&buf, flags.IniIncludeComments)

	return buf.Bytes()
}

// Decode parses a configuration in INI format.
func Decode(data []byte) (*Config, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.None)

	err := flags.NewIniParser(parser).Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	return cfg, nil
}
