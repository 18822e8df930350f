package main

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/heirwallet/installer/bitcoind"
	"github.com/heirwallet/installer/datadir"
	"github.com/heirwallet/installer/descriptor"
	"github.com/heirwallet/installer/hw"
	"github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "installer.conf"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "installer.log"
	defaultLogLevel       = "info"
	defaultNetwork        = "bitcoin"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
)

// config defines the configuration options for the installer.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"Root directory of the wallet data directories"`
	Network    string `long:"network" description:"Network selected on the welcome step {bitcoin, testnet, signet, regtest}"`

	HWI             string        `long:"hwi" description:"Path of the hwi executable"`
	ProbeTimeout    time.Duration `long:"probetimeout" description:"Time allowed to enumerate and probe each signing device"`
	DeviceTimeout   time.Duration `long:"devicetimeout" description:"Time allowed for a confirmation on a signing device"`
	BitcoindTimeout time.Duration `long:"bitcoindtimeout" description:"Time allowed to check the bitcoind connection"`

	LogDir         string `long:"logdir" description:"Directory to log output"`
	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum logfile size in MB"`
	DebugLevel     string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	// network is the parsed Network option.
	network descriptor.Network
}

// defaultConfig returns the configuration with every default applied.
func defaultConfig() config {
	root := datadir.DefaultRoot()

	return config{
		ConfigFile:      filepath.Join(root, defaultConfigFilename),
		DataDir:         root,
		Network:         defaultNetwork,
		HWI:             hw.DefaultHWIPath,
		ProbeTimeout:    hw.DefaultProbeTimeout,
		DeviceTimeout:   hw.DefaultDeviceTimeout,
		BitcoindTimeout: bitcoind.DefaultTimeout,
		LogDir:          filepath.Join(root, defaultLogDirname),
		MaxLogFiles:     defaultMaxLogFiles,
		MaxLogFileSize:  defaultMaxLogFileSize,
		DebugLevel:      defaultLogLevel,
	}
}

// errShowSubsystems is returned by loadConfig for --debuglevel=show.
var errShowSubsystems = errors.New("show subsystems")

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in the installer functioning properly without any
// config settings while still allowing the user to override settings with
// config files and command line options. Command line options always take
// precedence.
func loadConfig(args []string) (*config, error) {
	cfg := defaultConfig()

	// Pre-parse the command line options to see if an alternative config
	// file was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	if _, err := preParser.ParseArgs(args); err != nil {
		return nil, err
	}

	if preCfg.DebugLevel == "show" {
		return nil, errShowSubsystems
	}

	// Load additional config from file. A missing default config file is
	// fine, a missing explicit one is not.
	parser := flags.NewParser(&cfg, flags.HelpFlag)
	configFile := cleanAndExpandPath(preCfg.ConfigFile)
	err := flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		defaultFile := preCfg.ConfigFile == cfg.ConfigFile
		if !errors.Is(err, os.ErrNotExist) || !defaultFile {
			return nil, fmt.Errorf("error parsing config file %v: %w",
				configFile, err)
		}
	}

	// Parse command line options again to ensure they take precedence.
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.HWI = cleanAndExpandPath(cfg.HWI)

	cfg.network, err = descriptor.ParseNetwork(cfg.Network)
	if err != nil {
		return nil, fmt.Errorf("invalid --network: %w", err)
	}

	switch {
	case cfg.ProbeTimeout <= 0:
		return nil, fmt.Errorf("--probetimeout must be positive")

	case cfg.DeviceTimeout <= 0:
		return nil, fmt.Errorf("--devicetimeout must be positive")

	case cfg.BitcoindTimeout <= 0:
		return nil, fmt.Errorf("--bitcoindtimeout must be positive")

	case cfg.MaxLogFiles < 0:
		return nil, fmt.Errorf("--maxlogfiles must not be negative")

	case cfg.MaxLogFileSize <= 0:
		return nil, fmt.Errorf("--maxlogfilesize must be positive")
	}

	return &cfg, nil
}

// cleanAndExpandPath expands environment variables and a leading ~ in the
// passed path, cleans the result, and returns it. A bare name without a
// directory, like the default "hwi", is returned unchanged so it is looked
// up in PATH.
func cleanAndExpandPath(path string) string {
	if path == "" || !strings.ContainsAny(path, `/\~$`) {
		return path
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	return filepath.Clean(os.ExpandEnv(path))
}
