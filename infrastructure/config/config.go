package config

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcutil"
	"github.com/dposnet/dposd/infrastructure/logger"
	"github.com/dposnet/dposd/infrastructure/network/peer"
	"github.com/dposnet/dposd/util/keys"
	"github.com/dposnet/dposd/util/network"
	"github.com/dposnet/dposd/version"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

const (
	defaultConfigFilename = "dposd.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "dposd.log"
	defaultErrLogFilename = "dposd_err.log"
	sampleConfigFilename  = "sample-dposd.conf"
)

var (
	// DefaultAppDir is the default home directory for dposd.
	DefaultAppDir = btcutil.AppDataDir("dposd", false)

	defaultConfigFile = filepath.Join(DefaultAppDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(DefaultAppDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(DefaultAppDir, defaultLogDirname)
)

// Flags defines the configuration options for dposd.
//
// See loadConfig for details on the configuration load process.
type Flags struct {
	ShowVersion        bool          `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile         string        `short:"C" long:"configfile" description:"Path to configuration file"`
	AppDir             string        `short:"b" long:"appdir" description:"Directory to store data"`
	LogDir             string        `long:"logdir" description:"Directory to log output."`
	Listen             string        `long:"listen" description:"Interface/port to serve the peer API on (default all interfaces, port of the active network)"`
	NoListen           bool          `long:"nolisten" description:"Do not serve the peer API"`
	Peers              []string      `short:"a" long:"peer" description:"Add a peer to sync with and relay blocks and transactions to"`
	Proxy              string        `long:"proxy" description:"Connect to peers via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser          string        `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass          string        `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	ForgingSecrets     []string      `long:"forgingsecret" default-mask:"-" description:"Mnemonic of a delegate account to forge with. May be repeated"`
	MaxTxsPerQueue     int           `long:"maxtxsperqueue" description:"Maximum number of transactions in each transaction pool queue (default of the active network)"`
	MaxSharedTxs       int           `long:"maxsharedtxs" description:"Maximum number of transactions accepted from or sent to a peer at once (default of the active network)"`
	UnconfirmedTimeout time.Duration `long:"unconfirmedtimeout" description:"Lifetime of an unconfirmed transaction. Valid time units are {s, m, h} (default of the active network)"`
	Profile            string        `long:"profile" description:"Enable HTTP profiling on given port -- NOTE port must be between 1024 and 65536"`
	DebugLevel         string        `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	ResetDatabase      bool          `long:"reset-db" description:"Reset database before starting node"`
	ServiceOptions     *ServiceOptions
	NetworkFlags
}

// Config defines the configuration options for dposd.
//
// See loadConfig for details on the configuration load process.
type Config struct {
	*Flags

	// Dial opens connections to peers. It is nil unless a proxy is set.
	Dial peer.DialFunc

	// ForgingKeyPairs are derived from ForgingSecrets.
	ForgingKeyPairs []*keys.KeyPair
}

// ServiceOptions defines the configuration options for the daemon as a service on
// Windows.
type ServiceOptions struct {
	ServiceCommand string `short:"s" long:"service" description:"Service command {install, remove, start, stop}"`
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(DefaultAppDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

func defaultFlags() *Flags {
	return &Flags{
		ConfigFile:     defaultConfigFile,
		DebugLevel:     defaultLogLevel,
		AppDir:         defaultDataDir,
		LogDir:         defaultLogDir,
		ServiceOptions: &ServiceOptions{},
	}
}

// newConfigParser returns a new command line flags parser.
func newConfigParser(cfgFlags *Flags, options flags.Options) *flags.Parser {
	parser := flags.NewParser(cfgFlags, options)
	if runtime.GOOS == "windows" {
		parser.AddGroup("Service Options", "Service Options", cfgFlags.ServiceOptions)
	}
	return parser
}

// LoadConfig initializes and parses the config using a config file and
// command line options, then starts logging to the log directory of the
// active network.
func LoadConfig() (*Config, error) {
	cfg, _, err := loadConfig(os.Args[1:])
	if err != nil {
		return nil, err
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", logger.SupportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation. After log rotation has been initialized, the
	// logger variables may be used.
	logger.InitLog(filepath.Join(cfg.LogDir, defaultLogFilename), filepath.Join(cfg.LogDir, defaultErrLogFilename))

	// Parse, validate, and set debug log level(s).
	err = logger.ParseAndSetDebugLevels(cfg.DebugLevel)
	if err != nil {
		err := errors.Errorf("LoadConfig: %s", err.Error())
		fmt.Fprintln(os.Stderr, err)
		return nil, err
	}
	return cfg, nil
}

// loadConfig parses args on top of the configuration file.
//
// The configuration proceeds as follows:
// 	1) Start with a default config with sane settings
// 	2) Pre-parse the command line to check for an alternative config file
// 	3) Load configuration file overwriting defaults with any specified options
// 	4) Parse CLI options and overwrite/add any specified options
//
// The above results in dposd functioning properly without any config settings
// while still allowing the user to override settings with config files and
// command line options. Command line options always take precedence.
func loadConfig(args []string) (*Config, []string, error) {
	cfgFlags := defaultFlags()

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified. Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := *cfgFlags
	preCfg.ServiceOptions = &ServiceOptions{}
	preParser := newConfigParser(&preCfg, flags.HelpFlag)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version.Version())
		os.Exit(0)
	}

	// Load additional config from file.
	parser := newConfigParser(cfgFlags, flags.Default)
	if _, err := os.Stat(preCfg.ConfigFile); os.IsNotExist(err) && preCfg.ConfigFile == defaultConfigFile {
		err := createDefaultConfigFile(preCfg.ConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating a default config file: %s\n", err)
		}
	}
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintf(os.Stderr, "Error parsing config file: %s\n", err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.ParseArgs(args)
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, nil, err
	}

	cfg := &Config{Flags: cfgFlags}
	funcName := "loadConfig"

	err = cfg.ResolveNetwork(parser)
	if err != nil {
		return nil, nil, err
	}

	// Append the network type to the data and log directories so they are
	// "namespaced" per network.
	cfg.AppDir = cleanAndExpandPath(cfg.AppDir)
	cfg.AppDir = filepath.Join(cfg.AppDir, cfg.NetParams().Name)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, cfg.NetParams().Name)

	// Create the data directory if it doesn't already exist.
	err = os.MkdirAll(cfg.AppDir, 0700)
	if err != nil {
		// Show a nicer error message if it's because a symlink is
		// linked to a directory that does not exist (probably because
		// it's not mounted).
		if e, ok := err.(*os.PathError); ok && os.IsExist(err) {
			if link, lerr := os.Readlink(e.Path); lerr == nil {
				str := "is symlink %s -> %s mounted?"
				err = errors.Errorf(str, e.Path, link)
			}
		}

		str := "%s: Failed to create data directory: %s"
		err := errors.Errorf(str, funcName, err)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	// Validate profile port number
	if cfg.Profile != "" {
		profilePort, err := strconv.Atoi(cfg.Profile)
		if err != nil || profilePort < 1024 || profilePort > 65535 {
			str := "%s: The profile port must be between 1024 and 65535"
			err := errors.Errorf(str, funcName)
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
	}

	if cfg.MaxTxsPerQueue < 0 || cfg.MaxSharedTxs < 0 || cfg.UnconfirmedTimeout < 0 {
		str := "%s: maxtxsperqueue, maxsharedtxs and unconfirmedtimeout may not be negative"
		err := errors.Errorf(str, funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	cfg.Peers, err = network.NormalizeAddresses(cfg.Peers, cfg.NetParams().DefaultPort)
	if err != nil {
		str := "%s: Invalid peer: %s"
		err := errors.Errorf(str, funcName, err)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	for i, secret := range cfg.ForgingSecrets {
		keyPair, err := keys.FromMnemonic(secret)
		if err != nil {
			str := "%s: forging secret #%d is invalid: %s"
			err := errors.Errorf(str, funcName, i+1, err)
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
		cfg.ForgingKeyPairs = append(cfg.ForgingKeyPairs, keyPair)
	}

	// Add the default listener if none was specified.
	if cfg.Listen == "" {
		cfg.Listen = net.JoinHostPort("", cfg.NetParams().DefaultPort)
	}

	if cfg.Proxy != "" {
		_, _, err := net.SplitHostPort(cfg.Proxy)
		if err != nil {
			str := "%s: Proxy address '%s' is invalid: %s"
			err := errors.Errorf(str, funcName, cfg.Proxy, err)
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
		cfg.Dial = peer.ProxyDial(cfg.Proxy, cfg.ProxyUser, cfg.ProxyPass)
	}

	return cfg, remainingArgs, nil
}

// createDefaultConfigFile copies the sample config file next to the binary
// to destinationPath.
func createDefaultConfigFile(destinationPath string) error {
	// Create the destination directory if it does not exists
	err := os.MkdirAll(filepath.Dir(destinationPath), 0700)
	if err != nil {
		return err
	}

	// We assume sample config file path is same as binary
	path, err := filepath.Abs(filepath.Dir(os.Args[0]))
	if err != nil {
		return err
	}
	sampleConfigPath := filepath.Join(path, sampleConfigFilename)

	src, err := os.Open(sampleConfigPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := os.OpenFile(destinationPath,
		os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer dest.Close()

	reader := bufio.NewReader(src)
	for err != io.EOF {
		var line string
		line, err = reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}

		if _, err := dest.WriteString(line); err != nil {
			return err
		}
	}

	return nil
}
