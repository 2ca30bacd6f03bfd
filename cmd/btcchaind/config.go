// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2021 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blockrelay/btcchain/chaincfg"
	"github.com/blockrelay/btcchain/internal/version"
	"github.com/btcsuite/btcd/btcutil"
	btcchaincfg "github.com/btcsuite/btcd/chaincfg"
	"github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename  = "btcchaind.conf"
	defaultDataDirname     = "data"
	defaultLogLevel        = "info"
	defaultLogDirname      = "logs"
	defaultLogFilename     = "btcchaind.log"
	defaultMaxSigCacheSize = 100000
	defaultGenerateWorkers = 1
)

var (
	defaultHomeDir    = btcutil.AppDataDir("btcchaind", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// config defines the configuration options for btcchaind.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir      string `long:"logdir" description:"Directory to log output."`
	NoFileLog   bool   `long:"nofilelog" description:"Disable file logging"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- Alternatively, subsystems can be individually specified via <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	TestNet bool `long:"testnet" description:"Use the test network"`
	RegTest bool `long:"regtest" description:"Use the regression test network"`

	NoCheckpoints bool `long:"nocheckpoints" description:"Disable built-in hard-coded checkpoints. Discouraged for production use since it is a security risk."`

	SigCacheMaxSize uint `long:"sigcachemaxsize" description:"The maximum number of entries in the signature verification cache"`

	Generate         bool     `long:"generate" description:"Generate (mine) coins using the CPU"`
	GenerateWorkers  int      `long:"generateworkers" description:"Number of workers used by the CPU miner"`
	MiningAddrs      []string `long:"miningaddr" description:"Add the specified payment address to the list of addresses to use for generated blocks -- At least one address is required if the generate option is set"`
	MaxMemoryLimitMB int64    `long:"maxmemorylimitmb" description:"Soft runtime memory limit in MiB, above which the Go runtime is encouraged to be more aggressive about garbage collection. 0 disables the limit."`

	miningAddrs []btcutil.Address
	params      *chaincfg.Params
	addrParams  *btcchaincfg.Params
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	return filepath.Clean(os.ExpandEnv(path))
}

// netParams selects the consensus and address-encoding parameters that
// correspond to the requested network, and reports an error if more than one
// network was selected.
func netParams(cfg *config) (*chaincfg.Params, *btcchaincfg.Params, error) {
	numNets := 0
	var params *chaincfg.Params
	var addrParams *btcchaincfg.Params
	if cfg.TestNet {
		numNets++
		params = &chaincfg.TestNet3Params
		addrParams = &btcchaincfg.TestNet3Params
	}
	if cfg.RegTest {
		numNets++
		params = &chaincfg.RegressionNetParams
		addrParams = &btcchaincfg.RegressionNetParams
	}
	if numNets == 0 {
		params = &chaincfg.MainNetParams
		addrParams = &btcchaincfg.MainNetParams
	} else if numNets > 1 {
		return nil, nil, fmt.Errorf("the testnet and regtest params can't " +
			"be used together -- choose one")
	}
	return params, addrParams, nil
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in btcchaind functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options. Command line options always take
// precedence.
func loadConfig() (*config, []string, error) {
	cfg := config{
		ConfigFile:      defaultConfigFile,
		DataDir:         defaultDataDir,
		LogDir:          defaultLogDir,
		DebugLevel:      defaultLogLevel,
		SigCacheMaxSize: defaultMaxSigCacheSize,
		GenerateWorkers: defaultGenerateWorkers,
	}

	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, nil, err
	}

	if preCfg.ShowVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	if preCfg.ConfigFile != defaultConfigFile {
		cfg.ConfigFile = cleanAndExpandPath(preCfg.ConfigFile)
	}

	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(cfg.ConfigFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			return nil, nil, err
		}
	}

	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	params, addrParams, err := netParams(&cfg)
	if err != nil {
		return nil, nil, err
	}
	cfg.params = params
	cfg.addrParams = addrParams

	// Append the network type to the data and log directories so
	// distinct networks never collide when sharing a home directory.
	cfg.DataDir = filepath.Join(cfg.DataDir, params.Name)
	cfg.LogDir = filepath.Join(cfg.LogDir, params.Name)

	if cfg.Generate && len(cfg.MiningAddrs) == 0 {
		return nil, nil, fmt.Errorf("the generate flag requires at least " +
			"one mining address via --miningaddr")
	}

	cfg.miningAddrs = make([]btcutil.Address, 0, len(cfg.MiningAddrs))
	for _, strAddr := range cfg.MiningAddrs {
		addr, err := btcutil.DecodeAddress(strAddr, cfg.addrParams)
		if err != nil {
			return nil, nil, fmt.Errorf("mining address %q failed to "+
				"decode: %w", strAddr, err)
		}
		if !addr.IsForNet(cfg.addrParams) {
			return nil, nil, fmt.Errorf("mining address %q is not for "+
				"the selected network", strAddr)
		}
		cfg.miningAddrs = append(cfg.miningAddrs, addr)
	}

	return &cfg, remainingArgs, nil
}
