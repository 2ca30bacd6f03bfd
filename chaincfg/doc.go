// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chaincfg defines chain configuration parameters for the three
// supported networks: mainnet, testnet3 and regtest. These networks are
// incompatible with each other (each has a different genesis block) and
// callers should reject input intended for one network being fed to an
// application instance running on a different network.
//
// For main packages, a (typically global) var may be assigned the address of
// one of the standard Params vars for use as the application's "active"
// network. When a network parameter is needed, it may then be looked up
// through this variable (either directly, or hidden in a library call).
//
//	package main
//
//	import (
//		"flag"
//		"fmt"
//
//		"github.com/blockrelay/btcchain/chaincfg"
//	)
//
//	func main() {
//		var testnet = flag.Bool("testnet", false, "operate on the test network")
//		flag.Parse()
//
//		// By default (without -testnet), use mainnet.
//		chainParams := &chaincfg.MainNetParams
//
//		// Modify active network parameters if operating on testnet.
//		if *testnet {
//			chainParams = &chaincfg.TestNet3Params
//		}
//
//		fmt.Println(chainParams.Name)
//	}
//
// If an application does not use one of the standard networks, a new Params
// struct may be created which defines the parameters for the non-standard
// network. As a general rule of thumb, all network parameters should be
// unique to the network, but parameter collisions can still occur.
package chaincfg
