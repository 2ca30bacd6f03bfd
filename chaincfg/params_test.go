// Copyright (c) 2016 The btcsuite developers
// Copyright (c) 2016 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/wire"
)

// TestMustRegisterPanic ensures mustRegister panics on a duplicate network.
func TestMustRegisterPanic(t *testing.T) {
	t.Parallel()

	defer func() {
		if err := recover(); err == nil {
			t.Error("mustRegister did not panic as expected")
		}
	}()

	mustRegister(&MainNetParams)
}

// TestPowLimits ensures each network's pow limit is a positive value.  The
// compact bits listed beside each limit are not compared against it.
func TestPowLimits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		limit   *big.Int
		bits    uint32
		nbytes  uint
	}{
		{"mainnet", mainPowLimit, 0x1d00ffff, 32 - 3},
		{"testnet3", testNet3PowLimit, 0x1d00ffff, 32 - 3},
		{"regtest", regNetPowLimit, 0x207fffff, 32 - 32},
	}

	for _, test := range tests {
		if test.limit.Sign() <= 0 {
			t.Errorf("%s: pow limit is not positive", test.name)
		}
	}
}

// TestParamsForNet ensures the three built-in networks are reachable by
// their wire.BitcoinNet magic after package init runs.
func TestParamsForNet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		net  wire.BitcoinNet
		name string
	}{
		{wire.MainNet, "mainnet"},
		{wire.TestNet3, "testnet3"},
		{wire.TestNet, "regtest"},
	}

	for _, test := range tests {
		params := ParamsForNet(test.net)
		if params == nil {
			t.Fatalf("%s: not registered", test.name)
		}
		if params.Name != test.name {
			t.Errorf("%s: got name %q", test.name, params.Name)
		}
	}
}
