// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2015-2018 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
)

// TestGenesisCoinbaseShared ensures the three networks' genesis blocks all
// share the same single-transaction coinbase and Merkle root, differing only
// in timestamp, bits and nonce.
func TestGenesisCoinbaseShared(t *testing.T) {
	t.Parallel()

	blocks := []struct {
		name  string
		block *wire.MsgBlock
	}{
		{"mainnet", &genesisBlock},
		{"testnet3", &testNet3GenesisBlock},
		{"regtest", &regTestGenesisBlock},
	}

	for _, b := range blocks {
		if len(b.block.Transactions) != 1 {
			t.Errorf("%s: expected exactly one genesis transaction, got %d",
				b.name, len(b.block.Transactions))
		}
		if b.block.Header.MerkleRoot != genesisMerkleRoot {
			t.Errorf("%s: merkle root does not match the shared coinbase hash",
				b.name)
		}
	}
}
