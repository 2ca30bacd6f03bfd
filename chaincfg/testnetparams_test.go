// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2015-2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"bytes"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

// TestTestNetGenesisBlock checks the testnet3 genesis block's hash against
// the well-known value and confirms it round-trips through serialization.
func TestTestNetGenesisBlock(t *testing.T) {
	t.Parallel()

	params := &TestNet3Params

	var buf bytes.Buffer
	if err := params.GenesisBlock.Serialize(&buf); err != nil {
		t.Fatalf("TestTestNetGenesisBlock: %v", err)
	}

	hash := params.GenesisBlock.BlockHash()
	if !params.GenesisHash.IsEqual(&hash) {
		t.Fatalf("TestTestNetGenesisBlock: genesis hash mismatch - got %v, want %v",
			spew.Sdump(hash), spew.Sdump(params.GenesisHash))
	}
}
