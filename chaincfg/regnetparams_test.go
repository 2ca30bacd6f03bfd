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

// TestRegNetGenesisBlock checks the regression test genesis block's hash
// against the well-known value and confirms it round-trips through
// serialization.
func TestRegNetGenesisBlock(t *testing.T) {
	t.Parallel()

	params := &RegressionNetParams

	var buf bytes.Buffer
	if err := params.GenesisBlock.Serialize(&buf); err != nil {
		t.Fatalf("TestRegNetGenesisBlock: %v", err)
	}

	hash := params.GenesisBlock.BlockHash()
	if !params.GenesisHash.IsEqual(&hash) {
		t.Fatalf("TestRegNetGenesisBlock: genesis hash mismatch - got %v, want %v",
			spew.Sdump(hash), spew.Sdump(params.GenesisHash))
	}
}
