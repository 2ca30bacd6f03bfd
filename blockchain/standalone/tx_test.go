// Copyright (c) 2019-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package standalone

import (
	"bytes"
	"encoding/hex"
	"math"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

func mustDecodeTx(t *testing.T, hexStr string) *wire.MsgTx {
	t.Helper()

	txBytes, err := hex.DecodeString(hexStr)
	if err != nil {
		t.Fatalf("unexpected err parsing tx hex: %v", err)
	}

	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(txBytes)); err != nil {
		t.Fatalf("unexpected err parsing tx: %v", err)
	}
	return &tx
}

// TestIsCoinbaseTx ensures coinbase identification works as intended.
func TestIsCoinbaseTx(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tx   string
		want bool
	}{{
		name: "genesis coinbase",
		tx: "01000000010000000000000000000000000000000000000000000000000000000" +
			"000000000ffffffff4d04ffff001d0104455468652054696d65732030332f4a616" +
			"e2f32303039204368616e63656c6c6f72206f6e206272696e6b206f66207365636" +
			"f6e64206261696c6f757420666f722062616e6b73ffffffff0100f2052a0100000" +
			"0434104678afdb0fe5548271967f1a67130b7105cd6a828e03909a67962e0" +
			"ea1f61deb649f6bc3f4cef38c4f35504e51ec112de5c384df7ba0b8d578a4c702b" +
			"6bf11d5fac00000000",
		want: true,
	}}

	for _, test := range tests {
		tx := mustDecodeTx(t, test.tx)
		result := IsCoinBaseTx(tx)
		if result != test.want {
			t.Errorf("%s: unexpected result -- got %v, want %v", test.name,
				result, test.want)
		}
	}

	// A transaction with an input that references a real (non-null) previous
	// outpoint is not a coinbase, regardless of how many inputs it has.
	spend := &wire.MsgTx{
		Version: 1,
		TxIn: []*wire.TxIn{{
			PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 0},
			Sequence:         wire.MaxTxInSequenceNum,
		}},
		TxOut: []*wire.TxOut{{Value: 5000}},
	}
	if IsCoinBaseTx(spend) {
		t.Error("spend: unexpectedly classified as a coinbase")
	}

	// A transaction with more than one input is never a coinbase even if the
	// first input's previous outpoint is null.
	multiIn := &wire.MsgTx{
		Version: 1,
		TxIn: []*wire.TxIn{
			{PreviousOutPoint: wire.OutPoint{Hash: zeroHash, Index: math.MaxUint32}},
			{PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0x02}, Index: 0}},
		},
		TxOut: []*wire.TxOut{{Value: 5000}},
	}
	if IsCoinBaseTx(multiIn) {
		t.Error("multiIn: unexpectedly classified as a coinbase")
	}
}

// TestCheckTransactionSanity ensures the context-free transaction checks
// reject the expected malformed cases.
func TestCheckTransactionSanity(t *testing.T) {
	t.Parallel()

	base := mustDecodeTx(t, "01000000010000000000000000000000000000000000000000000"+
		"000000000000000000000ffffffff4d04ffff001d0104455468652054696d657320"+
		"3033" +
		"2f4a616e2f32303039204368616e63656c6c6f72206f6e206272696e6b206f662073656"+
		"36f6e64206261696c6f757420666f722062616e6b73ffffffff0100f2052a01000000"+
		"434104678afdb0fe5548271967f1a67130b7105cd6a828e03909a67962e0ea1f6"+
		"1deb649f6bc3f4cef38c4f35504e51ec112de5c384df7ba0b8d578a4c702b6bf11d5f"+
		"ac00000000")

	if err := CheckTransactionSanity(base, 1_000_000); err != nil {
		t.Fatalf("unexpected error on sane coinbase: %v", err)
	}

	noOutputs := *base
	noOutputs.TxOut = nil
	if err := CheckTransactionSanity(&noOutputs, 1_000_000); err == nil {
		t.Fatal("expected error for transaction with no outputs")
	}

	negative := *base
	negOut := *base.TxOut[0]
	negOut.Value = -1
	negative.TxOut = []*wire.TxOut{&negOut}
	if err := CheckTransactionSanity(&negative, 1_000_000); err == nil {
		t.Fatal("expected error for negative output value")
	}

	tooBig := *base
	tooBigOut := *base.TxOut[0]
	tooBigOut.Value = maxSatoshi + 1
	tooBig.TxOut = []*wire.TxOut{&tooBigOut}
	if err := CheckTransactionSanity(&tooBig, 1_000_000); err == nil {
		t.Fatal("expected error for output value exceeding max satoshi")
	}
}
