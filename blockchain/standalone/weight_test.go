// Copyright (c) 2019-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package standalone

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
)

func TestGetTransactionWeight(t *testing.T) {
	t.Parallel()

	tx := mustDecodeTx(t, "01000000010000000000000000000000000000000000000000000"+
		"000000000000000000000ffffffff4d04ffff001d0104455468652054696d657320"+
		"30332f4a616e2f32303039204368616e63656c6c6f72206f6e206272696e6b206f6"+
		"6207365636f6e64206261696c6f757420666f722062616e6b73ffffffff0100f205"+
		"2a01000000434104678afdb0fe5548271967f1a67130b7105cd6a828e03909a"+
		"67962e0ea1f61deb649f6bc3f4cef38c4f35504e51ec112de5c384df7ba0b8d578a"+
		"4c702b6bf11d5fac00000000")

	// A transaction with no witness data has an equal stripped and total
	// size, so its weight is exactly 4 times its size.
	strippedSize := int64(tx.SerializeSizeStripped())
	totalSize := int64(tx.SerializeSize())
	if strippedSize != totalSize {
		t.Fatalf("expected non-witness tx to have equal sizes, got %d != %d",
			strippedSize, totalSize)
	}

	got := GetTransactionWeight(tx)
	want := strippedSize * WitnessScaleFactor
	if got != want {
		t.Errorf("unexpected weight -- got %d, want %d", got, want)
	}
}

func TestGetBlockWeight(t *testing.T) {
	t.Parallel()

	block := &wire.MsgBlock{
		Header: wire.BlockHeader{Version: 1},
		Transactions: []*wire.MsgTx{
			mustDecodeTx(t, "01000000010000000000000000000000000000000000000000000"+
				"000000000000000000000ffffffff4d04ffff001d0104455468652054696d"+
				"6573203033" +
				"2f4a616e2f32303039204368616e63656c6c6f72206f6e206272696e6b206"+
				"f6620736563" +
				"6f6e64206261696c6f757420666f722062616e6b73ffffffff0100f2052a0"+
				"100000043410" +
				"4678afdb0fe5548271967f1a67130b7105cd6a828e03909a67962e0ea"+
				"1f61deb649f6" +
				"bc3f4cef38c4f35504e51ec112de5c384df7ba0b8d578a4c702b6bf11d5fa" +
				"c00000000"),
		},
	}

	strippedSize := GetStrippedSize(block)
	totalSize := GetBlockSize(block)
	if int64(strippedSize) != totalSize {
		t.Fatalf("expected non-witness block to have equal sizes, got %d != %d",
			strippedSize, totalSize)
	}

	got := GetBlockWeight(block)
	want := int64(strippedSize) * WitnessScaleFactor
	if got != want {
		t.Errorf("unexpected weight -- got %d, want %d", got, want)
	}
}
