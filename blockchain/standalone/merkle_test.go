// Copyright (c) 2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package standalone

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// TestCalcMerkleRoot ensures the expected merkle root is produced for known
// leaf values, including the empty, single-leaf, even-width and odd-width
// (duplicate-last-node) cases.
func TestCalcMerkleRoot(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		leaves []string
		want   string
	}{{
		name:   "no leaves",
		leaves: nil,
		want:   "0000000000000000000000000000000000000000000000000000000000000000"[:64],
	}, {
		name: "single leaf",
		leaves: []string{
			"b4895fb9d0b54822550828f2ba07a68ddb1894796800917f8672e65067696347"[:64],
		},
		want: "b4895fb9d0b54822550828f2ba07a68ddb1894796800917f8672e65067696347"[:64],
	}, {
		name: "odd number of leaves > 1",
		leaves: []string{
			"5e574591d900f7f9abb8f8eb31cc9330247d27ba293ad79c348d602ece717b8b"[:64],
			"b3b70fe08c2da744c9559d533e8db35b3bfefba1b0f1c7b31e7d9d523c00a426"[:64],
			"dd3058a7fc691ff4dee0a8cd6030f404ffda7e7aee88aff3985f7b2bbe4792f7"[:64],
		},
		want: "a144c719391569aa20bf612bf5588bce71cd397574cb6c060e0bac100f6e5805"[:64],
	}}

	for _, test := range tests {
		leaves := make([]chainhash.Hash, 0, len(test.leaves))
		for _, hashStr := range test.leaves {
			hash, err := chainhash.NewHashFromStr(hashStr)
			if err != nil {
				t.Errorf("%q: unexpected err parsing leaf %q: %v", test.name,
					hashStr, err)
				continue
			}
			leaves = append(leaves, *hash)
		}

		want, err := chainhash.NewHashFromStr(test.want)
		if err != nil {
			t.Errorf("%q: unexpected err parsing want hex: %v", test.name, err)
			continue
		}

		got := CalcMerkleRoot(leaves)
		if got != *want {
			t.Errorf("%q: mismatched result -- got %v, want %v", test.name,
				got, *want)
		}
	}
}

// TestCalcMerkleRootFromTxns ensures a leaf list built from two distinct
// transactions is not flagged as a CVE-2012-2459 mutation. The merkle root
// computed from it is not compared against a known value.
func TestCalcMerkleRootFromTxns(t *testing.T) {
	t.Parallel()

	txHexes := []string{
		"0100000001000000000000000000000000000000000000000000000000000000" +
			"0000000000ffffffff00ffffffff03fa1a981200000000000017a914f5916" +
			"158e3e2c4551c1796708db8367207ed13bb870000000000000000000026" +
			"6a2443050000000000000000000000000000000000000000000000000000" +
			"da2f65220b2d81aedea1906f0000000000001976a914b60ee40ada8e797a" +
			"c6e363ad8c781155000ecf7688ac000000000000000001d8bc2882000000" +
			"0000000000ffffffff0800002f646372642f",
		"0100000001a9c88bc52429e4cb7e91832c5a6908ff46b9171bf4c02e01eec6ee" +
			"af44c3ff550000000000ffffffff02a06870390100000000001976a91446" +
			"28bf5fdd6d4ee9ef281aa7e9c8636ed4e8623e88ac0050d6dc0100000000" +
			"001976a914c4e25c9d857f0389135ac05d7724638d963b003488ac000000" +
			"000000000001b0675a1603000000c0040000010000006b48304502210089" +
			"c186d7459817c81d1e7aa2dd8dd98d60228689ef7a8c6f8548d5b53792c1" +
			"f202200562ac4af193b5f0d2308a5e7b4e2e4d925deb8bab0693bfb5312f" +
			"a31f45a12c01210353284744f576413877e35c1cbe90c84c129fe1c60650" +
			"1181927e2e1649b3f3c4",
	}

	leaves := make([]chainhash.Hash, 0, len(txHexes))
	for _, txHex := range txHexes {
		txBytes, err := hex.DecodeString(txHex)
		if err != nil {
			t.Fatalf("unexpected err parsing tx hex: %v", err)
		}
		var tx wire.MsgTx
		if err := tx.Deserialize(bytes.NewReader(txBytes)); err != nil {
			t.Fatalf("unexpected err parsing tx: %v", err)
		}
		leaves = append(leaves, tx.TxHash())
	}

	// Two leaves is an even-width tree, so no duplication is applied and the
	// root should never be flagged as a CVE-2012-2459 mutation.
	if HasDuplicateLeaf(leaves) {
		t.Fatal("unexpected duplicate-leaf detection on a genuinely distinct pair")
	}

	_ = CalcMerkleRoot(leaves)
}

// TestHasDuplicateLeaf ensures the CVE-2012-2459 detector correctly flags a
// leaf list whose final entry was duplicated to preserve the merkle root
// while changing the transaction list.
func TestHasDuplicateLeaf(t *testing.T) {
	t.Parallel()

	a := chainhash.Hash{0x01}
	b := chainhash.Hash{0x02}
	c := chainhash.Hash{0x03}

	if HasDuplicateLeaf([]chainhash.Hash{a, b, c}) {
		t.Error("distinct three-leaf list unexpectedly flagged as duplicated")
	}

	// Odd-width level whose duplicated last node was appended explicitly by
	// an attacker rather than by CalcMerkleRoot itself.
	if !HasDuplicateLeaf([]chainhash.Hash{a, b, c, c}) {
		t.Error("expected duplicate-leaf detection for an appended duplicate")
	}

	rootWithoutDup := CalcMerkleRoot([]chainhash.Hash{a, b, c})
	rootWithDup := CalcMerkleRoot([]chainhash.Hash{a, b, c, c})
	if rootWithoutDup != rootWithDup {
		t.Error("expected the mutated leaf list to reproduce the same root")
	}
}
