// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// coinbaseWithHeightScript builds a minimal coinbase transaction whose
// signature script pushes height per BIP34.
func coinbaseWithHeightScript(t *testing.T, height int64) *btcutil.Tx {
	t.Helper()

	builder := txscript.NewScriptBuilder().AddInt64(height)
	sigScript, err := builder.Script()
	if err != nil {
		t.Fatalf("failed to build coinbase script: %v", err)
	}

	msgTx := wire.NewMsgTx(wire.TxVersion)
	msgTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0xffffffff},
		SignatureScript:  sigScript,
		Sequence:         wire.MaxTxInSequenceNum,
	})
	msgTx.AddTxOut(&wire.TxOut{Value: 5000000000, PkScript: []byte{}})
	return btcutil.NewTx(msgTx)
}

func TestExtractCoinbaseHeight(t *testing.T) {
	tests := []struct {
		name       string
		height     int64
		mangle     func(sigScript []byte) []byte
		wantHeight int64
		wantErr    bool
	}{
		{name: "height 0", height: 0, wantHeight: 0},
		{name: "height 1 (OP_1 minimal push)", height: 1, wantHeight: 1},
		{name: "height 16 (OP_16 minimal push)", height: 16, wantHeight: 16},
		{name: "height 17 (data push)", height: 17, wantHeight: 17},
		{name: "height 500000", height: 500000, wantHeight: 500000},
		{
			name:    "empty signature script",
			height:  500000,
			mangle:  func(sigScript []byte) []byte { return nil },
			wantErr: true,
		},
		{
			name:   "declared push length exceeds script",
			height: 500000,
			mangle: func(sigScript []byte) []byte {
				return sigScript[:len(sigScript)-1]
			},
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			tx := coinbaseWithHeightScript(t, test.height)
			if test.mangle != nil {
				tx.MsgTx().TxIn[0].SignatureScript =
					test.mangle(tx.MsgTx().TxIn[0].SignatureScript)
			}

			gotHeight, err := ExtractCoinbaseHeight(tx)
			if test.wantErr {
				var ruleErr RuleError
				if !errors.As(err, &ruleErr) || !errors.Is(err, ErrCoinbaseHeight) {
					t.Fatalf("expected ErrCoinbaseHeight, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if gotHeight != test.wantHeight {
				t.Errorf("got height %d, want %d", gotHeight, test.wantHeight)
			}
		})
	}
}

func TestCheckSerializedHeight(t *testing.T) {
	tx := coinbaseWithHeightScript(t, 12345)

	if err := checkSerializedHeight(tx, 12345); err != nil {
		t.Fatalf("unexpected error for matching height: %v", err)
	}

	err := checkSerializedHeight(tx, 12346)
	if !errors.Is(err, ErrCoinbaseHeight) {
		t.Fatalf("expected ErrCoinbaseHeight for mismatched height, got %v", err)
	}
}

func TestIsFinalizedTransaction(t *testing.T) {
	tests := []struct {
		name        string
		lockTime    uint32
		sequence    uint32
		blockHeight int64
		blockTime   time.Time
		want        bool
	}{
		{
			name:     "zero locktime is always final",
			lockTime: 0,
			sequence: 0,
			want:     true,
		},
		{
			name:        "height locktime satisfied",
			lockTime:    100,
			sequence:    0,
			blockHeight: 101,
			want:        true,
		},
		{
			name:        "height locktime not yet satisfied, non-final sequence",
			lockTime:    100,
			sequence:    0,
			blockHeight: 99,
			want:        false,
		},
		{
			name:        "height locktime not yet satisfied but max sequence",
			lockTime:    100,
			sequence:    wire.MaxTxInSequenceNum,
			blockHeight: 99,
			want:        true,
		},
		{
			name:      "time locktime satisfied",
			lockTime:  uint32(txscript.LockTimeThreshold) + 100,
			sequence:  0,
			blockTime: time.Unix(int64(txscript.LockTimeThreshold)+200, 0),
			want:      true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			msgTx := wire.NewMsgTx(wire.TxVersion)
			msgTx.LockTime = test.lockTime
			msgTx.AddTxIn(&wire.TxIn{Sequence: test.sequence})
			tx := btcutil.NewTx(msgTx)

			got := isFinalizedTransaction(tx, test.blockHeight, test.blockTime)
			if got != test.want {
				t.Errorf("got %v, want %v", got, test.want)
			}
		})
	}
}

func TestValidateWitnessCommitmentNoCommitmentNoWitness(t *testing.T) {
	coinbase := coinbaseWithHeightScript(t, 1)
	block := btcutil.NewBlock(&wire.MsgBlock{
		Header:       wire.BlockHeader{},
		Transactions: []*wire.MsgTx{coinbase.MsgTx()},
	})

	if err := validateWitnessCommitment(block); err != nil {
		t.Fatalf("unexpected error for block with no commitment or witness data: %v", err)
	}
}

func TestValidateWitnessCommitmentUnexpectedWitness(t *testing.T) {
	coinbase := coinbaseWithHeightScript(t, 1)

	witnessTx := wire.NewMsgTx(wire.TxVersion)
	witnessTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0},
		Witness:          wire.TxWitness{{0x01}},
	})
	witnessTx.AddTxOut(&wire.TxOut{Value: 1, PkScript: []byte{}})

	block := btcutil.NewBlock(&wire.MsgBlock{
		Header:       wire.BlockHeader{},
		Transactions: []*wire.MsgTx{coinbase.MsgTx(), witnessTx},
	})

	err := validateWitnessCommitment(block)
	if !errors.Is(err, ErrUnexpectedWitness) {
		t.Fatalf("expected ErrUnexpectedWitness, got %v", err)
	}
}
