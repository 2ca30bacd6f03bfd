// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// PrevScripter defines an interface that provides access to scripts keyed by
// an outpoint. The boolean return indicates whether or not the script for
// the provided outpoint was found.
type PrevScripter interface {
	PrevScript(*wire.OutPoint) ([]byte, bool)
	PrevOutputAmount(*wire.OutPoint) (int64, bool)
}

// prevOutputFetcher adapts a PrevScripter to the txscript.PrevOutputFetcher
// interface required by txscript.NewEngine.
type prevOutputFetcher struct {
	prevScripts PrevScripter
}

// FetchPrevOutput returns the previous output referenced by the passed
// outpoint, or nil if it is unknown.
func (p *prevOutputFetcher) FetchPrevOutput(op wire.OutPoint) *wire.TxOut {
	pkScript, ok := p.prevScripts.PrevScript(&op)
	if !ok {
		return nil
	}
	amount, _ := p.prevScripts.PrevOutputAmount(&op)
	return &wire.TxOut{Value: amount, PkScript: pkScript}
}

// txValidateItem holds a transaction along with which input to validate.
type txValidateItem struct {
	txInIndex int
	txIn      *wire.TxIn
	tx        *btcutil.Tx
}

// txValidator provides a type which asynchronously validates transaction
// inputs. It provides several channels for communication and a processing
// function that is intended to be run in multiple goroutines.
type txValidator struct {
	validateChan chan *txValidateItem
	resultChan   chan error
	prevScripts  PrevScripter
	flags        txscript.ScriptFlags
	sigCache     *txscript.SigCache
}

// sendResult sends the result of a script pair validation on the internal
// result channel while respecting the context. This allows orderly shutdown
// when the validation process is aborted early due to a validation error in
// one of the other goroutines.
func (v *txValidator) sendResult(ctx context.Context, result error) {
	select {
	case v.resultChan <- result:
	case <-ctx.Done():
	}
}

// validateHandler consumes items to validate from the internal validate
// channel and returns the result of the validation on the internal result
// channel. It must be run as a goroutine.
func (v *txValidator) validateHandler(ctx context.Context) {
out:
	for {
		select {
		case <-ctx.Done():
			break out

		case txVI := <-v.validateChan:
			txIn := txVI.txIn
			prevOut := &txIn.PreviousOutPoint
			pkScript, ok := v.prevScripts.PrevScript(prevOut)
			if !ok {
				str := fmt.Sprintf("unable to find unspent output %v "+
					"referenced from transaction %s:%d", *prevOut,
					txVI.tx.Hash(), txVI.txInIndex)
				v.sendResult(ctx, ruleError(ErrMissingTxOut, str))
				break out
			}

			sigScript := txIn.SignatureScript
			inputAmount, _ := v.prevScripts.PrevOutputAmount(prevOut)
			vm, err := txscript.NewEngine(pkScript, txVI.tx.MsgTx(),
				txVI.txInIndex, v.flags, v.sigCache, nil, inputAmount,
				&prevOutputFetcher{prevScripts: v.prevScripts})
			if err != nil {
				str := fmt.Sprintf("failed to parse input %s:%d which "+
					"references output %v - %v (input script bytes %x, prev "+
					"output script bytes %x)", txVI.tx.Hash(), txVI.txInIndex,
					*prevOut, err, sigScript, pkScript)
				v.sendResult(ctx, ruleError(ErrScriptMalformed, str))
				break out
			}

			if err := vm.Execute(); err != nil {
				str := fmt.Sprintf("failed to validate input %s:%d which "+
					"references output %v - %v (input script bytes %x, prev "+
					"output script bytes %x)", txVI.tx.Hash(), txVI.txInIndex,
					*prevOut, err, sigScript, pkScript)
				v.sendResult(ctx, ruleError(ErrScriptValidation, str))
				break out
			}

			v.sendResult(ctx, nil)
		}
	}
}

// Validate validates the scripts for all of the passed transaction inputs
// using multiple goroutines.
func (v *txValidator) Validate(items []*txValidateItem) error {
	if len(items) == 0 {
		return nil
	}

	// Limit the number of goroutines to do script validation based on the
	// number of processor cores. This helps ensure the system stays
	// reasonably responsive under heavy load.
	maxGoRoutines := runtime.NumCPU() * 3
	if maxGoRoutines <= 0 {
		maxGoRoutines = 1
	}
	if maxGoRoutines > len(items) {
		maxGoRoutines = len(items)
	}

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < maxGoRoutines; i++ {
		go v.validateHandler(ctx)
	}

	numInputs := len(items)
	currentItem := 0
	processedItems := 0
	for processedItems < numInputs {
		var validateChan chan *txValidateItem
		var item *txValidateItem
		if currentItem < numInputs {
			validateChan = v.validateChan
			item = items[currentItem]
		}

		select {
		case validateChan <- item:
			currentItem++

		case err := <-v.resultChan:
			processedItems++
			if err != nil {
				cancel()
				return err
			}
		}
	}

	cancel()
	return nil
}

// newTxValidator returns a new instance of txValidator to be used for
// validating transaction scripts asynchronously.
func newTxValidator(prevScripts PrevScripter, flags txscript.ScriptFlags, sigCache *txscript.SigCache) *txValidator {
	return &txValidator{
		validateChan: make(chan *txValidateItem),
		resultChan:   make(chan error),
		prevScripts:  prevScripts,
		sigCache:     sigCache,
		flags:        flags,
	}
}

// checkBlockScripts executes and validates the scripts for all transactions
// in the passed block using multiple goroutines dispatched across the number
// of available processor cores.
func checkBlockScripts(txs []*btcutil.Tx, view *UtxoViewpoint,
	scriptFlags txscript.ScriptFlags, sigCache *txscript.SigCache) error {

	numInputs := 0
	for _, tx := range txs {
		numInputs += len(tx.MsgTx().TxIn)
	}
	txValItems := make([]*txValidateItem, 0, numInputs)
	for _, tx := range txs {
		for txInIdx, txIn := range tx.MsgTx().TxIn {
			// Skip coinbase inputs -- there is no previous output script to
			// verify against.
			if txIn.PreviousOutPoint.Index == math.MaxUint32 &&
				txIn.PreviousOutPoint.Hash == zeroHash {
				continue
			}

			txValItems = append(txValItems, &txValidateItem{
				txInIndex: txInIdx,
				txIn:      txIn,
				tx:        tx,
			})
		}
	}

	return newTxValidator(view, scriptFlags, sigCache).Validate(txValItems)
}
