// Copyright (c) 2019-2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"context"
	"crypto/rand"
	"math"
	"sync"
	"time"

	"github.com/blockrelay/btcchain/internal/blockchain"
	"github.com/blockrelay/btcchain/internal/uniform"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// templateRegenSecs is the required number of seconds elapsed with
	// incoming new transactions before template regeneration is required.
	templateRegenSecs = 30
)

// regenEventType represents the type of a template regeneration event message.
type regenEventType int

// Constants for the type of template regeneration event messages.
const (
	// rtReorgStarted indicates a chain reorganization has been started.
	rtReorgStarted regenEventType = iota

	// rtReorgDone indicates a chain reorganization has completed.
	rtReorgDone

	// rtBlockConnected indicates a new block has been connected to the main
	// chain.
	rtBlockConnected

	// rtBlockDisconnected indicates the current tip block of the best chain has
	// been disconnected.
	rtBlockDisconnected

	// rtTemplateUpdated indicates the current template associated with the
	// generator has been updated.
	rtTemplateUpdated

	// rtForceRegen indicates the template should be regenerated even if
	// it's not yet time for it to be regenerated.
	rtForceRegen
)

// TemplateUpdateReason represents the type of a reason why a template is
// being updated.
type TemplateUpdateReason int

// Constants for the type of template update reasons.
const (
	// TURNewParent indicates the associated template has been updated because
	// it builds on a new block as compared to the previous template.
	TURNewParent TemplateUpdateReason = iota

	// TURNewTxns indicates the associated template has been updated because new
	// transactions are available and have potentially been included.
	TURNewTxns

	// turUnknown indicates the associated template has either been updated due
	// to an error or cleared for a chain reorg.  It is only used internally to
	// the background template generator.
	turUnknown
)

// TemplateNtfn represents a notification of a new template along with the
// reason it was generated.  It is sent to subscribers on the channel obtained
// from the TemplateSubscription instance returned by Subscribe.
type TemplateNtfn struct {
	Template *BlockTemplate
	Reason   TemplateUpdateReason
}

// templateUpdate defines a type which is used to signal the regen event handler
// that a new template and relevant error have been associated with the
// generator.
type templateUpdate struct {
	template *BlockTemplate
	err      error
}

// regenEvent defines an event which will potentially result in regenerating a
// block template and consists of a regen event type as well as associated data
// that depends on the type as follows:
//   - rtReorgStarted:      nil
//   - rtReorgDone:         nil
//   - rtBlockConnected:    *btcutil.Block
//   - rtBlockDisconnected: *btcutil.Block
//   - rtTemplateUpdated:   templateUpdate
type regenEvent struct {
	reason regenEventType
	value  interface{}
}

// waitGroup behaves simlarly to a sync.WaitGroup without the restriction that
// Adds() and Waits() must be synchronized if the wait group is empty.
type waitGroup struct {
	mtx sync.Mutex
	c   int64
	dc  chan struct{}
}

func (wg *waitGroup) Add(i int64) {
	wg.mtx.Lock()
	wg.c += i
	switch {
	case wg.c < 0:
		panic("counter cannot be negative")

	case wg.c > 0 && wg.dc == nil:
		wg.dc = make(chan struct{})

	case wg.c == 0 && wg.dc != nil:
		close(wg.dc)
		wg.dc = nil
	}
	wg.mtx.Unlock()
}

func (wg *waitGroup) Done() {
	wg.Add(-1)
}

func (wg *waitGroup) Wait() {
	wg.mtx.Lock()
	dc := wg.dc
	wg.mtx.Unlock()
	if dc == nil {
		return
	}
	<-dc
}

// BgBlkTmplGenerator provides facilities for asynchronously generating block
// templates in response to various relevant events and allowing clients to
// subscribe for updates when new templates are generated as well as access the
// most recently-generated template in a concurrency-safe manner.
//
// An example of some of the events that trigger a new block template to be
// generated are modifications to the current best chain and periodic
// timeouts to allow inclusion of new transactions.
//
// The background generation makes use of three main goroutines -- a regen event
// queue to allow asynchronous non-blocking signalling, a regen event handler to
// process the aforementioned queue and react accordingly, and a subscriber
// notification controller.  In addition, the templates themselves are generated
// in their own goroutines with a cancellable context.
type BgBlkTmplGenerator struct {
	quit chan struct{}

	cfg BgBlkTmplConfig
	tg  *BlkTmplGenerator

	subscriptionMtx   sync.Mutex
	subscriptions     map[*TemplateSubscription]struct{}
	notifySubscribers chan *TemplateNtfn

	queueRegenEvent chan regenEvent
	regenEventMsgs  chan regenEvent

	// staleTemplateWg is used to allow template retrieval to block callers when
	// a new template that will make the current template stale is being
	// generated. Stale, in this context, means the parent has changed.
	staleTemplateWg waitGroup

	templateMtx    sync.Mutex
	template       *BlockTemplate
	templateReason TemplateUpdateReason
	templateErr    error

	cancelTemplateMtx sync.Mutex
	cancelTemplate    func()
}

// BgBlkTmplConfig holds the configuration options related to the background
// block template generator.
type BgBlkTmplConfig struct {
	// TemplateGenerator specifies the generator to use when generating the
	// block templates.
	TemplateGenerator *BlkTmplGenerator

	// MiningAddrs specifies the addresses to choose from when paying mining
	// rewards in generated templates.
	MiningAddrs []btcutil.Address

	// AllowUnsyncedMining indicates block templates should be created even when
	// the chain is not fully synced.
	AllowUnsyncedMining bool

	// IsCurrent defines the function to use to determine whether or not the
	// chain is current (synced).
	IsCurrent func() bool
}

// NewBgBlkTmplGenerator initializes a background block template generator with
// the provided parameters.  The returned instance must be started with the Run
// method to allowing processing.
func NewBgBlkTmplGenerator(cfg *BgBlkTmplConfig) *BgBlkTmplGenerator {
	return &BgBlkTmplGenerator{
		quit:              make(chan struct{}),
		cfg:               *cfg,
		tg:                cfg.TemplateGenerator,
		subscriptions:     make(map[*TemplateSubscription]struct{}),
		notifySubscribers: make(chan *TemplateNtfn),
		queueRegenEvent:   make(chan regenEvent),
		regenEventMsgs:    make(chan regenEvent),
		cancelTemplate:    func() {},
	}
}

// UpdateBlockTime updates the timestamp in the passed header to the current
// time while taking into account the median time of the last several blocks to
// ensure the new time is after that time per the chain consensus rules.
func (g *BgBlkTmplGenerator) UpdateBlockTime(header *wire.BlockHeader) {
	g.tg.UpdateBlockTime(header)
}

// sendQueueRegenEvent sends the provided regen event on the internal queue
// regen event channel while respecting the quit channel.  This allows orderly
// shutdown when the generator is shutdown.
func (g *BgBlkTmplGenerator) sendQueueRegenEvent(event regenEvent) {
	select {
	case g.queueRegenEvent <- event:
	case <-g.quit:
	}
}

// setCurrentTemplate sets the current template and error associated with the
// background block template generator and notifies the regen event handler
// about the update.
//
// This function is safe for concurrent access.
func (g *BgBlkTmplGenerator) setCurrentTemplate(template *BlockTemplate, reason TemplateUpdateReason, err error) {
	g.templateMtx.Lock()
	g.template, g.templateReason, g.templateErr = template, reason, err
	g.templateMtx.Unlock()

	tplUpdate := templateUpdate{template: template, err: err}
	g.sendQueueRegenEvent(regenEvent{rtTemplateUpdated, tplUpdate})
}

// currentTemplate returns the current template associated with the background
// template generator along with the associated reason and error.
//
// This function is safe for concurrent access.
func (g *BgBlkTmplGenerator) currentTemplate() (*BlockTemplate, TemplateUpdateReason, error) {
	g.staleTemplateWg.Wait()
	g.templateMtx.Lock()
	template, reason, err := g.template, g.templateReason, g.templateErr
	g.templateMtx.Unlock()
	return template, reason, err
}

// CurrentTemplate returns the current template associated with the background
// template generator along with any associated error.
//
// NOTE: The returned template and block that it contains MUST be treated as
// immutable since they are shared by all callers.
//
// This function is safe for concurrent access.
func (g *BgBlkTmplGenerator) CurrentTemplate() (*BlockTemplate, error) {
	template, _, err := g.currentTemplate()
	return template, err
}

// TemplateSubscription defines a subscription to receive block template updates
// from the background block template generator.  The caller must call Stop on
// the subscription when it is no longer needed to free resources.
type TemplateSubscription struct {
	g     *BgBlkTmplGenerator
	privC chan *TemplateNtfn
}

// C returns a channel that produces a stream of block templates as each new
// template is generated.  Successive calls to C return the same channel.
func (s *TemplateSubscription) C() <-chan *TemplateNtfn {
	return s.privC
}

// Stop prevents any future template updates from being delivered and
// unsubscribes the associated subscription.
func (s *TemplateSubscription) Stop() {
	s.g.subscriptionMtx.Lock()
	delete(s.g.subscriptions, s)
	s.g.subscriptionMtx.Unlock()
}

// publishTemplateNtfn sends the provided template notification on the channel
// associated with the subscription.
func (s *TemplateSubscription) publishTemplateNtfn(templateNtfn *TemplateNtfn) {
	select {
	case s.privC <- templateNtfn:
	default:
	}
}

// notifySubscribersHandler updates subscribers with newly created block
// templates.
//
// This must be run as a goroutine.
func (g *BgBlkTmplGenerator) notifySubscribersHandler(ctx context.Context) {
	for {
		select {
		case templateNtfn := <-g.notifySubscribers:
			g.subscriptionMtx.Lock()
			for subscription := range g.subscriptions {
				subscription.publishTemplateNtfn(templateNtfn)
			}
			g.subscriptionMtx.Unlock()

		case <-ctx.Done():
			return
		}
	}
}

// Subscribe subscribes a client for block template updates.  The returned
// template subscription contains functions to retrieve a channel that produces
// the stream of block templates and to stop the stream when the caller no
// longer wishes to receive new templates.
//
// The current template associated with the background block template generator,
// if any, is immediately sent to the returned subscription stream.
func (g *BgBlkTmplGenerator) Subscribe() *TemplateSubscription {
	c := make(chan *TemplateNtfn, 4)
	subscription := &TemplateSubscription{
		g:     g,
		privC: c,
	}
	g.subscriptionMtx.Lock()
	g.subscriptions[subscription] = struct{}{}
	g.subscriptionMtx.Unlock()

	template, reason, err := g.currentTemplate()
	if err == nil && template != nil {
		subscription.publishTemplateNtfn(&TemplateNtfn{template, reason})
	}

	return subscription
}

// regenQueueHandler immediately forwards items from the regen event queue
// channel to the regen event messages channel when it would not block or adds
// the event to an internal queue to be processed as soon as the receiver
// becomes available.  This ensures that queueing regen events never blocks
// despite how busy the regen handler might become during a burst of events.
//
// This must be run as a goroutine.
func (g *BgBlkTmplGenerator) regenQueueHandler(ctx context.Context) {
	var q []regenEvent
	var out, dequeue chan<- regenEvent = g.regenEventMsgs, nil
	skipQueue := out
	var next regenEvent
	for {
		select {
		case n := <-g.queueRegenEvent:
			select {
			case skipQueue <- n:
			default:
				q = append(q, n)
				dequeue = out
				skipQueue = nil
				next = q[0]
			}

		case dequeue <- next:
			copy(q, q[1:])
			q = q[:len(q)-1]
			if len(q) == 0 {
				dequeue = nil
				skipQueue = out
			} else {
				next = q[0]
			}

		case <-ctx.Done():
			return
		}
	}
}

// regenHandlerState houses the state used in the regen event handler goroutine.
type regenHandlerState struct {
	// isReorganizing indicates the chain is currently undergoing a
	// reorganization and therefore the generator should not attempt to create
	// new templates until the reorganization has completed.
	isReorganizing bool

	regenTimer        *time.Timer
	regenChanDrained  bool
	lastGeneratedTime int64

	failedGenRetryTimeout <-chan time.Time

	baseBlockHash   chainhash.Hash
	baseBlockHeight uint32
}

// makeRegenHandlerState returns a regen handler state that is ready to use.
func makeRegenHandlerState() regenHandlerState {
	regenTimer := time.NewTimer(math.MaxInt64)
	regenTimer.Stop()
	return regenHandlerState{
		regenTimer:       regenTimer,
		regenChanDrained: true,
	}
}

// stopRegenTimer stops the regen timer while ensuring to read from the timer's
// channel in the case the timer already expired.
func (state *regenHandlerState) stopRegenTimer() {
	t := state.regenTimer
	if !t.Stop() && !state.regenChanDrained {
		<-t.C
	}
	state.regenChanDrained = true
}

// resetRegenTimer resets the regen timer to the given duration while ensuring
// to read from the timer's channel in the case the timer already expired.
func (state *regenHandlerState) resetRegenTimer(d time.Duration) {
	state.stopRegenTimer()
	state.regenTimer.Reset(d)
	state.regenChanDrained = false
}

// genTemplateAsync cancels any asynchronous block template that is already
// currently being generated and launches a new goroutine to asynchronously
// generate a new one with the provided reason.  It also handles updating the
// current template and error associated with the generator with the results in
// a concurrent safe fashion and, in the case a successful template is
// generated, notifies the subscription handler goroutine with the new template.
func (g *BgBlkTmplGenerator) genTemplateAsync(ctx context.Context, reason TemplateUpdateReason) {
	g.cancelTemplateMtx.Lock()
	g.cancelTemplate()
	ctx, g.cancelTemplate = context.WithCancel(ctx)
	g.cancelTemplateMtx.Unlock()

	// Ensure that attempts to retrieve the current template block until the
	// new template is generated when it is because the parent has changed,
	// to avoid handing out a template that is guaranteed to be stale soon
	// after.
	blockRetrieval := reason == TURNewParent
	if blockRetrieval {
		g.staleTemplateWg.Add(1)
	}
	go func(ctx context.Context, reason TemplateUpdateReason, blockRetrieval bool) {
		if blockRetrieval {
			defer g.staleTemplateWg.Done()
		}

		addrIdx := uniform.Int32n(rand.Reader, int32(len(g.cfg.MiningAddrs)))
		payToAddr := g.cfg.MiningAddrs[addrIdx]
		template, err := g.tg.NewBlockTemplate(payToAddr, uniform.Uint64(rand.Reader))
		if err != nil {
			log.Tracef("NewBlockTemplate: %v", err)
		}

		if ctx.Err() != nil {
			return
		}

		if err != nil {
			reason = turUnknown
		}
		g.setCurrentTemplate(template, reason, err)
		if err == nil && template != nil {
			select {
			case <-ctx.Done():
				return

			case g.notifySubscribers <- &TemplateNtfn{template, reason}:
			}
		}
	}(ctx, reason, blockRetrieval)
}

// handleBlockConnected handles the rtBlockConnected event by generating a new
// template building on the newly connected block.
//
// This function is only intended for use by the regen handler goroutine.
func (g *BgBlkTmplGenerator) handleBlockConnected(ctx context.Context, state *regenHandlerState, block *btcutil.Block, chainTip *blockchain.BestState) {
	blockHeight := int64(block.Height())
	blockHash := block.Hash()
	if blockHeight != chainTip.Height || *blockHash != chainTip.Hash {
		// Not the current chain tip; can happen in rare cases such as when
		// more than one new block shows up while generating a template.
		return
	}

	state.stopRegenTimer()
	state.failedGenRetryTimeout = nil
	state.baseBlockHash = *blockHash
	state.baseBlockHeight = uint32(blockHeight)
	g.genTemplateAsync(ctx, TURNewParent)
}

// handleBlockDisconnected handles the rtBlockDisconnected event by generating a
// new template building on the new tip.
//
// This function is only intended for use by the regen handler goroutine.
func (g *BgBlkTmplGenerator) handleBlockDisconnected(ctx context.Context, state *regenHandlerState, block *btcutil.Block, chainTip *blockchain.BestState) {
	prevHeight := int64(block.Height()) - 1
	prevHash := &block.MsgBlock().Header.PrevBlock
	if prevHeight != chainTip.Height || *prevHash != chainTip.Hash {
		return
	}

	state.stopRegenTimer()
	state.failedGenRetryTimeout = nil
	state.baseBlockHash = *prevHash
	state.baseBlockHeight = uint32(prevHeight)
	g.genTemplateAsync(ctx, TURNewParent)
}

// handleTemplateUpdate handles the rtTemplateUpdate event by updating the state
// accordingly.
//
// This function is only intended for use by the regen handler goroutine.
func (g *BgBlkTmplGenerator) handleTemplateUpdate(state *regenHandlerState, tplUpdate templateUpdate) {
	if tplUpdate.err != nil && state.failedGenRetryTimeout == nil {
		state.failedGenRetryTimeout = time.After(time.Second)
		return
	}
	if tplUpdate.template == nil {
		return
	}

	state.baseBlockHash = tplUpdate.template.Block.Header.PrevBlock
	state.baseBlockHeight = uint32(tplUpdate.template.Height) - 1

	state.lastGeneratedTime = time.Now().Unix()
	state.resetRegenTimer(templateRegenSecs * time.Second)
}

// handleForceRegen handles the rtForceRegen event by initiating the generation
// of a new template.
//
// This function is only intended for use by the regen handler goroutine.
func (g *BgBlkTmplGenerator) handleForceRegen(ctx context.Context, state *regenHandlerState) {
	state.stopRegenTimer()
	state.failedGenRetryTimeout = nil
	g.genTemplateAsync(ctx, turUnknown)
}

// handleRegenEvent handles all regen events by determining the event reason and
// reacting accordingly.
//
// This function is only intended for use by the regen handler goroutine.
func (g *BgBlkTmplGenerator) handleRegenEvent(ctx context.Context, state *regenHandlerState, event regenEvent) {
	switch event.reason {
	case rtReorgStarted:
		g.staleTemplateWg.Add(1)
		state.isReorganizing = true
		state.stopRegenTimer()
		state.failedGenRetryTimeout = nil
		g.setCurrentTemplate(nil, turUnknown, nil)
		state.baseBlockHash = zeroHash
		state.baseBlockHeight = 0
		return

	case rtReorgDone:
		state.isReorganizing = false

		chainTip := g.tg.cfg.Chain.BestSnapshot()
		tipBlock, err := g.tg.cfg.Chain.BlockByHash(chainTip.Hash)
		if err != nil {
			g.setCurrentTemplate(nil, turUnknown, err)
		} else {
			g.handleBlockConnected(ctx, state, tipBlock, chainTip)
		}

		g.staleTemplateWg.Done()
		return
	}

	if state.isReorganizing {
		return
	}

	if !g.cfg.AllowUnsyncedMining && !g.cfg.IsCurrent() {
		return
	}

	chainTip := g.tg.cfg.Chain.BestSnapshot()
	switch event.reason {
	case rtBlockConnected:
		block := event.value.(*btcutil.Block)
		g.handleBlockConnected(ctx, state, block, chainTip)

	case rtBlockDisconnected:
		block := event.value.(*btcutil.Block)
		g.handleBlockDisconnected(ctx, state, block, chainTip)

	case rtTemplateUpdated:
		tplUpdate := event.value.(templateUpdate)
		g.handleTemplateUpdate(state, tplUpdate)

	case rtForceRegen:
		g.handleForceRegen(ctx, state)
	}
}

// regenHandler is the main workhorse for generating new templates in response
// to regen events and also handles generating a new template during initial
// startup.
//
// This must be run as a goroutine.
func (g *BgBlkTmplGenerator) regenHandler(ctx context.Context) {
	state := makeRegenHandlerState()
	for {
		select {
		case event := <-g.regenEventMsgs:
			g.handleRegenEvent(ctx, &state, event)

		// This timeout is selectively enabled once a template has been
		// generated in order to allow the template to be periodically
		// regenerated with new transactions.
		case <-state.regenTimer.C:
			state.regenChanDrained = true

			if g.tg.cfg.TxSource.LastUpdated().Unix() > state.lastGeneratedTime {
				state.failedGenRetryTimeout = nil
				g.genTemplateAsync(ctx, TURNewTxns)
				continue
			}

			state.resetRegenTimer(time.Second)

		// This timeout is selectively enabled in the rare case a template fails
		// to generate and disabled prior to attempts at generating a new one.
		case <-state.failedGenRetryTimeout:
			state.failedGenRetryTimeout = nil
			g.genTemplateAsync(ctx, TURNewParent)

		case <-ctx.Done():
			return
		}
	}
}

// ChainReorgStarted informs the background block template generator that a
// chain reorganization has started.  It is the caller's responsibility to
// ensure this is only invoked as described.
func (g *BgBlkTmplGenerator) ChainReorgStarted() {
	g.sendQueueRegenEvent(regenEvent{rtReorgStarted, nil})
}

// ChainReorgDone informs the background block template generator that a chain
// reorganization has completed.  It is the caller's responsibility to ensure
// this is only invoked as described.
func (g *BgBlkTmplGenerator) ChainReorgDone() {
	g.sendQueueRegenEvent(regenEvent{rtReorgDone, nil})
}

// BlockConnected informs the background block template generator that a block
// has been connected to the main chain.  It is the caller's responsibility to
// ensure this is only invoked as described.
//
// This function is safe for concurrent access.
func (g *BgBlkTmplGenerator) BlockConnected(block *btcutil.Block) {
	g.sendQueueRegenEvent(regenEvent{rtBlockConnected, block})
}

// BlockDisconnected informs the background block template generator that a
// block has been disconnected from the main chain.  It is the caller's
// responsibility to ensure this is only invoked as described.
//
// This function is safe for concurrent access.
func (g *BgBlkTmplGenerator) BlockDisconnected(block *btcutil.Block) {
	g.sendQueueRegenEvent(regenEvent{rtBlockDisconnected, block})
}

// ForceRegen asks the background block template generator to generate a new
// template, independently of most of its internal timers.
//
// Note that there is no guarantee on whether a new template will actually be
// generated or when. This function does _not_ block until a new template is
// generated.
//
// This function is safe for concurrent access.
func (g *BgBlkTmplGenerator) ForceRegen() {
	g.sendQueueRegenEvent(regenEvent{rtForceRegen, nil})
}

// initialStartupHandler handles the initial startup of the background template
// generation process.  This entails treating the tip block as if it was just
// connected after potentially waiting for the initial chain sync to complete
// depending on whether or not unsynced mining is allowed.
//
// This must be run as a goroutine.
func (g *BgBlkTmplGenerator) initialStartupHandler(ctx context.Context) {
	if !g.cfg.AllowUnsyncedMining && !g.cfg.IsCurrent() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

	synced:
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if g.cfg.IsCurrent() {
					break synced
				}
			}
		}
	}

	best := g.tg.cfg.Chain.BestSnapshot()
	tipBlock, err := g.tg.cfg.Chain.BlockByHash(best.Hash)
	if err != nil {
		g.setCurrentTemplate(nil, turUnknown, err)
	} else {
		select {
		case <-ctx.Done():
			return
		case g.queueRegenEvent <- regenEvent{rtBlockConnected, tipBlock}:
		}
	}
}

// Run starts the background block template generator and all other goroutines
// necessary for it to function properly and blocks until the provided context
// is cancelled.
func (g *BgBlkTmplGenerator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		g.regenQueueHandler(ctx)
		wg.Done()
	}()
	go func() {
		g.regenHandler(ctx)
		wg.Done()
	}()
	go func() {
		g.notifySubscribersHandler(ctx)
		wg.Done()
	}()
	go func() {
		g.initialStartupHandler(ctx)
		wg.Done()
	}()

	<-ctx.Done()
	close(g.quit)
	wg.Wait()
}
