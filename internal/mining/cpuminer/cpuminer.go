// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2015-2023 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cpuminer

import (
	"context"
	"errors"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blockrelay/btcchain/blockchain/standalone"
	"github.com/blockrelay/btcchain/chaincfg"
	"github.com/blockrelay/btcchain/internal/blockchain"
	"github.com/blockrelay/btcchain/internal/mining"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// maxNonce is the maximum value a nonce can be in a block header.
	maxNonce = ^uint32(0) // 2^32 - 1

	// hpsUpdateSecs is the number of seconds to wait in between each
	// update to the hashes per second monitor.
	hpsUpdateSecs = 10
)

var (
	// MaxNumWorkers is the maximum number of workers that will be allowed for
	// mining and is based on the number of processor cores.  This helps ensure
	// system stays reasonably responsive under heavy load.
	MaxNumWorkers = uint32(runtime.NumCPU() * 2)

	// defaultNumWorkers is the default number of workers to use for mining.
	defaultNumWorkers = uint32(1)
)

// speedStats houses tracking information used to monitor the hashing speed of
// the CPU miner.
type speedStats struct {
	totalHashes   atomic.Uint64
	elapsedMicros atomic.Uint64
}

// Config is a descriptor containing the CPU miner configuration.
type Config struct {
	// ChainParams identifies which chain parameters the CPU miner is
	// associated with.
	ChainParams *chaincfg.Params

	// PermitConnectionlessMining allows single node mining.
	PermitConnectionlessMining bool

	// BgBlkTmplGenerator identifies the instance to use in order to
	// generate block templates that the miner will attempt to solve.
	BgBlkTmplGenerator *mining.BgBlkTmplGenerator

	// ProcessBlock defines the function to call with any solved blocks.
	// It typically must run the provided block through the same set of
	// rules and handling as any other block coming from the network.
	ProcessBlock func(*btcutil.Block) error

	// ConnectedCount defines the function to use to obtain how many other
	// peers the server is connected to.  This is used by the automatic
	// persistent mining routine to determine whether or not it should
	// attempt mining, since there is no point in mining when not connected
	// to any peers who could relay a found block.
	ConnectedCount func() int32

	// IsCurrent defines the function to use to obtain whether or not the
	// block chain is current.  There is no point in mining if the chain is
	// not current since any solved blocks would end up on a side chain.
	IsCurrent func() bool
}

// CPUMiner provides facilities for solving blocks (mining) using the CPU in a
// concurrency-safe manner.  It consists of two main modes -- a normal mining
// mode that tries to solve blocks continuously and a discrete mining mode,
// which is accessible via GenerateNBlocks, that generates a specific number of
// blocks that extend the main chain.
//
// When the CPU miner is first started via the Run method, it will not have any
// workers which means it will be idle.  The number of worker goroutines for the
// normal mining mode can be set via the SetNumWorkers method.
type CPUMiner struct {
	numWorkers atomic.Uint32

	sync.Mutex
	g                 *mining.BgBlkTmplGenerator
	cfg               *Config
	normalMining      bool
	discreteMining    bool
	submitBlockLock   sync.Mutex
	wg                sync.WaitGroup
	workerWg          sync.WaitGroup
	updateNumWorkers  chan struct{}
	queryHashesPerSec chan float64
	speedStats        map[uint64]*speedStats
	quit              chan struct{}

	// discretePrevHash and discreteBlockHash record the parent and hash of
	// the block most recently accepted from the discrete mining process.
	// Nothing in this package reads them back.
	discretePrevHash  chainhash.Hash
	discreteBlockHash chainhash.Hash
}

// speedMonitor handles tracking the number of hashes per second the mining
// process is performing.  It must be run as a goroutine.
func (m *CPUMiner) speedMonitor(ctx context.Context) {
	log.Trace("CPU miner speed monitor started")

	var hashesPerSec float64
	ticker := time.NewTicker(time.Second * hpsUpdateSecs)
	defer ticker.Stop()

out:
	for {
		select {
		case <-ticker.C:
			hashesPerSec = 0
			m.Lock()
			for _, stats := range m.speedStats {
				totalHashes := stats.totalHashes.Swap(0)
				elapsedMicros := stats.elapsedMicros.Swap(0)
				elapsedSecs := elapsedMicros / 1000000
				if totalHashes == 0 || elapsedSecs == 0 {
					continue
				}
				hashesPerSec += float64(totalHashes) / float64(elapsedSecs)
			}
			m.Unlock()
			if hashesPerSec != 0 && !math.IsNaN(hashesPerSec) {
				log.Debugf("Hash speed: %6.0f kilohashes/s", hashesPerSec/1000)
			}

		case m.queryHashesPerSec <- hashesPerSec:

		case <-ctx.Done():
			break out
		}
	}

	m.wg.Done()
	log.Trace("CPU miner speed monitor done")
}

// submitBlock submits the passed block to the network after ensuring it
// passes all of the consensus validation rules.
func (m *CPUMiner) submitBlock(block *btcutil.Block) bool {
	m.submitBlockLock.Lock()
	defer m.submitBlockLock.Unlock()

	err := m.cfg.ProcessBlock(block)
	if err != nil {
		if errors.Is(err, blockchain.ErrMissingParent) {
			log.Errorf("Block submitted via CPU miner is an orphan building "+
				"on parent %v", block.MsgBlock().Header.PrevBlock)
			return false
		}

		var rErr blockchain.RuleError
		if !errors.As(err, &rErr) {
			log.Errorf("Unexpected error while processing block submitted via "+
				"CPU miner: %v", err)
			return false
		}

		log.Errorf("Block submitted via CPU miner rejected: %v", err)
		return false
	}

	blockHash := block.Hash()
	log.Infof("Block submitted via CPU miner accepted (hash %s, height %d)",
		blockHash, block.Height())
	return true
}

// solveBlock attempts to find a nonce which makes the passed block header
// hash to a value no greater than the target difficulty.  The timestamp is updated
// periodically and the passed block header is modified with all tweaks
// during this process.  This means that when the function returns true, the
// block is ready for submission.
//
// This function will return early with false when the provided context is
// cancelled or an unexpected error happens.
func (m *CPUMiner) solveBlock(ctx context.Context, header *wire.BlockHeader, stats *speedStats) bool {
	targetDifficulty := standalone.CompactToBig(header.Bits)

	hashesCompleted := uint64(0)
	start := time.Now()
	updateSpeedStats := func() {
		stats.totalHashes.Add(hashesCompleted)
		elapsedMicros := time.Since(start).Microseconds()
		stats.elapsedMicros.Add(uint64(elapsedMicros))

		hashesCompleted = 0
		start = time.Now()
	}

	for nonce := uint32(0); ; nonce++ {
		if nonce%65535 == 0 {
			updateSpeedStats()

			select {
			case <-ctx.Done():
				return false
			default:
			}

			m.g.UpdateBlockTime(header)
		}

		header.Nonce = nonce
		hash := header.BlockHash()
		hashesCompleted++

		if standalone.HashToBig(&hash).Cmp(targetDifficulty) <= 0 {
			updateSpeedStats()
			return true
		}

		if nonce == maxNonce {
			updateSpeedStats()
			return false
		}
	}
}

// solver is a worker that is controlled by a given generateBlocks goroutine.
//
// It attempts to solve the provided block template and submit the resulting
// solved block.  It must be run as a goroutine.
func (m *CPUMiner) solver(ctx context.Context, template *mining.BlockTemplate, speedStats *speedStats) {
	defer m.workerWg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		for !m.cfg.PermitConnectionlessMining && m.cfg.ConnectedCount() == 0 {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
		}

		shallowBlockCopy := *template.Block
		if m.solveBlock(ctx, &shallowBlockCopy.Header, speedStats) {
			if ctx.Err() != nil {
				return
			}

			block := btcutil.NewBlock(&shallowBlockCopy)
			block.SetHeight(int32(template.Height))
			if !m.submitBlock(block) {
				continue
			}

			return
		}
	}
}

// generateBlocks is a worker that is controlled by the miningWorkerController.
//
// It subscribes for block template updates from the background block
// template generator and launches a goroutine that attempts to solve them
// while automatically switching to new templates as they become available.
// When a block is solved, it is submitted.
//
// It must be run as a goroutine.
func (m *CPUMiner) generateBlocks(ctx context.Context, workerID uint64) {
	log.Trace("Starting generate blocks worker")
	defer func() {
		m.workerWg.Done()
		log.Trace("Generate blocks worker done")
	}()

	templateSub := m.g.Subscribe()
	defer templateSub.Stop()

	var speedStats speedStats
	m.Lock()
	m.speedStats[workerID] = &speedStats
	m.Unlock()

	var solverCtx context.Context
	var solverCancel context.CancelFunc
	for {
		select {
		case templateNtfn := <-templateSub.C():
			if solverCancel != nil {
				solverCancel()
			}
			solverCtx, solverCancel = context.WithCancel(ctx)
			m.workerWg.Add(1)
			go m.solver(solverCtx, templateNtfn.Template, &speedStats)

		case <-ctx.Done():
			if solverCancel != nil {
				solverCancel()
			}
			m.Lock()
			delete(m.speedStats, workerID)
			m.Unlock()

			return
		}
	}
}

// miningWorkerController launches the worker goroutines that are used to
// subscribe for template updates and solve them.  It also provides the
// ability to dynamically adjust the number of running worker goroutines.
//
// It must be run as a goroutine.
func (m *CPUMiner) miningWorkerController(ctx context.Context) {
	type workerState struct {
		cancel context.CancelFunc
	}
	var curWorkerID uint64
	var runningWorkers []workerState
	launchWorker := func() {
		wCtx, wCancel := context.WithCancel(ctx)
		runningWorkers = append(runningWorkers, workerState{
			cancel: wCancel,
		})

		m.workerWg.Add(1)
		go m.generateBlocks(wCtx, curWorkerID)
		curWorkerID++
	}

out:
	for {
		select {
		case <-m.updateNumWorkers:
			numRunning := uint32(len(runningWorkers))
			numWorkers := m.numWorkers.Load()

			if numWorkers == numRunning {
				continue
			}

			if numWorkers > numRunning {
				numToLaunch := numWorkers - numRunning
				for i := uint32(0); i < numToLaunch; i++ {
					launchWorker()
				}
				log.Debugf("Launched %d %s (%d total running)", numToLaunch,
					pickNoun(uint64(numToLaunch), "worker", "workers"),
					numWorkers)
				continue
			}

			numToStop := numRunning - numWorkers
			for i := uint32(0); i < numToStop; i++ {
				finalWorkerIdx := numRunning - 1 - i
				runningWorkers[finalWorkerIdx].cancel()
				runningWorkers[finalWorkerIdx].cancel = nil
				runningWorkers = runningWorkers[:finalWorkerIdx]
			}
			log.Debugf("Stopped %d %s (%d total running)", numToStop,
				pickNoun(uint64(numToStop), "worker", "workers"), numWorkers)

		case <-ctx.Done():
			for _, state := range runningWorkers {
				state.cancel()
			}
			break out
		}
	}

	m.workerWg.Wait()
	m.wg.Done()
}

// Run starts the CPU miner with zero workers which means it will be idle. It
// blocks until the provided context is cancelled.
//
// Use the SetNumWorkers method to start solving blocks in the normal mining
// mode.
func (m *CPUMiner) Run(ctx context.Context) {
	log.Trace("Starting CPU miner in idle state")

	m.wg.Add(3)
	go m.speedMonitor(ctx)
	go m.miningWorkerController(ctx)
	go func(ctx context.Context) {
		<-ctx.Done()
		close(m.quit)
		m.wg.Done()
	}(ctx)

	m.wg.Wait()
	log.Trace("CPU miner stopped")
}

// IsMining returns whether or not the CPU miner is currently mining in either
// the normal or discrete mining modes.
//
// This function is safe for concurrent access.
func (m *CPUMiner) IsMining() bool {
	m.Lock()
	defer m.Unlock()

	return m.normalMining || m.discreteMining
}

// HashesPerSecond returns the number of hashes per second the normal mode
// mining process is performing.  0 is returned if the miner is not currently
// mining anything in normal mining mode.
//
// This function is safe for concurrent access.
func (m *CPUMiner) HashesPerSecond() float64 {
	m.Lock()
	defer m.Unlock()

	if !m.normalMining {
		return 0
	}

	var hashesPerSec float64
	select {
	case hps := <-m.queryHashesPerSec:
		hashesPerSec = hps
	case <-m.quit:
	}

	return hashesPerSec
}

// SetNumWorkers sets the number of workers to create for solving blocks in the
// normal mining mode.  Negative values cause the default number of workers to
// be used, values larger than the max allowed are limited to the max, and a
// value of 0 causes all normal mode CPU mining to be stopped.
//
// NOTE: This will have no effect if discrete mining mode is currently active
// via GenerateNBlocks.
//
// This function is safe for concurrent access.
func (m *CPUMiner) SetNumWorkers(numWorkers int32) {
	m.Lock()
	defer m.Unlock()

	if m.discreteMining {
		return
	}

	targetNumWorkers := uint32(numWorkers)
	if numWorkers < 0 {
		targetNumWorkers = defaultNumWorkers
	} else if targetNumWorkers > MaxNumWorkers {
		targetNumWorkers = MaxNumWorkers
	}
	m.numWorkers.Store(targetNumWorkers)

	if targetNumWorkers != 0 {
		m.normalMining = true
	} else {
		m.normalMining = false
	}

	select {
	case m.updateNumWorkers <- struct{}{}:
	case <-m.quit:
	}
}

// NumWorkers returns the number of workers set for solving blocks in the
// normal mining mode. A new miner reports the default of one even though Run
// starts with no workers running.
//
// This function is safe for concurrent access.
func (m *CPUMiner) NumWorkers() int32 {
	return int32(m.numWorkers.Load())
}

// GenerateNBlocks generates the requested number of blocks in the discrete
// mining mode and returns a list of the hashes of generated blocks that were
// added to the main chain.
//
// Note that, since only blocks successfully added to the main chain are
// counted, upon returning the list of hashes will only contain the hashes of
// those blocks, which can differ from the number actually solved if a block
// is rejected or ends up on a side chain.
func (m *CPUMiner) GenerateNBlocks(ctx context.Context, n uint32) ([]*chainhash.Hash, error) {
	if n == 0 {
		return nil, nil
	}

	m.Lock()
	if m.normalMining {
		m.Unlock()
		return nil, errors.New("server is already CPU mining -- please call " +
			"`setgenerate 0` before calling discrete `generate` commands")
	}
	if m.discreteMining {
		m.Unlock()
		return nil, errors.New("server is already discrete mining -- please " +
			"wait until the existing call completes or cancel it")
	}

	m.discreteMining = true
	m.Unlock()

	log.Tracef("Generating %d blocks", n)

	templateSub := m.g.Subscribe()
	defer templateSub.Stop()

	blockHashes := make([]*chainhash.Hash, 0, n)
	var stats speedStats
out:
	for {
		var templateNtfn *mining.TemplateNtfn
		select {
		case <-ctx.Done():
			break out
		case <-m.quit:
			break out
		case templateNtfn = <-templateSub.C():
		}

		shallowBlockCopy := *templateNtfn.Template.Block
		if m.solveBlock(ctx, &shallowBlockCopy.Header, &stats) {
			block := btcutil.NewBlock(&shallowBlockCopy)
			block.SetHeight(int32(templateNtfn.Template.Height))
			if m.submitBlock(block) {
				m.Lock()
				m.discretePrevHash = shallowBlockCopy.Header.PrevBlock
				m.discreteBlockHash = *block.Hash()
				m.Unlock()
				blockHashes = append(blockHashes, block.Hash())
			}
		}

		if uint32(len(blockHashes)) == n {
			break out
		}
	}

	log.Tracef("Generated %d blocks", len(blockHashes))
	m.Lock()
	m.discreteMining = false
	m.Unlock()
	return blockHashes, nil
}

// pickNoun returns the singular or plural form of a noun depending on the
// provided count.
func pickNoun(n uint64, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

// New returns a new instance of a CPU miner for the provided configuration
// options.
//
// Use Run to initialize the CPU miner and then either use SetNumWorkers with a
// non-zero value to start the normal continuous mining mode or use
// GenerateNBlocks to mine a discrete number of blocks.
//
// See the documentation for CPUMiner type for more details.
func New(cfg *Config) *CPUMiner {
	miner := &CPUMiner{
		g:                 cfg.BgBlkTmplGenerator,
		cfg:               cfg,
		updateNumWorkers:  make(chan struct{}),
		queryHashesPerSec: make(chan float64),
		speedStats:        make(map[uint64]*speedStats),
		quit:              make(chan struct{}),
	}
	miner.numWorkers.Store(defaultNumWorkers)
	return miner
}
