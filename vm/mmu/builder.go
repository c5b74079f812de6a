package mmu

import (
	"github.com/sarchlab/shiba/vm"
	"github.com/sarchlab/shiba/vm/readyqueue"
)

// A Builder can build MMU components.
type Builder struct {
	cfg        vm.Config
	readyQueue vm.ReadyQueue
	initPID    vm.PID
}

// MakeBuilder creates a builder with the default configuration: a 4+4 bit
// two-level page table, 128 frames of 64 bytes, and PID 0 for the initial
// process.
func MakeBuilder() Builder {
	return Builder{
		cfg: vm.Config{
			OuterBits: 4,
			InnerBits: 4,
			NumFrames: 128,
			FrameSize: 64,
		},
	}
}

// WithOuterBits sets the number of VPN bits indexing the outer directory.
func (b Builder) WithOuterBits(n uint) Builder {
	b.cfg.OuterBits = n
	return b
}

// WithInnerBits sets the number of VPN bits indexing an inner directory.
func (b Builder) WithInnerBits(n uint) Builder {
	b.cfg.InnerBits = n
	return b
}

// WithNumFrames sets the number of physical frames.
func (b Builder) WithNumFrames(n int) Builder {
	b.cfg.NumFrames = n
	return b
}

// WithFrameSize sets the modeled payload size of each frame, in bytes.
func (b Builder) WithFrameSize(n int) Builder {
	b.cfg.FrameSize = n
	return b
}

// WithReadyQueue sets the ready queue holding non-running processes. When
// not set, Build creates an empty readyqueue.Queue.
func (b Builder) WithReadyQueue(q vm.ReadyQueue) Builder {
	b.readyQueue = q
	return b
}

// WithInitialPID sets the PID of the process the system boots with.
func (b Builder) WithInitialPID(pid vm.PID) Builder {
	b.initPID = pid
	return b
}

// Build creates an MMU with an initial running process and an all-free
// frame table. It panics on an invalid configuration.
func (b Builder) Build(name string) *Comp {
	b.cfg.MustValidate()

	queue := b.readyQueue
	if queue == nil {
		queue = readyqueue.New()
	}

	return &Comp{
		name:       name,
		cfg:        b.cfg,
		frameTable: vm.NewFrameTable(b.cfg.NumFrames, b.cfg.FrameSize),
		readyQueue: queue,
		current:    vm.NewProcess(b.initPID, b.cfg),
	}
}
