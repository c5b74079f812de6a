// Package mmu implements the memory management unit of the shiba simulator:
// frame allocation, page fault resolution with copy-on-write, and address
// space duplication on fork.
package mmu

import (
	"errors"
	"fmt"

	"github.com/sarchlab/shiba/vm"
)

// ErrOutOfMemory is returned when no physical frame is free.
var ErrOutOfMemory = errors.New("out of memory")

// ErrSegmentationFault is returned when an access touches an unmapped VPN or
// violates page protection. The caller decides whether to terminate the
// faulting process; the MMU never retries.
var ErrSegmentationFault = errors.New("segmentation fault")

// ErrNotMapped is returned by FreePage when the VPN has no valid mapping to
// free. It marks a caller error, distinct from an ordinary translation miss.
var ErrNotMapped = errors.New("page is not mapped")

// Comp is the memory management unit. It owns the frame table and the
// current-process register, and mutates page tables on faults and forks.
// All operations are synchronous; the simulated system is single-threaded
// and cooperative, so the MMU needs no locking.
type Comp struct {
	name string
	cfg  vm.Config

	frameTable *vm.FrameTable
	readyQueue vm.ReadyQueue
	current    *vm.Process
}

// Name returns the name of the component.
func (c *Comp) Name() string {
	return c.name
}

// Current returns the running process. Its page table is what the simulated
// page table base register points at.
func (c *Comp) Current() *vm.Process {
	return c.current
}

// FrameTable returns the system-wide frame table.
func (c *Comp) FrameTable() *vm.FrameTable {
	return c.frameTable
}

// Config returns the fixed system geometry.
func (c *Comp) Config() vm.Config {
	return c.cfg
}

// Translate looks up vpn in the current process's page table. It is a pure
// lookup; the dispatch loop calls it first and falls back to
// HandlePageFault on a miss.
func (c *Comp) Translate(vpn uint64) (vm.PTE, bool) {
	return c.current.PageTable.Translate(vpn)
}

// AllocatePage maps vpn to the smallest-numbered free frame in the current
// process. The page is writable iff access includes write permission. It
// returns ErrOutOfMemory when every frame is in use.
func (c *Comp) AllocatePage(vpn uint64, access vm.Access) (vm.PFN, error) {
	pfn, ok := c.frameTable.FindFree()
	if !ok {
		return 0, ErrOutOfMemory
	}

	pte := c.current.PageTable.EntryForAlloc(vpn)
	*pte = vm.PTE{
		Valid:    true,
		Writable: access.Write(),
		PFN:      pfn,
	}
	c.frameTable.Acquire(pfn)

	return pfn, nil
}

// FreePage unmaps vpn from the current process, returning the frame share
// it held. The PTE is zeroed but the inner directory is kept; directories
// are cheap and commonly reused. Freeing a VPN that is not mapped returns
// ErrNotMapped.
func (c *Comp) FreePage(vpn uint64) error {
	pte := c.current.PageTable.Entry(vpn)
	if pte == nil || !pte.Valid {
		return ErrNotMapped
	}

	c.frameTable.Release(pte.PFN)
	*pte = vm.PTE{}

	return nil
}

// HandlePageFault resolves a fault on vpn for the given access. The
// classification order matters:
//
//  1. No valid mapping: not resolvable here, ErrSegmentationFault.
//  2. Write to a non-writable, non-COW page: protection violation,
//     ErrSegmentationFault.
//  3. Write to a COW page still shared with others: give up this process's
//     share and install a fresh private writable frame, duplicating the
//     payload.
//  4. Write to a COW page this process is the last sharer of: flip the PTE
//     writable in place, no copy.
//  5. Anything else reaching the handler needs no state change and resolves
//     as a success.
func (c *Comp) HandlePageFault(vpn uint64, access vm.Access) error {
	pte := c.current.PageTable.Entry(vpn)
	if pte == nil || !pte.Valid {
		return ErrSegmentationFault
	}

	if access.Write() && !pte.Writable && !pte.COW {
		return ErrSegmentationFault
	}

	if access.Write() && pte.COW {
		if c.frameTable.ShareCount(pte.PFN) > 1 {
			return c.breakCOW(pte)
		}

		pte.Writable = true
		pte.COW = false
	}

	return nil
}

// breakCOW moves the PTE off its shared frame onto a fresh private one and
// duplicates the payload byte for byte. The free frame is chosen before the
// old share is released so that a failed allocation leaves the share counts
// untouched.
func (c *Comp) breakCOW(pte *vm.PTE) error {
	newPFN, ok := c.frameTable.FindFree()
	if !ok {
		return ErrOutOfMemory
	}

	oldPFN := pte.PFN
	c.frameTable.Release(oldPFN)
	c.frameTable.Acquire(newPFN)
	c.frameTable.CopyFrame(newPFN, oldPFN)

	pte.PFN = newPFN
	pte.Writable = true
	pte.COW = false

	return nil
}

// SwitchOrFork makes the process with the given PID current. If the ready
// queue holds such a process, the MMU switches to it and no page table or
// frame state changes. Otherwise a child is forked from the current
// process: every valid parent mapping is duplicated into the child sharing
// the same frame, and pages that were writable (or already COW) are marked
// copy-on-write in both address spaces. The previously running process is
// pushed onto the ready queue either way. SwitchOrFork returns the PID of
// the now-current process.
func (c *Comp) SwitchOrFork(pid vm.PID) vm.PID {
	if next, found := c.readyQueue.FindByPID(pid); found {
		c.readyQueue.Remove(next)
		c.readyQueue.Push(c.current)
		c.current = next

		return next.PID
	}

	child := c.fork(pid)
	c.readyQueue.Push(c.current)
	c.current = child

	return child.PID
}

func (c *Comp) fork(pid vm.PID) *vm.Process {
	child := vm.NewProcess(pid, c.cfg)
	parentPT := c.current.PageTable

	for i := 0; i < parentPT.NumDirectories(); i++ {
		dir := parentPT.DirectoryAt(i)
		if dir == nil {
			continue
		}

		childDir := child.PageTable.EnsureDirectory(i)
		for j := 0; j < dir.Len(); j++ {
			pte := dir.Entry(j)
			if !pte.Valid {
				continue
			}

			childPTE := childDir.Entry(j)

			// Sharing is symmetric: a writable page becomes COW in
			// the parent as well, not just in the child. Read-only
			// pages stay read-only in both.
			if pte.Writable || pte.COW {
				pte.Writable = false
				pte.COW = true
				childPTE.COW = true
			}

			childPTE.Valid = true
			childPTE.PFN = pte.PFN
			c.frameTable.Acquire(pte.PFN)
		}
	}

	return child
}

// Access performs one memory access the way the dispatch loop does: try the
// translation, and on a miss or protection fault let HandlePageFault resolve
// it and retry once. It returns the frame the access landed on.
func (c *Comp) Access(vpn uint64, access vm.Access) (vm.PFN, error) {
	if pte, found := c.Translate(vpn); found && pte.Permits(access) {
		return pte.PFN, nil
	}

	if err := c.HandlePageFault(vpn, access); err != nil {
		return 0, err
	}

	pte, found := c.Translate(vpn)
	if !found || !pte.Permits(access) {
		panic(fmt.Sprintf(
			"vpn %d still faults after successful fault handling", vpn))
	}

	return pte.PFN, nil
}

// Read performs a read access on vpn and returns a copy of the frame
// payload.
func (c *Comp) Read(vpn uint64) ([]byte, error) {
	pfn, err := c.Access(vpn, vm.AccessRead)
	if err != nil {
		return nil, err
	}

	return c.frameTable.ReadFrame(pfn), nil
}

// Write performs a write access on vpn, storing data as the frame payload.
func (c *Comp) Write(vpn uint64, data []byte) error {
	pfn, err := c.Access(vpn, vm.AccessWrite)
	if err != nil {
		return err
	}

	c.frameTable.WriteFrame(pfn, data)

	return nil
}
