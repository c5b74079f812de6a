package vm

import "fmt"

// A FrameTable tracks, for every physical frame, how many valid PTEs across
// all processes currently map it, along with the frame's modeled payload.
// A count of 0 means the frame is free. The frame table is system-wide
// state shared by all processes.
type FrameTable struct {
	counts []uint32
	frames [][]byte
}

// NewFrameTable creates a frame table with numFrames free frames of
// frameSize bytes each.
func NewFrameTable(numFrames, frameSize int) *FrameTable {
	frames := make([][]byte, numFrames)
	for i := range frames {
		frames[i] = make([]byte, frameSize)
	}

	return &FrameTable{
		counts: make([]uint32, numFrames),
		frames: frames,
	}
}

// FindFree returns the smallest-numbered free frame. The bool return value
// indicates if any frame is free. The smallest-index rule is part of the
// allocator contract, not an optimization.
func (ft *FrameTable) FindFree() (PFN, bool) {
	for i, count := range ft.counts {
		if count == 0 {
			return PFN(i), true
		}
	}

	return 0, false
}

// Acquire records one more PTE mapping the frame.
func (ft *FrameTable) Acquire(pfn PFN) {
	ft.frameMustExist(pfn)
	ft.counts[pfn]++
}

// Release records one fewer PTE mapping the frame. Releasing a free frame
// is a programmer error.
func (ft *FrameTable) Release(pfn PFN) {
	ft.frameMustExist(pfn)

	if ft.counts[pfn] == 0 {
		panic(fmt.Sprintf("frame %d released below zero", pfn))
	}

	ft.counts[pfn]--
}

// ShareCount returns the number of valid PTEs currently mapping the frame.
func (ft *FrameTable) ShareCount(pfn PFN) uint32 {
	ft.frameMustExist(pfn)
	return ft.counts[pfn]
}

// NumFrames returns the number of physical frames in the system.
func (ft *FrameTable) NumFrames() int {
	return len(ft.counts)
}

// TotalShares returns the sum of the share counts over all frames. It
// always equals the number of valid PTEs across all page tables.
func (ft *FrameTable) TotalShares() uint64 {
	var total uint64
	for _, count := range ft.counts {
		total += uint64(count)
	}

	return total
}

// ReadFrame returns a copy of the frame's payload.
func (ft *FrameTable) ReadFrame(pfn PFN) []byte {
	ft.frameMustExist(pfn)

	data := make([]byte, len(ft.frames[pfn]))
	copy(data, ft.frames[pfn])

	return data
}

// WriteFrame overwrites the frame's payload with data, truncating data to
// the frame size. Bytes past the end of data are zeroed.
func (ft *FrameTable) WriteFrame(pfn PFN, data []byte) {
	ft.frameMustExist(pfn)

	frame := ft.frames[pfn]
	n := copy(frame, data)
	for i := n; i < len(frame); i++ {
		frame[i] = 0
	}
}

// CopyFrame duplicates the full payload of frame src into frame dst.
func (ft *FrameTable) CopyFrame(dst, src PFN) {
	ft.frameMustExist(dst)
	ft.frameMustExist(src)

	copy(ft.frames[dst], ft.frames[src])
}

func (ft *FrameTable) frameMustExist(pfn PFN) {
	if int(pfn) >= len(ft.counts) {
		panic(fmt.Sprintf("frame %d does not exist", pfn))
	}
}
