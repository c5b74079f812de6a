package vm

import "fmt"

// A PTE is a page table entry, maintaining the information about how to
// translate one virtual page to a physical frame. The zero value is the
// invalid entry.
type PTE struct {
	Valid    bool
	Writable bool
	COW      bool
	PFN      PFN
}

// Permits reports if an already-valid entry satisfies the given access
// without faulting.
func (p PTE) Permits(access Access) bool {
	return p.Valid && (!access.Write() || p.Writable)
}

// A Directory is an inner page directory, a fixed-size array of PTEs indexed
// by the low-order bits of a VPN. A directory is owned by exactly one outer
// directory slot and is never shared between processes.
type Directory struct {
	ptes []PTE
}

func newDirectory(numEntries int) *Directory {
	return &Directory{ptes: make([]PTE, numEntries)}
}

// Entry returns a pointer to the PTE at the given inner index.
func (d *Directory) Entry(i int) *PTE {
	return &d.ptes[i]
}

// Len returns the number of PTEs in the directory.
func (d *Directory) Len() int {
	return len(d.ptes)
}

// A PageTable is a two-level sparse table that maps VPNs to PTEs. The outer
// level is an array of optional inner directories; a nil slot means no page
// under it has ever been allocated. Each process owns exactly one PageTable.
type PageTable struct {
	outerBits uint
	innerBits uint
	dirs      []*Directory
}

// NewPageTable creates an empty page table with the geometry in cfg.
func NewPageTable(cfg Config) *PageTable {
	return &PageTable{
		outerBits: cfg.OuterBits,
		innerBits: cfg.InnerBits,
		dirs:      make([]*Directory, cfg.OuterEntries()),
	}
}

// Translate looks up the PTE for vpn. The bool return value indicates if a
// valid mapping exists. Translate never allocates and has no side effects.
func (pt *PageTable) Translate(vpn uint64) (PTE, bool) {
	pte := pt.Entry(vpn)
	if pte == nil || !pte.Valid {
		return PTE{}, false
	}

	return *pte, true
}

// Entry returns a pointer to the PTE for vpn, or nil if the inner directory
// for vpn has not been created. The returned PTE may be invalid.
func (pt *PageTable) Entry(vpn uint64) *PTE {
	outer, inner := pt.split(vpn)

	dir := pt.dirs[outer]
	if dir == nil {
		return nil
	}

	return dir.Entry(inner)
}

// EntryForAlloc returns a pointer to the PTE for vpn, creating the inner
// directory if it does not exist yet. It is the only way new directories
// come into existence.
func (pt *PageTable) EntryForAlloc(vpn uint64) *PTE {
	outer, inner := pt.split(vpn)
	return pt.EnsureDirectory(outer).Entry(inner)
}

// NumDirectories returns the number of outer directory slots.
func (pt *PageTable) NumDirectories() int {
	return len(pt.dirs)
}

// DirectoryAt returns the inner directory at the given outer index, or nil
// if none has been created.
func (pt *PageTable) DirectoryAt(i int) *Directory {
	return pt.dirs[i]
}

// EnsureDirectory returns the inner directory at the given outer index,
// creating it if absent.
func (pt *PageTable) EnsureDirectory(i int) *Directory {
	if pt.dirs[i] == nil {
		pt.dirs[i] = newDirectory(1 << pt.innerBits)
	}

	return pt.dirs[i]
}

// NumValid returns the number of valid PTEs in the table.
func (pt *PageTable) NumValid() int {
	n := 0
	pt.ForEachValid(func(uint64, *PTE) { n++ })

	return n
}

// ForEachValid calls fn for every valid PTE, in VPN order.
func (pt *PageTable) ForEachValid(fn func(vpn uint64, pte *PTE)) {
	for i, dir := range pt.dirs {
		if dir == nil {
			continue
		}

		for j := 0; j < dir.Len(); j++ {
			pte := dir.Entry(j)
			if pte.Valid {
				fn(uint64(i)<<pt.innerBits|uint64(j), pte)
			}
		}
	}
}

func (pt *PageTable) split(vpn uint64) (outer, inner int) {
	if vpn >= uint64(len(pt.dirs))<<pt.innerBits {
		panic(fmt.Sprintf("vpn %d out of range", vpn))
	}

	return int(vpn >> pt.innerBits), int(vpn & (1<<pt.innerBits - 1))
}
