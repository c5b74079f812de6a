// Package vm defines the data model of the shiba virtual memory simulator,
// including page tables, the frame table, and processes.
package vm

// PID stands for Process ID.
type PID uint32

// PFN is a physical frame number, an index into the frame table.
type PFN uint64

// Access describes the permission an access requires. Read and write may be
// combined with a bitwise or.
type Access uint8

// The two access kinds the simulator models. There is no execute permission.
const (
	AccessRead Access = 1 << iota
	AccessWrite
)

// Write reports if the access includes write permission.
func (a Access) Write() bool {
	return a&AccessWrite != 0
}

func (a Access) String() string {
	switch {
	case a.Write() && a&AccessRead != 0:
		return "rw"
	case a.Write():
		return "w"
	default:
		return "r"
	}
}
