package vm

// A Process is a simulated process: an identity plus the page table it owns.
// Processes are created by forking; the simulator never destroys them.
type Process struct {
	PID       PID
	PageTable *PageTable
}

// NewProcess creates a process with an empty page table.
func NewProcess(pid PID, cfg Config) *Process {
	return &Process{
		PID:       pid,
		PageTable: NewPageTable(cfg),
	}
}

// A ReadyQueue holds the processes that are not currently running. The MMU
// consults it on every process switch. Exactly one process is outside the
// queue (running) at any time.
type ReadyQueue interface {
	// FindByPID returns the queued process with the given PID, if any.
	// The process stays in the queue.
	FindByPID(pid PID) (*Process, bool)

	// Remove unlinks a process returned by FindByPID from the queue.
	Remove(p *Process)

	// Push appends a process to the queue.
	Push(p *Process)
}
