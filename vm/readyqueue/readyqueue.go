// Package readyqueue provides the default ready queue the simulator uses to
// hold non-running processes.
package readyqueue

import (
	"container/list"

	"github.com/sarchlab/shiba/vm"
)

// A Queue is a FIFO ready queue over a doubly linked list. It implements
// vm.ReadyQueue.
type Queue struct {
	entries  *list.List
	elements map[*vm.Process]*list.Element
}

// New creates an empty ready queue.
func New() *Queue {
	return &Queue{
		entries:  list.New(),
		elements: make(map[*vm.Process]*list.Element),
	}
}

// FindByPID scans the queue for a process with the given PID.
func (q *Queue) FindByPID(pid vm.PID) (*vm.Process, bool) {
	for e := q.entries.Front(); e != nil; e = e.Next() {
		p := e.Value.(*vm.Process)
		if p.PID == pid {
			return p, true
		}
	}

	return nil, false
}

// Remove unlinks p from the queue. Removing a process that is not queued is
// a programmer error.
func (q *Queue) Remove(p *vm.Process) {
	q.processMustExist(p)

	q.entries.Remove(q.elements[p])
	delete(q.elements, p)
}

// Push appends p to the back of the queue.
func (q *Queue) Push(p *vm.Process) {
	q.elements[p] = q.entries.PushBack(p)
}

// Len returns the number of queued processes.
func (q *Queue) Len() int {
	return q.entries.Len()
}

func (q *Queue) processMustExist(p *vm.Process) {
	if _, found := q.elements[p]; !found {
		panic("process is not in the ready queue")
	}
}
