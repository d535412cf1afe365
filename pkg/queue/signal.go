package queue

import "time"

// State is the signal-table state of a pid.
type State int

const (
	StateFree State = iota
	StateActive
	StateFrozen
	StateContinueRequested
	StateRetimeRequested
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateActive:
		return "active"
	case StateFrozen:
		return "frozen"
	case StateContinueRequested:
		return "continue"
	case StateRetimeRequested:
		return "retime"
	}
	return "unknown"
}

type slot struct {
	state   State
	entry   *Entry
	retime  time.Time
	pending bool // already in the dirty list
}

// signalTable maps pids 1..capacity to live entries. Free pids sit on a
// stack, so the most recently released pid is reused first.
type signalTable struct {
	slots []slot // index 0 unused
	free  []int
	dirty []int
	live  int
}

func newSignalTable(capacity int) *signalTable {
	if capacity < 1 {
		capacity = 1
	}
	t := &signalTable{
		slots: make([]slot, capacity+1),
		free:  make([]int, 0, capacity),
	}
	for pid := capacity; pid >= 1; pid-- {
		t.free = append(t.free, pid)
	}
	return t
}

func (t *signalTable) capacity() int { return len(t.slots) - 1 }

func (t *signalTable) alloc(e *Entry) (int, bool) {
	n := len(t.free)
	if n == 0 {
		return 0, false
	}
	pid := t.free[n-1]
	t.free = t.free[:n-1]
	t.slots[pid] = slot{state: StateActive, entry: e}
	e.PID = pid
	t.live++
	return pid, true
}

func (t *signalTable) release(pid int) {
	if !t.valid(pid) || t.slots[pid].state == StateFree {
		return
	}
	if e := t.slots[pid].entry; e != nil {
		e.PID = 0
	}
	t.slots[pid] = slot{}
	t.free = append(t.free, pid)
	t.live--
}

func (t *signalTable) valid(pid int) bool {
	return pid >= 1 && pid < len(t.slots)
}

// get returns the slot for a live pid.
func (t *signalTable) get(pid int) (*slot, bool) {
	if !t.valid(pid) || t.slots[pid].state == StateFree {
		return nil, false
	}
	return &t.slots[pid], true
}

func (t *signalTable) markDirty(pid int) {
	s := &t.slots[pid]
	if s.pending {
		return
	}
	s.pending = true
	t.dirty = append(t.dirty, pid)
}

// takeDirty returns and clears the dirty list.
func (t *signalTable) takeDirty() []int {
	d := t.dirty
	t.dirty = nil
	for _, pid := range d {
		t.slots[pid].pending = false
	}
	return d
}
