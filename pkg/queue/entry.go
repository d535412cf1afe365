package queue

import (
	"time"

	"github.com/crystal-mush/mushcore/pkg/eval"
	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

// Kind names one of the four queues.
type Kind int

const (
	KindPlayer Kind = iota
	KindObject
	KindWait
	KindSem
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindPlayer:
		return "Player"
	case KindObject:
		return "Object"
	case KindWait:
		return "Wait"
	case KindSem:
		return "Semaphore"
	}
	return "Unknown"
}

// DefaultSemAttr is the counter attribute used when @wait names no attribute.
const DefaultSemAttr = gamedb.AttrSemaphore

// Entry is one deferred command. Only the scheduler mutates it, and only
// to invalidate it (halt/kill), retime it or move it between queues.
type Entry struct {
	PID       int
	Player    gamedb.DBRef // executor; Nothing once halted
	Owner     gamedb.DBRef // billed for the entry
	Cause     gamedb.DBRef
	RealCause gamedb.DBRef
	Identity  gamedb.DBRef

	Sem     gamedb.DBRef // semaphore object, Nothing if none
	SemAttr string

	WaitUntil time.Time // zero when not timed

	Args    []string
	Regs    *eval.RegisterData
	Command string
	// Evaluated marks command text that must not be evaluated again.
	Evaluated bool

	kind    Kind
	charged bool
	next    *Entry
}

// Kind returns the queue the entry is currently in.
func (e *Entry) Kind() Kind { return e.kind }

// context rebuilds the execution context for the entry.
func (e *Entry) context() *eval.Context {
	ctx := eval.NewContext(e.Player, e.Cause)
	ctx.RealCause = e.RealCause
	ctx.Identity = e.Identity
	ctx.Regs = e.Regs.Clone()
	if len(e.Args) > 0 {
		ctx.Args = append([]string(nil), e.Args...)
	}
	ctx.CurrCmd = e.Command
	return ctx
}

// list is a singly linked queue with O(1) append.
type list struct {
	head, tail *Entry
	n          int
}

func (l *list) pushBack(e *Entry) {
	e.next = nil
	if l.tail == nil {
		l.head = e
	} else {
		l.tail.next = e
	}
	l.tail = e
	l.n++
}

func (l *list) popFront() *Entry {
	e := l.head
	if e == nil {
		return nil
	}
	l.head = e.next
	if l.head == nil {
		l.tail = nil
	}
	e.next = nil
	l.n--
	return e
}

// pushFront puts e back at the head.
func (l *list) pushFront(e *Entry) {
	e.next = l.head
	l.head = e
	if l.tail == nil {
		l.tail = e
	}
	l.n++
}

// removeNext unlinks the entry after prev, or the head when prev is nil.
func (l *list) removeNext(prev *Entry) *Entry {
	if prev == nil {
		return l.popFront()
	}
	e := prev.next
	if e == nil {
		return nil
	}
	prev.next = e.next
	if l.tail == e {
		l.tail = prev
	}
	e.next = nil
	l.n--
	return e
}

// remove unlinks e. It reports whether e was in the list.
func (l *list) remove(e *Entry) bool {
	var prev *Entry
	for cur := l.head; cur != nil; prev, cur = cur, cur.next {
		if cur != e {
			continue
		}
		if prev == nil {
			l.head = cur.next
		} else {
			prev.next = cur.next
		}
		if l.tail == cur {
			l.tail = prev
		}
		cur.next = nil
		l.n--
		return true
	}
	return false
}

// insertByTime keeps the list ordered by WaitUntil; ties go after
// existing entries.
func (l *list) insertByTime(e *Entry) {
	if l.tail == nil || !e.WaitUntil.Before(l.tail.WaitUntil) {
		l.pushBack(e)
		return
	}
	if e.WaitUntil.Before(l.head.WaitUntil) {
		l.pushFront(e)
		return
	}
	prev := l.head
	for prev.next != nil && !e.WaitUntil.Before(prev.next.WaitUntil) {
		prev = prev.next
	}
	e.next = prev.next
	prev.next = e
	l.n++
}

// appendList moves every entry of other onto the end of l.
func (l *list) appendList(other *list) {
	if other.head == nil {
		return
	}
	if l.tail == nil {
		l.head = other.head
	} else {
		l.tail.next = other.head
	}
	l.tail = other.tail
	l.n += other.n
	other.head, other.tail, other.n = nil, nil, 0
}

func (l *list) each(fn func(e *Entry)) {
	for e := l.head; e != nil; {
		next := e.next
		fn(e)
		e = next
	}
}
