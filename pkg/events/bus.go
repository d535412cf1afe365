package events

import (
	"sync"

	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

// Subscriber receives events from the bus.
type Subscriber interface {
	Receive(ev Event)
	Closed() bool
}

// Bus is a per-player pub/sub event bus with support for global subscribers.
// Game code emits structured events; each subscriber (connection, test
// recorder, logger) encodes them for its own transport.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[gamedb.DBRef][]Subscriber
	global      []Subscriber
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[gamedb.DBRef][]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific player's events.
func (b *Bus) Subscribe(player gamedb.DBRef, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[player] = append(b.subscribers[player], sub)
}

// Unsubscribe removes a subscriber for a specific player.
func (b *Bus) Unsubscribe(player gamedb.DBRef, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[player]
	for i, s := range subs {
		if s == sub {
			b.subscribers[player] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[player]) == 0 {
		delete(b.subscribers, player)
	}
}

// SubscribeGlobal registers a subscriber that receives all events.
func (b *Bus) SubscribeGlobal(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = append(b.global, sub)
}

// Emit sends an event to the player specified in ev.Player and all global subscribers.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	subs := b.subscribers[ev.Player]
	globals := b.global
	b.mu.RUnlock()

	deliver(subs, ev)
	deliver(globals, ev)
}

// EmitToPlayer sends an event to a specific player (overriding ev.Player).
func (b *Bus) EmitToPlayer(player gamedb.DBRef, ev Event) {
	ev.Player = player
	b.Emit(ev)
}

// EmitToRoom sends an event to everything in a room.
func (b *Bus) EmitToRoom(db *gamedb.Database, room gamedb.DBRef, ev Event) {
	b.EmitToRoomExcept(db, room, gamedb.Nothing, ev)
}

// EmitToRoomExcept sends an event to everything in a room except one object.
func (b *Bus) EmitToRoomExcept(db *gamedb.Database, room, except gamedb.DBRef, ev Event) {
	if !db.Valid(room) {
		return
	}

	b.mu.RLock()
	globals := b.global
	b.mu.RUnlock()

	for _, ref := range db.Contents(room) {
		if ref == except {
			continue
		}
		playerEv := ev
		playerEv.Player = ref
		playerEv.Room = room

		b.mu.RLock()
		subs := b.subscribers[ref]
		b.mu.RUnlock()
		deliver(subs, playerEv)
	}

	// Global subscribers get the original event with Room set
	ev.Room = room
	deliver(globals, ev)
}

func deliver(subs []Subscriber, ev Event) {
	for _, s := range subs {
		if !s.Closed() {
			s.Receive(ev)
		}
	}
}

// PlayerSubscribers returns the number of subscribers for a player.
func (b *Bus) PlayerSubscribers(player gamedb.DBRef) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[player])
}

// Cleanup removes closed subscribers from all lists.
func (b *Bus) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for player, subs := range b.subscribers {
		var active []Subscriber
		for _, s := range subs {
			if !s.Closed() {
				active = append(active, s)
			}
		}
		if len(active) == 0 {
			delete(b.subscribers, player)
		} else {
			b.subscribers[player] = active
		}
	}

	var activeGlobal []Subscriber
	for _, s := range b.global {
		if !s.Closed() {
			activeGlobal = append(activeGlobal, s)
		}
	}
	b.global = activeGlobal
}

// Recorder is a Subscriber that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (r *Recorder) Receive(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close stops further delivery to the recorder.
func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]Event, len(r.events))
	copy(cp, r.events)
	return cp
}

// Texts returns the Text of each recorded event.
func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Text
	}
	return out
}

// Reset discards recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
