package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

type roomFixture struct {
	db       *gamedb.Database
	room     gamedb.DBRef
	player   gamedb.DBRef
	other    gamedb.DBRef
	listener gamedb.DBRef // a thing; things hear room events too
}

func newRoom() roomFixture {
	db := gamedb.NewDatabase()
	room := db.Create("Limbo", gamedb.TypeRoom, 1, gamedb.Nothing).DBRef
	return roomFixture{
		db:       db,
		room:     room,
		player:   db.Create("One", gamedb.TypePlayer, gamedb.Nothing, room).DBRef,
		other:    db.Create("Two", gamedb.TypePlayer, gamedb.Nothing, room).DBRef,
		listener: db.Create("ear", gamedb.TypeThing, 1, room).DBRef,
	}
}

func TestEmitReachesOnlyTheRecipient(t *testing.T) {
	bus := NewBus()
	mine, theirs := &Recorder{}, &Recorder{}
	bus.Subscribe(1, mine)
	bus.Subscribe(2, theirs)

	bus.EmitToPlayer(1, Event{Type: EvQueue, Source: 5, Text: "Halted."})

	evs := mine.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, gamedb.DBRef(1), evs[0].Player)
	assert.Equal(t, EvQueue, evs[0].Type)
	assert.Equal(t, "Halted.", evs[0].Text)
	assert.Empty(t, theirs.Events())
}

func TestMultipleSubscribersPerPlayer(t *testing.T) {
	bus := NewBus()
	a, b := &Recorder{}, &Recorder{}
	bus.Subscribe(1, a)
	bus.Subscribe(1, b)
	assert.Equal(t, 2, bus.PlayerSubscribers(1))

	bus.Emit(Event{Player: 1, Text: "both"})
	assert.Equal(t, []string{"both"}, a.Texts())
	assert.Equal(t, []string{"both"}, b.Texts())

	bus.Unsubscribe(1, a)
	bus.Emit(Event{Player: 1, Text: "one"})
	assert.Equal(t, []string{"both"}, a.Texts())
	assert.Equal(t, []string{"both", "one"}, b.Texts())

	bus.Unsubscribe(1, b)
	assert.Zero(t, bus.PlayerSubscribers(1))
}

func TestGlobalSeesEverything(t *testing.T) {
	bus := NewBus()
	log := &Recorder{}
	bus.SubscribeGlobal(log)

	bus.Emit(Event{Type: EvText, Player: 7, Text: "private"})
	bus.EmitToPlayer(9, Event{Type: EvQueue, Text: "Queue entry removed."})

	assert.Equal(t, []string{"private", "Queue entry removed."}, log.Texts())
}

func TestClosedSubscribersSkippedAndCleaned(t *testing.T) {
	bus := NewBus()
	live, dead, deadGlobal := &Recorder{}, &Recorder{}, &Recorder{}
	bus.Subscribe(1, live)
	bus.Subscribe(1, dead)
	bus.SubscribeGlobal(deadGlobal)
	dead.Close()
	deadGlobal.Close()

	bus.Emit(Event{Player: 1, Text: "hi"})
	assert.Equal(t, []string{"hi"}, live.Texts())
	assert.Empty(t, dead.Texts())
	assert.Empty(t, deadGlobal.Texts())

	bus.Cleanup()
	assert.Equal(t, 1, bus.PlayerSubscribers(1))

	live.Close()
	bus.Cleanup()
	assert.Zero(t, bus.PlayerSubscribers(1))
}

func TestEmitToRoom(t *testing.T) {
	f := newRoom()
	bus := NewBus()
	recs := map[gamedb.DBRef]*Recorder{}
	for _, ref := range []gamedb.DBRef{f.player, f.other, f.listener} {
		recs[ref] = &Recorder{}
		bus.Subscribe(ref, recs[ref])
	}
	global := &Recorder{}
	bus.SubscribeGlobal(global)

	bus.EmitToRoom(f.db, f.room, Event{Type: EvSay, Source: f.player, Text: `One says, "hi"`})

	for ref, rec := range recs {
		evs := rec.Events()
		require.Len(t, evs, 1, "object %d", ref)
		assert.Equal(t, ref, evs[0].Player)
		assert.Equal(t, f.room, evs[0].Room)
	}
	require.Len(t, global.Events(), 1)
	assert.Equal(t, f.room, global.Events()[0].Room)
}

func TestEmitToRoomExcept(t *testing.T) {
	f := newRoom()
	bus := NewBus()
	actor, other := &Recorder{}, &Recorder{}
	bus.Subscribe(f.player, actor)
	bus.Subscribe(f.other, other)

	bus.EmitToRoomExcept(f.db, f.room, f.player, Event{Type: EvConnect, Source: f.player, Text: "One has connected."})
	assert.Empty(t, actor.Texts())
	assert.Equal(t, []string{"One has connected."}, other.Texts())

	// an invalid room delivers nothing, not even to globals
	global := &Recorder{}
	bus.SubscribeGlobal(global)
	bus.EmitToRoom(f.db, gamedb.DBRef(999), Event{Text: "void"})
	assert.Empty(t, global.Texts())
}

func TestRecorderReset(t *testing.T) {
	rec := &Recorder{}
	rec.Receive(Event{Text: "a"})
	rec.Receive(Event{Text: "b"})
	assert.Equal(t, []string{"a", "b"}, rec.Texts())

	evs := rec.Events()
	evs[0].Text = "mutated"
	assert.Equal(t, "a", rec.Events()[0].Text)

	rec.Reset()
	assert.Empty(t, rec.Texts())
	assert.False(t, rec.Closed())
}

func TestEventTypeString(t *testing.T) {
	for typ, want := range map[EventType]string{
		EvText:         "text",
		EvSay:          "say",
		EvEmit:         "emit",
		EvConnect:      "connect",
		EvDisconnect:   "disconnect",
		EvQueue:        "queue",
		EventType(999): "unknown",
	} {
		assert.Equal(t, want, typ.String())
	}
}
