package server

import (
	"net"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crystal-mush/mushcore/pkg/events"
	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

const (
	writeTimeout = 5 * time.Second
	loginRetries = 3
)

// Descriptor is one line-server connection. After login it subscribes to
// its player's events on the bus and writes their Text to the socket.
type Descriptor struct {
	ID       int
	Addr     string
	ConnTime time.Time

	conn net.Conn

	mu       sync.Mutex
	player   gamedb.DBRef
	lastCmd  time.Time
	retries  int
	commands int
	closed   bool
}

// DescInfo is a point-in-time copy of a descriptor's session state.
type DescInfo struct {
	ID       int
	Player   gamedb.DBRef
	ConnTime time.Time
	LastCmd  time.Time
	Commands int
}

// NewDescriptor wraps conn. now stamps the connect and last-command times.
func NewDescriptor(id int, conn net.Conn, now time.Time) *Descriptor {
	return &Descriptor{
		ID:       id,
		Addr:     conn.RemoteAddr().String(),
		ConnTime: now,
		conn:     conn,
		player:   gamedb.Nothing,
		lastCmd:  now,
		retries:  loginRetries,
	}
}

// Send writes one line with a telnet line ending. Writes are serialized so
// queue output and command output never interleave mid-line.
func (d *Descriptor) Send(msg string) {
	if !strings.HasSuffix(msg, "\n") {
		msg += "\r\n"
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	d.conn.Write([]byte(msg))
}

// Close shuts the socket. Further sends are dropped.
func (d *Descriptor) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		d.conn.Close()
	}
}

func (d *Descriptor) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Receive implements events.Subscriber.
func (d *Descriptor) Receive(ev events.Event) {
	if ev.Text != "" {
		d.Send(ev.Text)
	}
}

// Closed implements events.Subscriber.
func (d *Descriptor) Closed() bool { return d.IsClosed() }

var _ events.Subscriber = (*Descriptor)(nil)

// Player returns the logged-in player, or Nothing before login.
func (d *Descriptor) Player() gamedb.DBRef {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.player
}

// touch records input at now; connected sessions also count a command.
func (d *Descriptor) touch(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastCmd = now
	if d.player != gamedb.Nothing {
		d.commands++
	}
}

// failLogin uses up one login attempt and returns how many remain.
func (d *Descriptor) failLogin() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.retries--
	return d.retries
}

// Info snapshots the session for WHO and the status API.
func (d *Descriptor) Info() DescInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DescInfo{ID: d.ID, Player: d.player, ConnTime: d.ConnTime, LastCmd: d.lastCmd, Commands: d.commands}
}

// ConnManager tracks live descriptors. A player may be logged in on
// several at once; each gets its own bus subscription.
type ConnManager struct {
	bus    *events.Bus
	nextID atomic.Int64

	mu    sync.RWMutex
	descs map[int]*Descriptor
}

// NewConnManager creates a manager delivering player events from bus.
// A nil bus disables delivery.
func NewConnManager(bus *events.Bus) *ConnManager {
	return &ConnManager{bus: bus, descs: make(map[int]*Descriptor)}
}

// NextID returns a fresh descriptor id.
func (cm *ConnManager) NextID() int { return int(cm.nextID.Add(1)) }

// Add registers a pre-login descriptor.
func (cm *ConnManager) Add(d *Descriptor) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.descs[d.ID] = d
}

// Login binds d to player and subscribes it to the player's events.
func (cm *ConnManager) Login(d *Descriptor, player gamedb.DBRef) {
	d.mu.Lock()
	d.player = player
	d.mu.Unlock()
	if cm.bus != nil {
		cm.bus.Subscribe(player, d)
	}
}

// Remove forgets d and drops its subscription.
func (cm *ConnManager) Remove(d *Descriptor) {
	if p := d.Player(); p != gamedb.Nothing && cm.bus != nil {
		cm.bus.Unsubscribe(p, d)
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.descs, d.ID)
}

// IsConnected reports whether player is logged in on any descriptor.
func (cm *ConnManager) IsConnected(player gamedb.DBRef) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for _, d := range cm.descs {
		if d.Player() == player {
			return true
		}
	}
	return false
}

// ConnectedPlayers returns each logged-in player once, in dbref order.
func (cm *ConnManager) ConnectedPlayers() []gamedb.DBRef {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	var players []gamedb.DBRef
	for _, d := range cm.descs {
		if p := d.Player(); p != gamedb.Nothing {
			players = append(players, p)
		}
	}
	slices.Sort(players)
	return slices.Compact(players)
}

// AllDescriptors returns every descriptor, logged in or not, by id.
func (cm *ConnManager) AllDescriptors() []*Descriptor {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	descs := make([]*Descriptor, 0, len(cm.descs))
	for _, d := range cm.descs {
		descs = append(descs, d)
	}
	slices.SortFunc(descs, func(a, b *Descriptor) int { return a.ID - b.ID })
	return descs
}
