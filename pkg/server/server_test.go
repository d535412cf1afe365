package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

func TestParseConnect(t *testing.T) {
	tests := []struct {
		in, cmd, user, pass string
	}{
		{"connect Bob secret", "connect", "Bob", "secret"},
		{"CONNECT Bob  two words", "connect", "Bob", "two words"},
		{`connect "Mister Bob" secret`, "connect", "Mister Bob", "secret"},
		{"connect", "connect", "", ""},
		{"", "", "", ""},
	}
	for _, tt := range tests {
		cmd, user, pass := ParseConnect(tt.in)
		assert.Equal(t, tt.cmd, cmd, tt.in)
		assert.Equal(t, tt.user, user, tt.in)
		assert.Equal(t, tt.pass, pass, tt.in)
	}
}

func TestStripTelnet(t *testing.T) {
	assert.Equal(t, "look", stripTelnet("\xff\xfb\x01look"))
	assert.Equal(t, "say hi", stripTelnet("say\x07 hi"))
	assert.Equal(t, "a\tb", stripTelnet("a\tb"))
}

type lineClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func (c *lineClient) send(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line + "\r\n"))
	require.NoError(c.t, err)
}

// expect reads lines until one contains want.
func (c *lineClient) expect(want string) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		line, err := c.r.ReadString('\n')
		require.NoError(c.t, err, "waiting for %q", want)
		if strings.Contains(line, want) {
			return
		}
	}
}

func startServer(t *testing.T, w *world) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.WelcomeText = "hello traveller"
	srv := NewServer(w.g, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	return srv, cancel, done
}

func dial(t *testing.T, srv *Server) *lineClient {
	t.Helper()
	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 10*time.Millisecond)
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &lineClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func TestServerSession(t *testing.T) {
	w := newWorld(t)
	require.NoError(t, w.g.SetPassword(bob, "hunter2"))
	srv, cancel, done := startServer(t, w)

	c := dial(t, srv)
	c.expect("hello traveller")

	c.send("connect Bob wrong")
	c.expect(msgBadLogin)

	c.send("connect Bob hunter2")
	c.expect("Welcome back, Bob!")
	assert.Eventually(t, func() bool { return w.g.Conns.IsConnected(bob) }, time.Second, 10*time.Millisecond)

	c.send("think [add(2,2)]")
	c.expect("4")

	c.send("WHO")
	c.expect("1 Players logged in.")

	c.send("QUIT")
	c.expect("Goodbye!")
	assert.Eventually(t, func() bool { return !w.g.Conns.IsConnected(bob) }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
	w.g.mu.Lock()
	defer w.g.mu.Unlock()
	assert.False(t, w.g.DB.HasFlagName(bob, "CONNECTED"))
}

func TestServerDisconnectsAfterRetries(t *testing.T) {
	w := newWorld(t)
	srv, cancel, _ := startServer(t, w)
	defer cancel()

	c := dial(t, srv)
	for range 3 {
		c.send("connect Bob nope")
	}
	c.expect("Too many failed attempts.")
	c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, err := c.r.ReadString('\n')
	assert.Error(t, err)
}

func TestServerShutdownClosesSessions(t *testing.T) {
	w := newWorld(t)
	srv, cancel, done := startServer(t, w)
	c := dial(t, srv)
	c.expect("hello traveller")

	cancel()
	c.expect("Server shutting down.")
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestConnManagerMultiLogin(t *testing.T) {
	cm := NewConnManager(nil)
	pipe := func() net.Conn {
		a, b := net.Pipe()
		t.Cleanup(func() { a.Close(); b.Close() })
		return a
	}
	now := time.Unix(5000, 0)
	d1 := NewDescriptor(cm.NextID(), pipe(), now)
	d2 := NewDescriptor(cm.NextID(), pipe(), now)
	d3 := NewDescriptor(cm.NextID(), pipe(), now)
	for _, d := range []*Descriptor{d1, d2, d3} {
		cm.Add(d)
	}
	assert.Equal(t, []int{1, 2, 3}, []int{d1.ID, d2.ID, d3.ID})
	assert.Empty(t, cm.ConnectedPlayers())

	cm.Login(d1, bob)
	cm.Login(d2, bob)
	cm.Login(d3, alice)
	assert.Equal(t, []gamedb.DBRef{bob, alice}, cm.ConnectedPlayers())

	cm.Remove(d1)
	assert.True(t, cm.IsConnected(bob))
	cm.Remove(d2)
	assert.False(t, cm.IsConnected(bob))
	assert.Len(t, cm.AllDescriptors(), 1)

	d3.touch(now.Add(time.Minute))
	info := d3.Info()
	assert.Equal(t, alice, info.Player)
	assert.Equal(t, 1, info.Commands)
	assert.Equal(t, now.Add(time.Minute), info.LastCmd)
}

func TestConnectRelocatesHomelessPlayer(t *testing.T) {
	w := newWorld(t)
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	go io.Copy(io.Discard, b)

	w.g.mu.Lock()
	obj, _ := w.g.DB.Get(alice)
	obj.Location = gamedb.DBRef(999)
	w.g.mu.Unlock()

	d := NewDescriptor(w.g.Conns.NextID(), a, w.clk.now())
	w.g.Conns.Add(d)
	w.g.ConnectPlayer(d, alice)

	w.g.mu.Lock()
	defer w.g.mu.Unlock()
	assert.Equal(t, limbo, w.g.DB.Location(alice))
	assert.True(t, w.g.DB.HasFlagName(alice, "CONNECTED"))
}
