package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

// Config holds line server settings.
type Config struct {
	Addr        string
	IdleTimeout time.Duration
	WelcomeText string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:        ":6250",
		IdleTimeout: 3600 * time.Second,
		WelcomeText: WelcomeText,
	}
}

// Server is the TCP line server. Every line a connected player types goes
// through Game.HandleInput.
type Server struct {
	Config Config
	Game   *Game
	Log    *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    sync.WaitGroup
}

// NewServer creates a line server for g.
func NewServer(g *Game, cfg Config) *Server {
	return &Server{Config: cfg, Game: g, Log: g.Log}
}

// ListenAndServe listens on the configured address and serves until ctx
// is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. Open
// connections are closed on the way out.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.Log.Info("startup: listening", zap.String("addr", ln.Addr().String()))

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.Log.Warn("accept error", zap.Error(err))
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConnection(conn)
		}()
	}

	for _, d := range s.Game.Conns.AllDescriptors() {
		d.Send("Server shutting down.")
		d.Close()
	}
	s.conns.Wait()
	return nil
}

// Addr returns the listening address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handleConnection manages a single client connection lifecycle.
func (s *Server) handleConnection(conn net.Conn) {
	g := s.Game
	d := NewDescriptor(g.Conns.NextID(), conn, g.now())
	g.Conns.Add(d)
	s.Log.Debug("new connection", zap.Int("conn", d.ID), zap.String("addr", d.Addr))

	defer func() {
		g.DisconnectPlayer(d)
		d.Close()
		s.Log.Debug("connection closed", zap.Int("conn", d.ID), zap.String("addr", d.Addr))
	}()

	d.Send(s.Config.WelcomeText)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 8192), 8192)
	for {
		if s.Config.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.Config.IdleTimeout))
		}
		if !scanner.Scan() {
			return
		}
		line := strings.TrimRight(stripTelnet(scanner.Text()), "\r\n")
		d.touch(g.now())

		if !s.handleLine(d, line) || d.IsClosed() {
			return
		}
	}
}

// handleLine processes one line; false ends the connection.
func (s *Server) handleLine(d *Descriptor, line string) bool {
	g := s.Game
	trimmed := strings.TrimSpace(line)
	switch strings.ToUpper(trimmed) {
	case "QUIT":
		d.Send("Goodbye!")
		return false
	case "WHO":
		for _, l := range g.WhoList() {
			d.Send(l)
		}
		return true
	}

	if player := d.Player(); player != gamedb.Nothing {
		g.HandleInput(player, line)
		return true
	}

	cmd, user, password := ParseConnect(trimmed)
	switch cmd {
	case "":
		return true
	case "connect":
		player, ok := g.Authenticate(user, password)
		if !ok {
			d.Send(msgBadLogin)
			s.Log.Info("failed login", zap.Int("conn", d.ID), zap.String("name", user), zap.String("addr", d.Addr))
			if d.failLogin() <= 0 {
				d.Send("Too many failed attempts. Disconnecting.")
				return false
			}
			return true
		}
		g.ConnectPlayer(d, player)
	default:
		d.Send(`Use "connect <name> <password>" to log in.`)
	}
	return true
}

// stripTelnet removes telnet IAC command sequences from input.
func stripTelnet(s string) string {
	var buf strings.Builder
	i := 0
	for i < len(s) {
		if s[i] == 0xFF && i+2 < len(s) {
			// IAC command: skip 3 bytes (IAC + cmd + option)
			i += 3
			continue
		}
		if s[i] == 0xFF && i+1 < len(s) {
			i += 2
			continue
		}
		if s[i] < 32 && s[i] != '\t' && s[i] != '\n' && s[i] != '\r' {
			i++
			continue
		}
		buf.WriteByte(s[i])
		i++
	}
	return buf.String()
}
