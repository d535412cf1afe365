package server

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crystal-mush/mushcore/pkg/crypt"
	"github.com/crystal-mush/mushcore/pkg/events"
	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

const msgBadLogin = "Either that player does not exist, or has a different password."

// ParseConnect parses a login-screen command into (command, user, password).
// Handles "connect name password" and quoted names with spaces.
func ParseConnect(msg string) (command, user, password string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "", "", ""
	}

	parts := strings.SplitN(msg, " ", 2)
	command = strings.ToLower(parts[0])
	if len(parts) < 2 {
		return command, "", ""
	}

	rest := strings.TrimSpace(parts[1])
	if rest == "" {
		return command, "", ""
	}

	if rest[0] == '"' {
		end := strings.Index(rest[1:], "\"")
		if end >= 0 {
			user = rest[1 : end+1]
			password = strings.TrimSpace(rest[end+2:])
			return
		}
	}

	parts = strings.SplitN(rest, " ", 2)
	user = parts[0]
	if len(parts) > 1 {
		password = strings.TrimSpace(parts[1])
	}
	return
}

// Authenticate checks name and password against the PASSWORD attribute
// and returns the player on success.
func (g *Game) Authenticate(name, password string) (gamedb.DBRef, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	player := g.DB.LookupPlayer(name)
	if player == gamedb.Nothing {
		return gamedb.Nothing, false
	}
	stored := g.DB.GetAttr(player, gamedb.AttrPassword)
	if stored == "" || !crypt.CheckPassword(password, stored) {
		return gamedb.Nothing, false
	}
	return player, true
}

// SetPassword stores a bcrypt hash of password on player.
func (g *Game) SetPassword(player gamedb.DBRef, password string) error {
	h, err := crypt.Hash(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.DB.SetAttr(player, gamedb.AttrPassword, h)
	return nil
}

// ConnectPlayer marks player connected through d and tells the room.
func (g *Game) ConnectPlayer(d *Descriptor, player gamedb.DBRef) {
	g.Conns.Login(d, player)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.DB.SetFlag(player, "CONNECTED", true)
	g.DB.SetAttr(player, gamedb.AttrLastSite, d.Addr)
	if loc := g.DB.Location(player); !g.DB.Valid(loc) {
		g.move(player, g.StartingRoom())
	}
	name := g.DB.Name(player)
	g.Log.Info("player connected", zap.Int("conn", d.ID), zap.String("name", name),
		zap.Int("player", int(player)), zap.String("addr", d.Addr))

	g.Bus.EmitToPlayer(player, events.Event{Type: events.EvConnect, Source: player,
		Text: fmt.Sprintf("Welcome back, %s!", name)})
	g.emitRoom(g.DB.Location(player), player, player, events.EvConnect, name+" has connected.")
}

// DisconnectPlayer undoes ConnectPlayer for d. Pre-login descriptors are
// only forgotten.
func (g *Game) DisconnectPlayer(d *Descriptor) {
	player := d.Player()
	g.Conns.Remove(d)
	if player == gamedb.Nothing {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	name := g.DB.Name(player)
	if !g.Conns.IsConnected(player) {
		g.DB.SetFlag(player, "CONNECTED", false)
		g.emitRoom(g.DB.Location(player), player, player, events.EvDisconnect, name+" has disconnected.")
	}
	g.Log.Info("player disconnected", zap.Int("conn", d.ID), zap.String("name", name),
		zap.Int("player", int(player)))
}

// WhoList renders the WHO table.
func (g *Game) WhoList() []string {
	now := g.now()
	descs := g.Conns.AllDescriptors()

	g.mu.Lock()
	defer g.mu.Unlock()
	lines := []string{fmt.Sprintf("%-16s %10s %4s", "Player Name", "On For", "Idle")}
	n := 0
	for _, d := range descs {
		info := d.Info()
		if info.Player == gamedb.Nothing {
			continue
		}
		lines = append(lines, fmt.Sprintf("%-16s %10s %4s",
			g.DB.Name(info.Player), onFor(now.Sub(info.ConnTime)), idle(now.Sub(info.LastCmd))))
		n++
	}
	lines = append(lines, fmt.Sprintf("%d Players logged in.", n))
	return lines
}

func onFor(d time.Duration) string {
	d = d.Truncate(time.Minute)
	days := int(d.Hours()) / 24
	h := int(d.Hours()) % 24
	m := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %02d:%02d", days, h, m)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

func idle(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}

// WelcomeText is the default welcome screen shown to new connections.
const WelcomeText = `
                      _
 _ __ ___  _   _ ___| |__   ___ ___  _ __ ___
| '_ ` + "`" + ` _ \| | | / __| '_ \ / __/ _ \| '__/ _ \
| | | | | | |_| \__ \ | | | (_| (_) | | |  __/
|_| |_| |_|\__,_|___/_| |_|\___\___/|_|  \___|

"connect <name> <password>" to connect to your existing character.
"WHO" to see who is connected.
"QUIT" to disconnect.

`
