package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/crystal-mush/mushcore/pkg/queue"
)

// WebServer is the HTTP status API: logins, the caller's queue, command
// submission and Prometheus metrics.
type WebServer struct {
	game      *Game
	auth      *AuthService
	rl        *rateLimiter
	mux       *http.ServeMux
	httpSrv   *http.Server
	startTime time.Time
	log       *zap.Logger
}

// NewWebServer creates a web server bound to the game's web settings.
func NewWebServer(game *Game) *WebServer {
	conf := game.Conf
	ws := &WebServer{
		game:      game,
		auth:      NewAuthService(game, conf.JWTSecret, conf.JWTExpiry),
		rl:        newRateLimiter(conf.WebRateLimit),
		mux:       http.NewServeMux(),
		startTime: time.Now(),
		log:       game.Log,
	}
	ws.registerRoutes()
	ws.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", conf.WebPort),
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return ws
}

// Auth returns the auth service.
func (ws *WebServer) Auth() *AuthService { return ws.auth }

// Handler returns the root handler with rate limiting applied.
func (ws *WebServer) Handler() http.Handler {
	return ws.rl.limitHandler(ws.mux)
}

func (ws *WebServer) registerRoutes() {
	ws.mux.HandleFunc("POST /api/v1/auth/login", ws.handleAuthLogin)
	ws.mux.HandleFunc("POST /api/v1/auth/refresh", ws.handleAuthRefresh)
	ws.mux.Handle("GET /api/v1/queue", requireAuth(ws.auth, http.HandlerFunc(ws.handleQueue)))
	ws.mux.Handle("POST /api/v1/command", requireAuth(ws.auth, http.HandlerFunc(ws.handleCommand)))
	ws.mux.HandleFunc("GET /api/v1/who", ws.handleWho)
	ws.mux.HandleFunc("GET /health", ws.handleHealth)
	if ws.game.Metrics != nil {
		ws.mux.Handle("GET /metrics", ws.game.Metrics.Handler())
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down with a
// five second grace period.
func (ws *WebServer) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", ws.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("web: listen %s: %w", ws.httpSrv.Addr, err)
	}
	return ws.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (ws *WebServer) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ws.httpSrv.Shutdown(sctx); err != nil {
			ws.log.Warn("web: shutdown", zap.Error(err))
		}
	})
	defer stop()

	ws.log.Info("startup: web server listening", zap.String("addr", ln.Addr().String()))
	err := ws.httpSrv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// --- Responses ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Auth ---

func (ws *WebServer) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := ws.auth.Login(req.Name, req.Password)
	if err != nil {
		ws.log.Info("web: failed login", zap.String("name", req.Name), zap.String("addr", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (ws *WebServer) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}
	newToken, err := ws.auth.RefreshToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": newToken})
}

// --- Queue ---

type queueEntryJSON struct {
	PID       int     `json:"pid"`
	Queue     string  `json:"queue"`
	State     string  `json:"state"`
	Player    int     `json:"player"`
	Owner     int     `json:"owner"`
	Cause     int     `json:"cause"`
	Semaphore int     `json:"semaphore,omitempty"`
	SemAttr   string  `json:"sem_attr,omitempty"`
	Remaining float64 `json:"remaining_seconds,omitempty"`
	Command   string  `json:"command"`
}

type queueStatsJSON struct {
	Player    int    `json:"player"`
	Object    int    `json:"object"`
	Wait      int    `json:"wait"`
	Semaphore int    `json:"semaphore"`
	PIDsInUse int    `json:"pids_in_use"`
	Executed  uint64 `json:"executed"`
	Runaways  uint64 `json:"runaways"`
	CPUAborts uint64 `json:"cpu_aborts"`
}

func (ws *WebServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	l := ws.game.QueueListing(claims.PlayerRef)
	st := ws.game.QueueStats()

	entries := make([]queueEntryJSON, 0, l.Total())
	for _, items := range l {
		for _, it := range items {
			e := queueEntryJSON{
				PID:     it.PID,
				Queue:   strings.ToLower(it.Kind.String()),
				State:   it.State.String(),
				Player:  int(it.Player),
				Owner:   int(it.Owner),
				Cause:   int(it.Cause),
				Command: it.Command,
			}
			if it.Kind == queue.KindSem {
				e.Semaphore = int(it.Sem)
				e.SemAttr = it.SemAttr
			}
			if it.Timed {
				e.Remaining = it.Remaining.Seconds()
			}
			entries = append(entries, e)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"stats": queueStatsJSON{
			Player:    st.Player,
			Object:    st.Object,
			Wait:      st.Wait,
			Semaphore: st.Sem,
			PIDsInUse: st.PIDsInUse,
			Executed:  st.Executed,
			Runaways:  st.Runaways,
			CPUAborts: st.CPUAborts,
		},
	})
}

// --- Commands ---

func (ws *WebServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	var req struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "command required")
		return
	}
	ws.game.HandleInput(claims.PlayerRef, req.Command)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// --- WHO and health ---

func (ws *WebServer) handleWho(w http.ResponseWriter, r *http.Request) {
	type whoEntry struct {
		Name string `json:"name"`
		Ref  int    `json:"ref"`
	}
	players := ws.game.Conns.ConnectedPlayers()
	entries := make([]whoEntry, 0, len(players))
	ws.game.mu.Lock()
	for _, p := range players {
		entries = append(entries, whoEntry{Name: ws.game.DB.Name(p), Ref: int(p)})
	}
	ws.game.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"players": entries, "count": len(entries)})
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        Version,
		"uptime_seconds": time.Since(ws.startTime).Seconds(),
	})
}
