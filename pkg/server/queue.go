package server

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	fastTick      = 10 * time.Millisecond
	idleTick      = 100 * time.Millisecond
	heartbeatTick = 60 * time.Second
)

// StartQueueProcessor drives the scheduler in the background: the
// once-a-second tick, queue runs at an adaptive rate, a heartbeat log
// line and periodic saves. The returned channel closes once ctx is done
// and the loop has exited.
func (g *Game) StartQueueProcessor(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.processQueue(ctx)
	}()
	return done
}

func (g *Game) processQueue(ctx context.Context) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	run := time.NewTicker(idleTick)
	defer run.Stop()
	heartbeat := time.NewTicker(heartbeatTick)
	defer heartbeat.Stop()

	var save <-chan time.Time
	if g.Store != nil && g.Conf.SaveInterval > 0 {
		t := time.NewTicker(time.Duration(g.Conf.SaveInterval) * time.Second)
		defer t.Stop()
		save = t.C
	}

	idle := true
	for {
		select {
		case <-ctx.Done():
			g.Log.Info("QUEUE: processor stopped")
			return

		case <-tick.C:
			g.guard("tick", func() {
				g.Tick()
				if g.Metrics != nil {
					g.Metrics.Update(g.QueueStats(), len(g.Conns.ConnectedPlayers()))
				}
			})

		case <-run.C:
			g.guard("run", func() {
				chunk := g.Conf.QueueIdleChunk
				if g.busy.Swap(false) {
					chunk = g.Conf.QueueChunk
				}
				n, pending := g.runChunk(chunk)
				hadWork := n > 0 || pending
				if hadWork && idle {
					idle = false
					run.Reset(fastTick)
				} else if !hadWork && !idle {
					idle = true
					run.Reset(idleTick)
				}
			})

		case <-heartbeat.C:
			g.Bus.Cleanup()
			st := g.QueueStats()
			if st.Player+st.Object+st.Wait+st.Sem > 0 {
				g.Log.Info("QUEUE: heartbeat",
					zap.Int("player", st.Player),
					zap.Int("object", st.Object),
					zap.Int("wait", st.Wait),
					zap.Int("semaphore", st.Sem),
					zap.Int("pids", st.PIDsInUse))
			}

		case <-save:
			g.guard("save", func() { _ = g.Save() })
		}
	}
}

// runChunk runs up to n entries and reports whether work remains.
func (g *Game) runChunk(n int) (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ran := g.Queue.Run(n)
	return ran, g.Queue.Pending()
}

// guard keeps a panic in one pass from killing the processor.
func (g *Game) guard(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			g.Log.Error("PANIC in queue processor",
				zap.String("pass", what),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	fn()
}
