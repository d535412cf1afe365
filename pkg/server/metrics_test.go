package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/crystal-mush/mushcore/pkg/queue"
)

func scrape(m *Metrics) string {
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestMetricsUpdate(t *testing.T) {
	m := NewMetrics(time.Now())
	m.Update(queue.Stats{Player: 2, Wait: 3, PIDsInUse: 5, Executed: 10, Runaways: 1}, 4)

	out := scrape(m)
	assert.Contains(t, out, "mushcore_players_connected 4")
	assert.Contains(t, out, `mushcore_queue_depth{queue="player"} 2`)
	assert.Contains(t, out, `mushcore_queue_depth{queue="wait"} 3`)
	assert.Contains(t, out, "mushcore_queue_pids_in_use 5")
	assert.Contains(t, out, `mushcore_queue_events_total{event="executed"} 10`)

	// counters advance by the delta, not the lifetime total
	m.Update(queue.Stats{Executed: 15, Runaways: 1}, 0)
	out = scrape(m)
	assert.Contains(t, out, `mushcore_queue_events_total{event="executed"} 15`)
	assert.Contains(t, out, `mushcore_queue_events_total{event="runaway"} 1`)
	assert.Contains(t, out, `mushcore_queue_depth{queue="wait"} 0`)
}

func TestMetricsCountsCommands(t *testing.T) {
	w := newWorld(t)
	m := NewMetrics(time.Now())
	w.g.Metrics = m

	w.do(bob, "think one")
	w.do(bob, "think two")
	w.do(bob, "say hi")

	out := scrape(m)
	assert.Contains(t, out, `mushcore_commands_total{command="think"} 2`)
	assert.Contains(t, out, `mushcore_commands_total{command="say"} 1`)
}

func TestMetricsRegistry(t *testing.T) {
	m := NewMetrics(time.Now())
	m.Update(queue.Stats{}, 0)
	families, err := m.Registry().Gather()
	assert.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "mushcore_goroutines")
	assert.Contains(t, names, "mushcore_memory_heap_bytes")
}
