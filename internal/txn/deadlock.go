package txn

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Detector periodically scans the lock manager's waits-for graph for
// cycles and aborts the youngest participating transaction, following
// original_source's RunCycleDetection/DFS design (that file's own
// AddEdge/RemoveEdge/HasCycle bodies are unimplemented stubs, so the
// traversal here is written directly against the graph the lock manager
// already exposes rather than a separately maintained edge set).
type Detector struct {
	lm       *LockManager
	txm      *Manager
	interval time.Duration
	logger   zerolog.Logger
}

// NewDetector builds a detector that ticks every interval.
func NewDetector(lm *LockManager, txm *Manager, interval time.Duration) *Detector {
	return &Detector{lm: lm, txm: txm, interval: interval, logger: log.With().Str("component", "deadlock").Logger()}
}

func (d *Detector) WithLogger(l zerolog.Logger) *Detector {
	d.logger = l
	return d
}

// Run ticks until ctx is cancelled, using time.Ticker rather than a raw
// sleep loop so callers can stop it promptly and tests can drive it with
// a short interval without leaking goroutines past the test.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

func (d *Detector) tick() {
	d.lm.compactEmptyQueues()
	graph := d.lm.WaitsForGraph()
	cycle := findCycle(graph)
	if len(cycle) == 0 {
		return
	}
	victim := youngest(cycle)
	t, ok := d.txm.Get(victim)
	if !ok {
		return
	}
	d.logger.Warn().Int64("victim_txn_id", victim).Ints64("cycle", cycle).Msg("deadlock detected, aborting youngest participant")
	t.setState(Aborted)
	d.lm.BroadcastAll()
}

func youngest(cycle []int64) int64 {
	max := cycle[0]
	for _, id := range cycle[1:] {
		if id > max {
			max = id
		}
	}
	return max
}

// findCycle runs DFS over graph (deterministically, by visiting
// neighbors in sorted id order so detection is reproducible across runs
// of the same test) and returns the member ids of the first cycle found,
// or nil if the graph is acyclic.
func findCycle(graph map[int64]map[int64]bool) []int64 {
	nodes := make([]int64, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int64]int, len(nodes))
	parent := make(map[int64]int64, len(nodes))
	var cycleStart, cycleEnd int64
	found := false

	var dfs func(u int64) bool
	dfs = func(u int64) bool {
		color[u] = gray
		neighbors := make([]int64, 0, len(graph[u]))
		for v := range graph[u] {
			neighbors = append(neighbors, v)
		}
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })
		for _, v := range neighbors {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				cycleStart, cycleEnd = v, u
				found = true
				return true
			}
		}
		color[u] = black
		return false
	}

	for _, n := range nodes {
		if color[n] == white {
			if dfs(n) {
				break
			}
		}
	}
	if !found {
		return nil
	}

	cycle := []int64{cycleStart}
	for cur := cycleEnd; cur != cycleStart; cur = parent[cur] {
		cycle = append(cycle, cur)
	}
	return cycle
}
