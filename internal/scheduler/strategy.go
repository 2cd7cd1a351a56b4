package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/me/godnc/internal/material"
	"github.com/me/godnc/pkg/model"
)

// pairing is one planned assignment for the current cycle.
type pairing struct {
	task    model.ProductionTask
	machine model.Machine
}

// assignmentWindow counts dispatches per machine over a trailing span.
// LOAD_BALANCE uses it to equalize utilization.
type assignmentWindow struct {
	mu      sync.Mutex
	span    time.Duration
	entries []windowEntry
}

type windowEntry struct {
	machineID string
	at        time.Time
}

func newAssignmentWindow(span time.Duration) *assignmentWindow {
	if span <= 0 {
		span = 10 * time.Minute
	}
	return &assignmentWindow{span: span}
}

func (w *assignmentWindow) record(machineID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(time.Now())
	w.entries = append(w.entries, windowEntry{machineID: machineID, at: time.Now()})
}

func (w *assignmentWindow) count(machineID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(time.Now())
	n := 0
	for _, e := range w.entries {
		if e.machineID == machineID {
			n++
		}
	}
	return n
}

// prune drops entries older than the span. Caller holds the lock.
func (w *assignmentWindow) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.entries) && w.entries[i].at.Before(cutoff) {
		i++
	}
	w.entries = w.entries[i:]
}

// plan applies the strategy to the cycle's snapshots and returns at most one
// task per machine and one machine per task. Only idle, unreserved,
// non-degraded machines are eligible: start_machine is only legal from IDLE,
// so queuing ahead to a busy machine would be refused on arrival.
func plan(strategy model.Strategy, machines []model.Machine, pending []model.ProductionTask,
	engine *material.Engine, window *assignmentWindow) []pairing {

	candidates := make([]model.Machine, 0, len(machines))
	for _, m := range machines {
		if m.Schedulable() {
			candidates = append(candidates, m)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	if len(candidates) == 0 || len(pending) == 0 {
		return nil
	}

	switch strategy {
	case model.StrategyPriorityFirst:
		return planPriorityFirst(candidates, pending, engine)
	case model.StrategyLoadBalance:
		return planLoadBalance(candidates, pending, engine, window)
	case model.StrategyEfficiencyFirst:
		return planEfficiencyFirst(candidates, pending, engine)
	default:
		return planMaterialFirst(candidates, pending, engine)
	}
}

// byUrgency orders tasks by priority descending, then creation time ascending.
func byUrgency(tasks []model.ProductionTask) []model.ProductionTask {
	out := make([]model.ProductionTask, len(tasks))
	copy(out, tasks)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// planMaterialFirst walks the machines and gives each the pending task with
// the cheapest material changeover, exact group matches first. Ties go to the
// higher-priority, then older, task.
func planMaterialFirst(machines []model.Machine, pending []model.ProductionTask,
	engine *material.Engine) []pairing {

	taken := make(map[string]bool, len(pending))
	var out []pairing
	for _, m := range machines {
		best := -1
		var bestCost float64
		for i, t := range pending {
			if taken[t.ID] || !engine.Compatible(m.Material, t.Material) {
				continue
			}
			cost, err := engine.ChangeoverCost(groupOf(engine, m.Material), groupOf(engine, t.Material))
			if err != nil {
				continue
			}
			if best < 0 || cost < bestCost ||
				(cost == bestCost && moreUrgent(t, pending[best])) {
				best, bestCost = i, cost
			}
		}
		if best >= 0 {
			taken[pending[best].ID] = true
			out = append(out, pairing{task: pending[best], machine: m})
		}
	}
	return out
}

// planPriorityFirst serves tasks strictly in urgency order, each taking the
// first compatible machine.
func planPriorityFirst(machines []model.Machine, pending []model.ProductionTask,
	engine *material.Engine) []pairing {

	free := make(map[string]bool, len(machines))
	for _, m := range machines {
		free[m.ID] = true
	}
	var out []pairing
	for _, t := range byUrgency(pending) {
		for _, m := range machines {
			if !free[m.ID] || !engine.Compatible(m.Material, t.Material) {
				continue
			}
			free[m.ID] = false
			out = append(out, pairing{task: t, machine: m})
			break
		}
	}
	return out
}

// planLoadBalance serves tasks in urgency order, each taking the compatible
// machine with the fewest dispatches in the trailing window. In-cycle
// assignments count toward the load so one cycle spreads work too.
func planLoadBalance(machines []model.Machine, pending []model.ProductionTask,
	engine *material.Engine, window *assignmentWindow) []pairing {

	load := make(map[string]int, len(machines))
	free := make(map[string]bool, len(machines))
	for _, m := range machines {
		load[m.ID] = window.count(m.ID)
		free[m.ID] = true
	}
	var out []pairing
	for _, t := range byUrgency(pending) {
		best := -1
		for i, m := range machines {
			if !free[m.ID] || !engine.Compatible(m.Material, t.Material) {
				continue
			}
			if best < 0 || load[m.ID] < load[machines[best].ID] {
				best = i
			}
		}
		if best >= 0 {
			m := machines[best]
			free[m.ID] = false
			load[m.ID]++
			out = append(out, pairing{task: t, machine: m})
		}
	}
	return out
}

// planEfficiencyFirst scores every compatible pair and greedily takes the
// best remaining one. The score rewards cheap changeovers and urgent tasks.
func planEfficiencyFirst(machines []model.Machine, pending []model.ProductionTask,
	engine *material.Engine) []pairing {

	type scored struct {
		taskIdx    int
		machineIdx int
		score      float64
	}
	var pairs []scored
	for ti, t := range pending {
		for mi, m := range machines {
			if !engine.Compatible(m.Material, t.Material) {
				continue
			}
			cost, err := engine.ChangeoverCost(groupOf(engine, m.Material), groupOf(engine, t.Material))
			if err != nil {
				continue
			}
			pairs = append(pairs, scored{
				taskIdx:    ti,
				machineIdx: mi,
				score:      efficiencyScore(cost, t.Priority),
			})
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].score != pairs[j].score {
			return pairs[i].score > pairs[j].score
		}
		ti, tj := pending[pairs[i].taskIdx], pending[pairs[j].taskIdx]
		if !ti.CreatedAt.Equal(tj.CreatedAt) {
			return ti.CreatedAt.Before(tj.CreatedAt)
		}
		return machines[pairs[i].machineIdx].ID < machines[pairs[j].machineIdx].ID
	})

	usedTask := make(map[int]bool)
	usedMachine := make(map[int]bool)
	var out []pairing
	for _, p := range pairs {
		if usedTask[p.taskIdx] || usedMachine[p.machineIdx] {
			continue
		}
		usedTask[p.taskIdx] = true
		usedMachine[p.machineIdx] = true
		out = append(out, pairing{task: pending[p.taskIdx], machine: machines[p.machineIdx]})
	}
	return out
}

// efficiencyScore starts at 100, charges two points per changeover minute and
// credits five per priority level.
func efficiencyScore(changeoverCost float64, priority int) float64 {
	return 100 - 2*changeoverCost + 5*float64(priority)
}

func moreUrgent(a, b model.ProductionTask) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func groupOf(engine *material.Engine, mat string) string {
	g, _ := engine.GroupOf(mat)
	return g
}
