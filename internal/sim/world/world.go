// Package world is the in-process stand-in for the host world: block containers
// and items dropped on the ground. Like the engine that owns it, it is touched
// only from the simulation loop.
package world

import (
	"sort"
	"time"

	"voxelclaims.ai/internal/sim/model"
)

type Drop struct {
	Pos   model.BlockPos
	Stack model.ItemStack
	At    time.Time
}

type World struct {
	containers map[model.BlockPos]*Container
	drops      []Drop

	now func() time.Time
}

func New(now func() time.Time) *World {
	if now == nil {
		now = time.Now
	}
	return &World{
		containers: map[model.BlockPos]*Container{},
		now:        now,
	}
}

// Drop spills stacks at pos.
func (w *World) Drop(pos model.BlockPos, stacks ...model.ItemStack) {
	at := w.now()
	for _, s := range stacks {
		if s.Empty() {
			continue
		}
		w.drops = append(w.drops, Drop{Pos: pos, Stack: s, At: at})
	}
}

// DropsAt lists the items lying at pos.
func (w *World) DropsAt(pos model.BlockPos) []model.ItemStack {
	var out []model.ItemStack
	for _, d := range w.drops {
		if d.Pos == pos {
			out = append(out, d.Stack)
		}
	}
	return out
}

// PickUp removes every drop at pos.
func (w *World) PickUp(pos model.BlockPos) []model.ItemStack {
	var out []model.ItemStack
	kept := w.drops[:0]
	for _, d := range w.drops {
		if d.Pos == pos {
			out = append(out, d.Stack)
			continue
		}
		kept = append(kept, d)
	}
	w.drops = kept
	return out
}

func (w *World) Containers() []*Container {
	out := make([]*Container, 0, len(w.containers))
	for _, c := range w.containers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
