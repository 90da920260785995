package world

import (
	"voxelclaims.ai/internal/sim/catalogs"
	"voxelclaims.ai/internal/sim/model"
)

const ChestType = "CHEST"

type Container struct {
	Type  string
	Pos   model.BlockPos
	Slots []model.ItemStack
}

func (c *Container) ID() string { return c.Type + "@" + c.Pos.String() }

// Items lists non-empty stacks in slot order.
func (c *Container) Items() []model.ItemStack {
	out := make([]model.ItemStack, 0, len(c.Slots))
	for _, s := range c.Slots {
		if !s.Empty() {
			out = append(out, s)
		}
	}
	return out
}

// Snapshot copies the slots.
func (c *Container) Snapshot() []model.ItemStack {
	return append([]model.ItemStack(nil), c.Slots...)
}

func (c *Container) SetSlots(slots []model.ItemStack) {
	n := copy(c.Slots, slots)
	for i := n; i < len(c.Slots); i++ {
		c.Slots[i] = model.ItemStack{}
	}
}

// Add puts a stack into the first slots that can take it and returns what did not fit.
func (c *Container) Add(s model.ItemStack, maxStack int) model.ItemStack {
	if s.Empty() {
		return model.ItemStack{}
	}
	for i := range c.Slots {
		if s.Count == 0 {
			break
		}
		cur := &c.Slots[i]
		if cur.Empty() {
			take := min(s.Count, maxStack)
			*cur = model.ItemStack{Item: s.Item, Count: take}
			s.Count -= take
			continue
		}
		if cur.Item == s.Item && cur.Count < maxStack {
			take := min(s.Count, maxStack-cur.Count)
			cur.Count += take
			s.Count -= take
		}
	}
	if s.Count == 0 {
		return model.ItemStack{}
	}
	return s
}

// Take removes up to n of item and returns how many were removed.
func (c *Container) Take(item string, n int) int {
	got := 0
	for i := len(c.Slots) - 1; i >= 0 && got < n; i-- {
		cur := &c.Slots[i]
		if cur.Empty() || cur.Item != item {
			continue
		}
		take := min(n-got, cur.Count)
		cur.Count -= take
		got += take
		if cur.Count == 0 {
			*cur = model.ItemStack{}
		}
	}
	return got
}

func (w *World) EnsureContainer(pos model.BlockPos) *Container {
	c := w.containers[pos]
	if c != nil {
		return c
	}
	c = &Container{
		Type:  ChestType,
		Pos:   pos,
		Slots: make([]model.ItemStack, catalogs.ContainerSlots),
	}
	w.containers[pos] = c
	return c
}

func (w *World) Container(pos model.BlockPos) *Container { return w.containers[pos] }

// RemoveContainer destroys the container and spills its contents at its position.
func (w *World) RemoveContainer(pos model.BlockPos) []model.ItemStack {
	c := w.containers[pos]
	if c == nil {
		return nil
	}
	delete(w.containers, pos)
	items := c.Items()
	w.Drop(pos, items...)
	return items
}
