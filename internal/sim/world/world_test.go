package world

import (
	"testing"
	"time"

	"voxelclaims.ai/internal/sim/model"
)

func TestContainerAddAndTake(t *testing.T) {
	w := New(func() time.Time { return time.Unix(0, 0) })
	pos := model.BlockPos{World: "w", X: 1, Y: 64, Z: 1}
	c := w.EnsureContainer(pos)
	if len(c.Slots) != 27 {
		t.Fatalf("slots=%d", len(c.Slots))
	}
	if left := c.Add(model.ItemStack{Item: "COAL", Count: 100}, 64); !left.Empty() {
		t.Fatalf("leftover=%v", left)
	}
	if c.Slots[0].Count != 64 || c.Slots[1].Count != 36 {
		t.Fatalf("slots=%v", c.Slots[:2])
	}
	if got := c.Take("COAL", 40); got != 40 {
		t.Fatalf("took %d", got)
	}
	if c.Slots[1].Count != 0 || c.Slots[0].Count != 60 {
		t.Fatalf("after take: %v", c.Slots[:2])
	}
	if w.EnsureContainer(pos) != c {
		t.Fatalf("EnsureContainer must return the existing container")
	}
}

func TestRemoveContainerDropsContents(t *testing.T) {
	w := New(nil)
	pos := model.BlockPos{World: "w", X: 0, Y: 70, Z: 0}
	c := w.EnsureContainer(pos)
	c.Add(model.ItemStack{Item: "DIAMOND", Count: 3}, 64)

	items := w.RemoveContainer(pos)
	if len(items) != 1 || w.Container(pos) != nil {
		t.Fatalf("items=%v container=%v", items, w.Container(pos))
	}
	if got := w.DropsAt(pos); len(got) != 1 || got[0].Count != 3 {
		t.Fatalf("drops=%v", got)
	}
	if got := w.PickUp(pos); len(got) != 1 || len(w.DropsAt(pos)) != 0 {
		t.Fatalf("pickup=%v", got)
	}
}
