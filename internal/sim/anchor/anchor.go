// Package anchor converts between physical power cell contents and banked energy.
// The banked value of an anchor is always the energy value of the items inside
// its container.
package anchor

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"voxelclaims.ai/internal/sim/catalogs"
	"voxelclaims.ai/internal/sim/model"
)

const MaxStack = 64

type Converter struct {
	recipe catalogs.RecipeCatalog
	slots  []int
}

func NewConverter(r catalogs.RecipeCatalog) *Converter {
	return &Converter{recipe: r, slots: r.SortedSlots()}
}

func (c *Converter) Value(item string) int64 { return c.recipe.Values[item] }

// ContainerValue is the energy value of every stack in the container.
func (c *Converter) ContainerValue(slots []model.ItemStack) int64 {
	var total int64
	for _, s := range slots {
		if s.Empty() {
			continue
		}
		total += c.recipe.Values[s.Item] * int64(s.Count)
	}
	return total
}

// Matches reports whether every pattern slot holds its required item.
func (c *Converter) Matches(slots []model.ItemStack) bool {
	if len(c.slots) == 0 {
		return false
	}
	for _, i := range c.slots {
		if i >= len(slots) {
			return false
		}
		s := slots[i]
		if s.Empty() || s.Item != c.recipe.Slots[i] {
			return false
		}
	}
	return true
}

// Consume removes one item from each pattern slot and returns their total value.
// It assumes Matches is true.
func (c *Converter) Consume(slots []model.ItemStack) int64 {
	var total int64
	for _, i := range c.slots {
		s := &slots[i]
		total += c.recipe.Values[s.Item]
		s.Count--
		if s.Count <= 0 {
			*s = model.ItemStack{}
		}
	}
	return total
}

// Rematerialize expresses value as items, highest value first. The remainder
// below the cheapest item is returned unspent.
func (c *Converter) Rematerialize(value int64) ([]model.ItemStack, int64) {
	var out []model.ItemStack
	for _, iv := range c.recipe.Items {
		if value <= 0 {
			break
		}
		if iv.Value <= 0 {
			continue
		}
		n := value / iv.Value
		if n <= 0 {
			continue
		}
		out = append(out, model.ItemStack{Item: iv.Item, Count: int(n)})
		value -= n * iv.Value
	}
	return out, value
}

// Organize merges stacks of the same item, orders them by value descending then
// item id, and packs them from slot 0. Items that do not fit are returned as overflow.
func (c *Converter) Organize(slots []model.ItemStack, extra ...model.ItemStack) ([]model.ItemStack, []model.ItemStack) {
	counts := map[string]int{}
	for _, s := range append(append([]model.ItemStack(nil), slots...), extra...) {
		if !s.Empty() {
			counts[s.Item] += s.Count
		}
	}
	items := make([]string, 0, len(counts))
	for it := range counts {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		vi, vj := c.recipe.Values[items[i]], c.recipe.Values[items[j]]
		if vi != vj {
			return vi > vj
		}
		return items[i] < items[j]
	})

	out := make([]model.ItemStack, len(slots))
	var overflow []model.ItemStack
	slot := 0
	for _, it := range items {
		n := counts[it]
		for n > 0 {
			take := min(n, MaxStack)
			if slot < len(out) {
				out[slot] = model.ItemStack{Item: it, Count: take}
				slot++
			} else {
				overflow = append(overflow, model.ItemStack{Item: it, Count: take})
			}
			n -= take
		}
	}
	return out, overflow
}

// Conversion is the result of turning a matched recipe into energy items.
type Conversion struct {
	Slots     []model.ItemStack
	Overflow  []model.ItemStack
	Consumed  int64
	Remainder int64
	Value     int64
}

// Convert consumes the recipe, puts its value back as energy items and organizes
// the container. ok is false when the recipe does not match.
func (c *Converter) Convert(slots []model.ItemStack) (Conversion, bool) {
	if !c.Matches(slots) {
		return Conversion{}, false
	}
	work := append([]model.ItemStack(nil), slots...)
	consumed := c.Consume(work)
	items, rem := c.Rematerialize(consumed)
	out, overflow := c.Organize(work, items...)
	return Conversion{
		Slots:     out,
		Overflow:  overflow,
		Consumed:  consumed,
		Remainder: rem,
		Value:     c.ContainerValue(out),
	}, true
}

// Session tracks one open anchor UI. Only the difference between the open and
// close snapshots is applied to the claim.
type Session struct {
	Player    uuid.UUID
	Pos       model.BlockPos
	ClaimID   int64
	OpenValue int64
	OpenedAt  time.Time
}

func (s Session) Delta(closeValue int64) int64 { return closeValue - s.OpenValue }
