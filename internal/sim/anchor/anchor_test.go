package anchor

import (
	"testing"

	"voxelclaims.ai/internal/sim/catalogs"
	"voxelclaims.ai/internal/sim/model"
)

func testRecipe(t *testing.T) *Converter {
	t.Helper()
	var r catalogs.RecipeCatalog
	raw := `{
		"slots": {"3":"REDSTONE_BLOCK","4":"DIAMOND","5":"REDSTONE_BLOCK",
		          "12":"DIAMOND","13":"NETHER_STAR","14":"DIAMOND",
		          "21":"REDSTONE_BLOCK","22":"DIAMOND","23":"REDSTONE_BLOCK"},
		"items": [
			{"item":"REDSTONE_BLOCK","value":900},
			{"item":"NETHER_STAR","value":86400},
			{"item":"DIAMOND","value":7200},
			{"item":"COAL","value":60}
		]
	}`
	if err := catalogs.ParseRecipe([]byte(raw), &r); err != nil {
		t.Fatalf("ParseRecipe: %v", err)
	}
	return NewConverter(r)
}

func filled() []model.ItemStack {
	s := make([]model.ItemStack, catalogs.ContainerSlots)
	for _, i := range []int{3, 5, 21, 23} {
		s[i] = model.ItemStack{Item: "REDSTONE_BLOCK", Count: 1}
	}
	for _, i := range []int{4, 12, 14, 22} {
		s[i] = model.ItemStack{Item: "DIAMOND", Count: 1}
	}
	s[13] = model.ItemStack{Item: "NETHER_STAR", Count: 2}
	return s
}

func TestMatchesAndConvert(t *testing.T) {
	c := testRecipe(t)
	slots := filled()
	if !c.Matches(slots) {
		t.Fatalf("expected match")
	}
	before := c.ContainerValue(slots)

	conv, ok := c.Convert(slots)
	if !ok {
		t.Fatalf("Convert did not match")
	}
	// 4*900 + 4*7200 + 86400
	if conv.Consumed != 118800 {
		t.Fatalf("consumed=%d", conv.Consumed)
	}
	if conv.Remainder != 0 {
		t.Fatalf("remainder=%d", conv.Remainder)
	}
	if conv.Value != before {
		t.Fatalf("value changed: before=%d after=%d", before, conv.Value)
	}
	// One star stayed, 118800 = 1 star + 4 diamonds + 4 redstone blocks re-materialized.
	if conv.Slots[0] != (model.ItemStack{Item: "NETHER_STAR", Count: 2}) {
		t.Fatalf("slot0=%+v", conv.Slots[0])
	}
	if conv.Slots[1] != (model.ItemStack{Item: "DIAMOND", Count: 4}) {
		t.Fatalf("slot1=%+v", conv.Slots[1])
	}
	if slots[13].Count != 2 {
		t.Fatalf("Convert must not mutate its input")
	}
}

func TestMatchRequiresEveryPatternSlot(t *testing.T) {
	c := testRecipe(t)
	slots := filled()
	slots[22] = model.ItemStack{}
	if c.Matches(slots) {
		t.Fatalf("missing slot must not match")
	}
	slots = filled()
	slots[13] = model.ItemStack{Item: "DIAMOND", Count: 1}
	if c.Matches(slots) {
		t.Fatalf("wrong item must not match")
	}
}

func TestRematerializeHighestValueFirst(t *testing.T) {
	c := testRecipe(t)
	items, rem := c.Rematerialize(86400 + 2*7200 + 61)
	want := []model.ItemStack{{Item: "NETHER_STAR", Count: 1}, {Item: "DIAMOND", Count: 2}, {Item: "COAL", Count: 1}}
	if len(items) != len(want) {
		t.Fatalf("items=%v", items)
	}
	for i := range want {
		if items[i] != want[i] {
			t.Fatalf("items[%d]=%v want %v", i, items[i], want[i])
		}
	}
	if rem != 1 {
		t.Fatalf("remainder=%d", rem)
	}
}

func TestOrganizeSplitsStacksAndOverflows(t *testing.T) {
	c := testRecipe(t)
	slots := make([]model.ItemStack, 2)
	slots[1] = model.ItemStack{Item: "COAL", Count: 70}
	out, overflow := c.Organize(slots, model.ItemStack{Item: "DIAMOND", Count: 3})
	if out[0] != (model.ItemStack{Item: "DIAMOND", Count: 3}) || out[1] != (model.ItemStack{Item: "COAL", Count: 64}) {
		t.Fatalf("out=%v", out)
	}
	if len(overflow) != 1 || overflow[0] != (model.ItemStack{Item: "COAL", Count: 6}) {
		t.Fatalf("overflow=%v", overflow)
	}
}

func TestSessionDelta(t *testing.T) {
	s := Session{OpenValue: 1000}
	if d := s.Delta(1500); d != 500 {
		t.Fatalf("delta=%d", d)
	}
	if d := s.Delta(200); d != -800 {
		t.Fatalf("delta=%d", d)
	}
}
