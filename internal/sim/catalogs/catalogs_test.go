package catalogs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadShippedRecipe(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "..", "configs"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r := c.Recipe
	if len(r.Slots) != 9 {
		t.Fatalf("slots=%d want 9", len(r.Slots))
	}
	want := []int{3, 4, 5, 12, 13, 14, 21, 22, 23}
	for i, s := range r.SortedSlots() {
		if s != want[i] {
			t.Fatalf("slot %d=%d want %d", i, s, want[i])
		}
	}
	for i := 1; i < len(r.Items); i++ {
		if r.Items[i].Value > r.Items[i-1].Value {
			t.Fatalf("items not sorted by value: %v", r.Items)
		}
	}
	if r.Digest == "" {
		t.Fatalf("missing digest")
	}
}

func TestParseRecipeRejects(t *testing.T) {
	cases := map[string]string{
		"schema":      `{"slots":{"4":"DIAMOND"},"items":[{"item":"DIAMOND","value":0}]}`,
		"extra field": `{"slots":{"4":"DIAMOND"},"items":[{"item":"DIAMOND","value":5}],"x":1}`,
		"slot range":  `{"slots":{"27":"DIAMOND"},"items":[{"item":"DIAMOND","value":5}]}`,
		"no value":    `{"slots":{"4":"COAL"},"items":[{"item":"DIAMOND","value":5}]}`,
		"duplicate":   `{"slots":{"4":"DIAMOND"},"items":[{"item":"DIAMOND","value":5},{"item":"diamond","value":6}]}`,
	}
	for name, raw := range cases {
		var out RecipeCatalog
		if err := ParseRecipe([]byte(raw), &out); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseRecipeNormalizesItems(t *testing.T) {
	var out RecipeCatalog
	raw := `{"slots":{"13":" nether_star "},"items":[{"item":"Nether_Star","value":10}]}`
	if err := ParseRecipe([]byte(raw), &out); err != nil {
		t.Fatalf("ParseRecipe: %v", err)
	}
	if out.Slots[13] != "NETHER_STAR" || out.Values["NETHER_STAR"] != 10 {
		t.Fatalf("got %+v", out)
	}
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "anchor_recipe.json") {
		t.Fatalf("expected missing file error, got %v", err)
	}
	_ = os.WriteFile(filepath.Join(dir, "anchor_recipe.json"), []byte("{"), 0o644)
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected parse error")
	}
}
