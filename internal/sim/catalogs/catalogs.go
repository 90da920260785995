package catalogs

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ContainerSlots is the slot count of an anchor container (a single chest).
const ContainerSlots = 27

type Catalogs struct {
	Recipe RecipeCatalog
}

// RecipeCatalog is the anchor recipe: a slot pattern plus the energy value of
// every item the container can hold.
type RecipeCatalog struct {
	Slots  map[int]string
	Items  []ItemValue // value descending, then item id
	Values map[string]int64
	Digest string
}

type ItemValue struct {
	Item  string `json:"item"`
	Value int64  `json:"value"`
}

type recipeFile struct {
	Slots map[string]string `json:"slots"`
	Items []ItemValue       `json:"items"`
}

//go:embed anchor_recipe.schema.json
var recipeSchemaJSON string

var recipeSchema = jsonschema.MustCompileString("anchor_recipe.schema.json", recipeSchemaJSON)

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadRecipe(filepath.Join(configDir, "anchor_recipe.json"), &c.Recipe); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadRecipe(path string, out *RecipeCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return ParseRecipe(raw, out)
}

// ParseRecipe validates raw against the recipe schema and fills out.
func ParseRecipe(raw []byte, out *RecipeCatalog) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("anchor_recipe.json: %w", err)
	}
	if err := recipeSchema.Validate(doc); err != nil {
		return fmt.Errorf("anchor_recipe.json: %w", err)
	}
	var f recipeFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("anchor_recipe.json: %w", err)
	}

	out.Digest = sha256Hex(raw)
	out.Slots = make(map[int]string, len(f.Slots))
	for k, item := range f.Slots {
		slot, err := strconv.Atoi(k)
		if err != nil || slot < 0 || slot >= ContainerSlots {
			return fmt.Errorf("anchor_recipe.json: bad slot %q", k)
		}
		out.Slots[slot] = normalizeItem(item)
	}
	out.Values = make(map[string]int64, len(f.Items))
	out.Items = out.Items[:0]
	for _, iv := range f.Items {
		id := normalizeItem(iv.Item)
		if _, dup := out.Values[id]; dup {
			return fmt.Errorf("anchor_recipe.json: duplicate item %s", id)
		}
		out.Values[id] = iv.Value
		out.Items = append(out.Items, ItemValue{Item: id, Value: iv.Value})
	}
	sort.SliceStable(out.Items, func(i, j int) bool {
		if out.Items[i].Value != out.Items[j].Value {
			return out.Items[i].Value > out.Items[j].Value
		}
		return out.Items[i].Item < out.Items[j].Item
	})
	for slot, item := range out.Slots {
		if out.Values[item] <= 0 {
			return fmt.Errorf("anchor_recipe.json: slot %d item %s has no energy value", slot, item)
		}
	}
	return nil
}

// SortedSlots returns the pattern slots in ascending order.
func (r RecipeCatalog) SortedSlots() []int {
	out := make([]int, 0, len(r.Slots))
	for s := range r.Slots {
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}

func normalizeItem(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
