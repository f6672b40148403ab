package domain

import (
	"encoding/json"
	"testing"
)

func TestCanonicalSlots_Order(t *testing.T) {
	want := []string{
		"brightness", "contrast", "saturation",
		"highlights-bright", "highlights-contrast",
		"shadows-bright", "shadows-contrast",
		"sharpen", "warm", "vintage", "grain", "blur",
	}
	got := CanonicalSlots()
	if len(got) != len(want) {
		t.Fatalf("len(CanonicalSlots()) = %d, want %d", len(got), len(want))
	}
	for i, s := range got {
		if s.String() != want[i] {
			t.Errorf("slot %d = %q, want %q", i, s.String(), want[i])
		}
		parsed, ok := ParseSlot(want[i])
		if !ok || parsed != s {
			t.Errorf("ParseSlot(%q) = %v, %v", want[i], parsed, ok)
		}
	}
	if _, ok := ParseSlot("sepia"); ok {
		t.Error("ParseSlot should reject unknown names")
	}
}

func TestFilterSlotTable_StackUsesCanonicalOrder(t *testing.T) {
	table := NewFilterSlotTable()
	table.Set(SlotBlur, Effect{Kind: EffectBlur, Params: map[string]float64{"blur": 0.2}})
	table.Set(SlotSharpen, Effect{Kind: EffectConvolute, Matrix: []float64{0, -1, 0, -1, 5, -1, 0, -1, 0}})
	table.Set(SlotBrightness, Effect{Kind: EffectBrightness, Params: map[string]float64{"brightness": 0.4}})

	stack := table.Stack()
	kinds := []EffectKind{EffectBrightness, EffectConvolute, EffectBlur}
	if len(stack) != len(kinds) {
		t.Fatalf("len(stack) = %d, want %d", len(stack), len(kinds))
	}
	for i, k := range kinds {
		if stack[i].Kind != k {
			t.Errorf("stack[%d].Kind = %s, want %s", i, stack[i].Kind, k)
		}
	}

	present := table.Present()
	if len(present) != 3 || present[0] != SlotBrightness || present[2] != SlotBlur {
		t.Errorf("Present() = %v", present)
	}
}

func TestFilterSlotTable_SetOverwritesAndClear(t *testing.T) {
	table := NewFilterSlotTable()
	table.Set(SlotContrast, Effect{Kind: EffectContrast, Params: map[string]float64{"contrast": 0.1}})
	table.Set(SlotContrast, Effect{Kind: EffectContrast, Params: map[string]float64{"contrast": 0.3}})

	if table.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", table.Len())
	}
	got, _ := table.Get(SlotContrast)
	if got.Params["contrast"] != 0.3 {
		t.Errorf("contrast = %v, want 0.3", got.Params["contrast"])
	}

	if !table.Clear(SlotContrast) {
		t.Error("Clear should report removal")
	}
	if table.Clear(SlotContrast) {
		t.Error("Clear of an empty slot should report false")
	}
	if table.Len() != 0 {
		t.Errorf("Len() after clear = %d", table.Len())
	}
}

func TestFilterSlotTable_IsolatedFromCallers(t *testing.T) {
	params := map[string]float64{"brightness": 0.4}
	table := NewFilterSlotTable()
	table.Set(SlotBrightness, Effect{Kind: EffectBrightness, Params: params})
	params["brightness"] = 0.9

	got, _ := table.Get(SlotBrightness)
	if got.Params["brightness"] != 0.4 {
		t.Error("Set must copy parameters")
	}
	got.Params["brightness"] = 0.7
	again, _ := table.Get(SlotBrightness)
	if again.Params["brightness"] != 0.4 {
		t.Error("Get must return a copy")
	}
}

func TestFilterSlotTable_JSONRoundTrip(t *testing.T) {
	table := NewFilterSlotTable()
	table.Set(SlotGrain, Effect{Kind: EffectNoise, Params: map[string]float64{"noise": 60}})
	table.Set(SlotSaturation, Effect{Kind: EffectSaturation, Params: map[string]float64{"saturation": -0.5}})

	data, err := json.Marshal(table)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `[{"slot":"saturation","kind":"saturation","params":{"saturation":-0.5}},{"slot":"grain","kind":"noise","params":{"noise":60}}]`
	if string(data) != want {
		t.Errorf("Marshal() = %s\nwant      %s", data, want)
	}

	var decoded FilterSlotTable
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !decoded.Equal(table) {
		t.Error("decoded table differs from original")
	}
}

func TestFilterSlotTable_UnmarshalRejects(t *testing.T) {
	tests := map[string]string{
		"unknown slot": `[{"slot":"sepia","kind":"sepia"}]`,
		"repeated":     `[{"slot":"blur","kind":"blur"},{"slot":"blur","kind":"blur"}]`,
		"no kind":      `[{"slot":"blur"}]`,
		"not array":    `{"slot":"blur"}`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			var table FilterSlotTable
			if err := json.Unmarshal([]byte(data), &table); err == nil {
				t.Errorf("Unmarshal(%s) should fail", data)
			}
		})
	}
}

func TestFilterSlotTable_EqualNil(t *testing.T) {
	var nilTable *FilterSlotTable
	if !nilTable.Equal(NewFilterSlotTable()) {
		t.Error("nil table should equal empty table")
	}
	full := NewFilterSlotTable()
	full.Set(SlotWarm, Effect{Kind: EffectColorMatrix})
	if nilTable.Equal(full) {
		t.Error("nil table should not equal non-empty table")
	}
}
