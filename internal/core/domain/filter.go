package domain

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Slot identifies one independently addressable effect position within an
// image layer's composed filter stack.
type Slot int

// Slots in canonical composition order. Effects do not commute, so the
// composed stack is always built by walking this order, never by the order
// in which slots were written.
const (
	SlotBrightness Slot = iota
	SlotContrast
	SlotSaturation
	SlotHighlightsBright
	SlotHighlightsContrast
	SlotShadowsBright
	SlotShadowsContrast
	SlotSharpen
	SlotWarm
	SlotVintage
	SlotGrain
	SlotBlur

	slotCount
)

var slotNames = [slotCount]string{
	SlotBrightness:         "brightness",
	SlotContrast:           "contrast",
	SlotSaturation:         "saturation",
	SlotHighlightsBright:   "highlights-bright",
	SlotHighlightsContrast: "highlights-contrast",
	SlotShadowsBright:      "shadows-bright",
	SlotShadowsContrast:    "shadows-contrast",
	SlotSharpen:            "sharpen",
	SlotWarm:               "warm",
	SlotVintage:            "vintage",
	SlotGrain:              "grain",
	SlotBlur:               "blur",
}

// CanonicalSlots returns every slot in canonical composition order.
func CanonicalSlots() []Slot {
	out := make([]Slot, slotCount)
	for i := range out {
		out[i] = Slot(i)
	}
	return out
}

// String returns the slot identifier.
func (s Slot) String() string {
	if !s.Valid() {
		return fmt.Sprintf("slot(%d)", int(s))
	}
	return slotNames[s]
}

// Valid reports whether s is a declared slot.
func (s Slot) Valid() bool {
	return s >= 0 && s < slotCount
}

// ParseSlot resolves a slot identifier.
func ParseSlot(name string) (Slot, bool) {
	for i, n := range slotNames {
		if n == name {
			return Slot(i), true
		}
	}
	return 0, false
}

// EffectKind names an effect understood by the image-effects capability.
type EffectKind string

// Effect kinds.
const (
	EffectBrightness  EffectKind = "brightness"
	EffectContrast    EffectKind = "contrast"
	EffectSaturation  EffectKind = "saturation"
	EffectConvolute   EffectKind = "convolute"
	EffectColorMatrix EffectKind = "color-matrix"
	EffectSepia       EffectKind = "sepia"
	EffectNoise       EffectKind = "noise"
	EffectBlur        EffectKind = "blur"
)

// Effect is one effect descriptor: a kind plus its parameters.
type Effect struct {
	Kind   EffectKind         `json:"kind"`
	Params map[string]float64 `json:"params,omitempty"`
	Matrix []float64          `json:"matrix,omitempty"`
}

// Clone returns a deep copy of the effect.
func (e Effect) Clone() Effect {
	out := Effect{Kind: e.Kind}
	if e.Params != nil {
		out.Params = make(map[string]float64, len(e.Params))
		for k, v := range e.Params {
			out.Params[k] = v
		}
	}
	if e.Matrix != nil {
		out.Matrix = slices.Clone(e.Matrix)
	}
	return out
}

// Equal reports whether two effects are identical.
func (e Effect) Equal(other Effect) bool {
	if e.Kind != other.Kind || len(e.Params) != len(other.Params) {
		return false
	}
	for k, v := range e.Params {
		ov, ok := other.Params[k]
		if !ok || ov != v {
			return false
		}
	}
	return slices.Equal(e.Matrix, other.Matrix)
}

// FilterSlotTable maps every slot to an optional effect. One table belongs
// to each image layer; the zero value is an empty table.
type FilterSlotTable struct {
	slots [slotCount]*Effect
}

// NewFilterSlotTable returns an empty table.
func NewFilterSlotTable() *FilterSlotTable {
	return &FilterSlotTable{}
}

// Get returns the effect stored in slot, if any.
func (t *FilterSlotTable) Get(slot Slot) (Effect, bool) {
	if t == nil || !slot.Valid() || t.slots[slot] == nil {
		return Effect{}, false
	}
	return t.slots[slot].Clone(), true
}

// Set overwrites slot with a copy of e.
func (t *FilterSlotTable) Set(slot Slot, e Effect) {
	if !slot.Valid() {
		return
	}
	c := e.Clone()
	t.slots[slot] = &c
}

// Clear removes the effect in slot. It reports whether anything was removed.
func (t *FilterSlotTable) Clear(slot Slot) bool {
	if !slot.Valid() || t.slots[slot] == nil {
		return false
	}
	t.slots[slot] = nil
	return true
}

// Len returns the number of present slots.
func (t *FilterSlotTable) Len() int {
	if t == nil {
		return 0
	}
	n := 0
	for _, e := range t.slots {
		if e != nil {
			n++
		}
	}
	return n
}

// Present returns the occupied slots in canonical order.
func (t *FilterSlotTable) Present() []Slot {
	if t == nil {
		return nil
	}
	var out []Slot
	for i, e := range t.slots {
		if e != nil {
			out = append(out, Slot(i))
		}
	}
	return out
}

// Stack returns the present effects in canonical order.
func (t *FilterSlotTable) Stack() []Effect {
	if t == nil {
		return nil
	}
	out := make([]Effect, 0, len(t.slots))
	for _, e := range t.slots {
		if e != nil {
			out = append(out, e.Clone())
		}
	}
	return out
}

// Clone returns a deep copy of the table.
func (t *FilterSlotTable) Clone() *FilterSlotTable {
	if t == nil {
		return nil
	}
	out := &FilterSlotTable{}
	for i, e := range t.slots {
		if e != nil {
			c := e.Clone()
			out.slots[i] = &c
		}
	}
	return out
}

// Equal reports whether both tables hold identical effects in identical slots.
// A nil table equals an empty one.
func (t *FilterSlotTable) Equal(other *FilterSlotTable) bool {
	for i := Slot(0); i < slotCount; i++ {
		a, aok := t.Get(i)
		b, bok := other.Get(i)
		if aok != bok {
			return false
		}
		if aok && !a.Equal(b) {
			return false
		}
	}
	return true
}

type slotEntry struct {
	Slot string `json:"slot"`
	Effect
}

// MarshalJSON encodes present slots as an array in canonical order.
func (t FilterSlotTable) MarshalJSON() ([]byte, error) {
	entries := make([]slotEntry, 0, len(t.slots))
	for i, e := range t.slots {
		if e != nil {
			entries = append(entries, slotEntry{Slot: Slot(i).String(), Effect: *e})
		}
	}
	return json.Marshal(entries)
}

// UnmarshalJSON decodes the array form. Unknown or repeated slots are errors.
func (t *FilterSlotTable) UnmarshalJSON(data []byte) error {
	var entries []slotEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	var table FilterSlotTable
	for _, entry := range entries {
		slot, ok := ParseSlot(entry.Slot)
		if !ok {
			return fmt.Errorf("unknown filter slot %q", entry.Slot)
		}
		if table.slots[slot] != nil {
			return fmt.Errorf("filter slot %q repeated", entry.Slot)
		}
		if entry.Kind == "" {
			return fmt.Errorf("filter slot %q has no kind", entry.Slot)
		}
		e := entry.Effect.Clone()
		table.slots[slot] = &e
	}
	*t = table
	return nil
}
