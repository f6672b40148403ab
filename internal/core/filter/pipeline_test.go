package filter

import (
	"errors"
	"math"
	"testing"

	"github.com/yndnr/retouch-go/internal/core/domain"
)

type fakeBaker struct {
	calls  int
	stacks [][]domain.Effect
	err    error
}

func (b *fakeBaker) Bake(_ *domain.Layer, stack []domain.Effect) error {
	b.calls++
	b.stacks = append(b.stacks, stack)
	return b.err
}

func (b *fakeBaker) last() []domain.Effect {
	if len(b.stacks) == 0 {
		return nil
	}
	return b.stacks[len(b.stacks)-1]
}

type fakeRefresher struct{ n int }

func (r *fakeRefresher) RequestRender() { r.n++ }

func newTestPipeline() (*Pipeline, *fakeBaker, *fakeRefresher) {
	b := &fakeBaker{}
	r := &fakeRefresher{}
	return NewPipeline(b, r, nil), b, r
}

func loadedImage() *domain.Layer {
	return domain.NewImageLayer("https://img.example/a.png", 640, 480)
}

func param(t *testing.T, l *domain.Layer, slot domain.Slot, key string) float64 {
	t.Helper()
	e, ok := l.Filters.Get(slot)
	if !ok {
		t.Fatalf("slot %s not present", slot)
	}
	return e.Params[key]
}

func TestApplyUpdate_Idempotent(t *testing.T) {
	p, b, _ := newTestPipeline()
	once := loadedImage()
	twice := loadedImage()

	if _, err := p.ApplyUpdate(once, ToolBrightness, 40); err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}
	if _, err := p.ApplyUpdate(twice, ToolBrightness, 40); err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}
	first := b.last()
	if _, err := p.ApplyUpdate(twice, ToolBrightness, 40); err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}

	if !once.Filters.Equal(twice.Filters) {
		t.Error("applying twice changed the slot table")
	}
	if twice.Filters.Len() != 1 {
		t.Errorf("Len() = %d, want 1", twice.Filters.Len())
	}
	second := b.last()
	if len(first) != len(second) || !first[0].Equal(second[0]) {
		t.Errorf("stack changed: %v vs %v", first, second)
	}
}

func TestApplyUpdate_Independent(t *testing.T) {
	p, b, _ := newTestPipeline()
	l := loadedImage()

	if _, err := p.ApplyUpdate(l, ToolBrightness, 40); err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}
	before, _ := l.Filters.Get(domain.SlotBrightness)

	res, err := p.ApplyUpdate(l, ToolContrast, 20)
	if err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}

	after, ok := l.Filters.Get(domain.SlotBrightness)
	if !ok || !before.Equal(after) {
		t.Errorf("brightness slot changed: %v -> %v", before, after)
	}
	if got := param(t, l, domain.SlotContrast, "contrast"); got != 0.2 {
		t.Errorf("contrast = %v, want 0.2", got)
	}
	if len(res.Written) != 1 || res.Written[0] != domain.SlotContrast {
		t.Errorf("Written = %v, want [contrast]", res.Written)
	}

	stack := b.last()
	if len(stack) != 2 || stack[0].Kind != domain.EffectBrightness || stack[1].Kind != domain.EffectContrast {
		t.Errorf("stack = %v, want [brightness contrast]", stack)
	}
}

func TestApplyUpdate_CanonicalOrder(t *testing.T) {
	p, b, _ := newTestPipeline()
	l := loadedImage()

	// Written in reverse of canonical order.
	for _, tool := range []string{ToolBlur, ToolSharpen, ToolSaturation, ToolBrightness} {
		if _, err := p.ApplyUpdate(l, tool, 50); err != nil {
			t.Fatalf("ApplyUpdate(%s) error = %v", tool, err)
		}
	}

	want := []domain.EffectKind{
		domain.EffectBrightness,
		domain.EffectSaturation,
		domain.EffectConvolute,
		domain.EffectBlur,
	}
	stack := b.last()
	if len(stack) != len(want) {
		t.Fatalf("stack len = %d, want %d", len(stack), len(want))
	}
	for i, k := range want {
		if stack[i].Kind != k {
			t.Errorf("stack[%d].Kind = %s, want %s", i, stack[i].Kind, k)
		}
	}
}

func TestApplyUpdate_Normalization(t *testing.T) {
	tests := []struct {
		tool  string
		value float64
		slot  domain.Slot
		key   string
		want  float64
	}{
		{ToolBrightness, 40, domain.SlotBrightness, "brightness", 0.4},
		{ToolContrast, -100, domain.SlotContrast, "contrast", -1},
		{ToolSaturation, 250, domain.SlotSaturation, "saturation", 1},
		{ToolHighlights, 100, domain.SlotHighlightsBright, "brightness", 0.5},
		{ToolHighlights, 100, domain.SlotHighlightsContrast, "contrast", 0.25},
		{ToolShadows, 100, domain.SlotShadowsBright, "brightness", 0.4},
		{ToolShadows, 100, domain.SlotShadowsContrast, "contrast", -0.2},
		{ToolSharpen, 50, domain.SlotSharpen, "amount", 0.5},
		{ToolWarm, -100, domain.SlotWarm, "warmth", -1},
		{ToolVintage, 25, domain.SlotVintage, "intensity", 0.25},
		{ToolGrain, 10, domain.SlotGrain, "noise", 30},
		{ToolBlur, 100, domain.SlotBlur, "blur", 1},
	}

	for _, tt := range tests {
		t.Run(tt.tool+"/"+tt.slot.String(), func(t *testing.T) {
			p, _, _ := newTestPipeline()
			l := loadedImage()
			if _, err := p.ApplyUpdate(l, tt.tool, tt.value); err != nil {
				t.Fatalf("ApplyUpdate() error = %v", err)
			}
			if got := param(t, l, tt.slot, tt.key); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("%s = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestApplyUpdate_HighlightsAndShadowsDiffer(t *testing.T) {
	p, _, _ := newTestPipeline()
	l := loadedImage()

	if _, err := p.ApplyUpdate(l, ToolHighlights, 60); err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}
	if _, err := p.ApplyUpdate(l, ToolShadows, 60); err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}

	if l.Filters.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", l.Filters.Len())
	}
	hb := param(t, l, domain.SlotHighlightsBright, "brightness")
	sb := param(t, l, domain.SlotShadowsBright, "brightness")
	if hb == sb {
		t.Errorf("highlights and shadows brightness both %v", hb)
	}
}

func TestApplyUpdate_ClearAtZero(t *testing.T) {
	for _, tool := range []string{ToolSharpen, ToolVintage, ToolGrain, ToolBlur} {
		t.Run(tool, func(t *testing.T) {
			p, b, _ := newTestPipeline()
			l := loadedImage()
			if _, err := p.ApplyUpdate(l, ToolBrightness, 10); err != nil {
				t.Fatalf("ApplyUpdate() error = %v", err)
			}
			if _, err := p.ApplyUpdate(l, tool, 30); err != nil {
				t.Fatalf("ApplyUpdate() error = %v", err)
			}
			if l.Filters.Len() != 2 {
				t.Fatalf("Len() = %d, want 2", l.Filters.Len())
			}

			res, err := p.ApplyUpdate(l, tool, 0)
			if err != nil {
				t.Fatalf("ApplyUpdate() error = %v", err)
			}
			if len(res.Cleared) != 1 || len(res.Written) != 0 {
				t.Errorf("Cleared = %v, Written = %v", res.Cleared, res.Written)
			}
			if l.Filters.Len() != 1 {
				t.Errorf("Len() = %d after clear, want 1", l.Filters.Len())
			}
			if len(b.last()) != 1 {
				t.Errorf("stack len = %d, want 1", len(b.last()))
			}

			// Negative input clamps to zero and is still a clear.
			if _, err := p.ApplyUpdate(l, tool, -20); err != nil {
				t.Fatalf("ApplyUpdate() error = %v", err)
			}
			if l.Filters.Len() != 1 {
				t.Errorf("Len() = %d, want 1", l.Filters.Len())
			}
		})
	}
}

func TestApplyUpdate_SharpenKernel(t *testing.T) {
	p, _, _ := newTestPipeline()
	l := loadedImage()
	if _, err := p.ApplyUpdate(l, ToolSharpen, 100); err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}
	e, _ := l.Filters.Get(domain.SlotSharpen)
	want := []float64{0, -1, 0, -1, 5, -1, 0, -1, 0}
	if len(e.Matrix) != len(want) {
		t.Fatalf("Matrix = %v", e.Matrix)
	}
	for i := range want {
		if e.Matrix[i] != want[i] {
			t.Fatalf("Matrix = %v, want %v", e.Matrix, want)
		}
	}
}

func TestApplyUpdate_Errors(t *testing.T) {
	text := domain.NewTextLayer(0, 0)
	unloaded := domain.NewImageLayer("", 0, 0)

	tests := []struct {
		name  string
		layer *domain.Layer
		tool  string
		value float64
		want  error
	}{
		{"nil layer", nil, ToolBrightness, 1, domain.ErrNoTargetImage},
		{"text layer", text, ToolBrightness, 1, domain.ErrNoTargetImage},
		{"unloaded image", unloaded, ToolBrightness, 1, domain.ErrNoTargetImage},
		{"unknown tool", loadedImage(), "vignette", 1, domain.ErrUnknownTool},
		{"nan", loadedImage(), ToolBrightness, math.NaN(), domain.ErrInvalidValue},
		{"inf", loadedImage(), ToolBlur, math.Inf(1), domain.ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, b, r := newTestPipeline()
			_, err := p.ApplyUpdate(tt.layer, tt.tool, tt.value)
			if !errors.Is(err, tt.want) {
				t.Fatalf("ApplyUpdate() error = %v, want %v", err, tt.want)
			}
			if b.calls != 0 || r.n != 0 {
				t.Errorf("bake calls = %d, renders = %d, want 0", b.calls, r.n)
			}
			if tt.layer != nil && tt.layer.Filters.Len() != 0 {
				t.Error("failed update modified the table")
			}
		})
	}
}

func TestApplyUpdate_ToolNameCase(t *testing.T) {
	p, _, _ := newTestPipeline()
	l := loadedImage()
	if _, err := p.ApplyUpdate(l, " Brightness ", 10); err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}
	if _, ok := l.Filters.Get(domain.SlotBrightness); !ok {
		t.Error("brightness slot not written")
	}
}

func TestApplyUpdate_BakeFailure(t *testing.T) {
	p, b, r := newTestPipeline()
	b.err = errors.New("gpu lost")

	_, err := p.ApplyUpdate(loadedImage(), ToolBlur, 10)
	if !errors.Is(err, domain.ErrBakeFailed) {
		t.Fatalf("ApplyUpdate() error = %v, want ErrBakeFailed", err)
	}
	if r.n != 0 {
		t.Errorf("renders = %d after bake failure, want 0", r.n)
	}
}

func TestReapply(t *testing.T) {
	p, b, r := newTestPipeline()
	l := loadedImage()
	l.Filters.Set(domain.SlotBlur, domain.Effect{Kind: domain.EffectBlur, Params: map[string]float64{"blur": 0.3}})
	l.Filters.Set(domain.SlotBrightness, domain.Effect{Kind: domain.EffectBrightness, Params: map[string]float64{"brightness": 0.1}})

	stack, err := p.Reapply(l)
	if err != nil {
		t.Fatalf("Reapply() error = %v", err)
	}
	if len(stack) != 2 || stack[0].Kind != domain.EffectBrightness {
		t.Errorf("stack = %v", stack)
	}
	if b.calls != 1 || r.n != 1 {
		t.Errorf("bake calls = %d, renders = %d, want 1, 1", b.calls, r.n)
	}

	if _, err := p.Reapply(nil); !errors.Is(err, domain.ErrNoTargetImage) {
		t.Errorf("Reapply(nil) error = %v, want ErrNoTargetImage", err)
	}
}

func TestTools(t *testing.T) {
	tools := Tools()
	if len(tools) != 10 {
		t.Fatalf("len(Tools()) = %d, want 10", len(tools))
	}
	for i := 1; i < len(tools); i++ {
		if tools[i-1].Name >= tools[i].Name {
			t.Errorf("Tools() not sorted at %d", i)
		}
	}
}
