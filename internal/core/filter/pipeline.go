package filter

import (
	"log/slog"
	"math"

	"github.com/yndnr/retouch-go/internal/core/domain"
)

// Baker applies a composed effect stack to an image layer. The stack is in
// canonical slot order and replaces whatever was baked before.
type Baker interface {
	Bake(layer *domain.Layer, stack []domain.Effect) error
}

// Refresher schedules a visual refresh. It must not block.
type Refresher interface {
	RequestRender()
}

// Result describes the outcome of one update.
type Result struct {
	Tool    string          `json:"tool"`
	Value   float64         `json:"value"`
	Written []domain.Slot   `json:"-"`
	Cleared []domain.Slot   `json:"-"`
	Stack   []domain.Effect `json:"stack"`
}

// Pipeline applies slider updates to image layers.
type Pipeline struct {
	baker     Baker
	refresher Refresher
	logger    *slog.Logger
}

// NewPipeline creates a pipeline. refresher may be nil.
func NewPipeline(baker Baker, refresher Refresher, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		baker:     baker,
		refresher: refresher,
		logger:    logger,
	}
}

// ApplyUpdate normalizes raw for toolName, writes the resulting slots of
// layer's filter table and rebakes the full stack.
//
// It fails with domain.ErrNoTargetImage when layer is not a loaded image,
// domain.ErrUnknownTool for names outside the tool set and
// domain.ErrInvalidValue for NaN or infinite input; these leave the table
// untouched. A Bake failure is reported after the slots were written.
func (p *Pipeline) ApplyUpdate(layer *domain.Layer, toolName string, raw float64) (*Result, error) {
	if !layer.IsLoadedImage() {
		return nil, domain.ErrNoTargetImage
	}

	name, ok := Lookup(toolName)
	t := toolTable[name]
	if !ok {
		return nil, domain.ErrUnknownTool.WithDetails(toolName)
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return nil, domain.ErrInvalidValue.WithDetails(toolName)
	}

	v := t.clamp(raw)
	if layer.Filters == nil {
		layer.Filters = domain.NewFilterSlotTable()
	}

	res := &Result{Tool: t.name, Value: v}
	for _, w := range t.writes(v) {
		if w.effect == nil {
			if layer.Filters.Clear(w.slot) {
				res.Cleared = append(res.Cleared, w.slot)
			}
			continue
		}
		layer.Filters.Set(w.slot, *w.effect)
		res.Written = append(res.Written, w.slot)
	}

	stack, err := p.recompose(layer)
	if err != nil {
		return nil, err
	}
	res.Stack = stack

	p.logger.Debug("filter applied",
		"layer", layer.ID,
		"tool", t.name,
		"value", v,
		"stack_len", len(stack))
	return res, nil
}

// Reapply rebakes layer's current filter table. It is used after a scene is
// restored so that the baked image matches the restored slots.
func (p *Pipeline) Reapply(layer *domain.Layer) ([]domain.Effect, error) {
	if !layer.IsLoadedImage() {
		return nil, domain.ErrNoTargetImage
	}
	return p.recompose(layer)
}

func (p *Pipeline) recompose(layer *domain.Layer) ([]domain.Effect, error) {
	stack := layer.Filters.Stack()
	if err := p.baker.Bake(layer, stack); err != nil {
		return nil, domain.ErrBakeFailed.WithCause(err)
	}
	if p.refresher != nil {
		p.refresher.RequestRender()
	}
	return stack, nil
}
