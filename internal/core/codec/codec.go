// Package codec converts editable scenes to and from snapshots.
//
// The encoding is JSON with a fixed field order, filter slots in canonical
// order and sorted parameter keys, so one logical scene always produces a
// byte-identical payload. History duplicate suppression depends on this.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/yndnr/retouch-go/internal/core/domain"
)

// Codec serializes scenes into snapshots and back.
type Codec interface {
	Serialize(scene *domain.Scene) (domain.Snapshot, error)
	Deserialize(snap domain.Snapshot) (*domain.Scene, error)
}

// JSONCodec is the JSON scene codec.
type JSONCodec struct{}

// New creates a JSONCodec.
func New() *JSONCodec {
	return &JSONCodec{}
}

// Serialize encodes scene. The scene is not retained.
func (c *JSONCodec) Serialize(scene *domain.Scene) (domain.Snapshot, error) {
	if scene == nil {
		return domain.Snapshot{}, errors.New("serialize: nil scene")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalize(scene.Clone())); err != nil {
		return domain.Snapshot{}, fmt.Errorf("serialize scene: %w", err)
	}
	// Encode appends a newline.
	payload := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	return domain.NewSnapshot(payload), nil
}

// Deserialize decodes snap into a new scene.
//
// Any malformation (bad JSON, unknown fields, trailing data, unsupported
// version, unknown layer kind or filter slot) fails with
// domain.ErrCorruptSnapshot. Callers must not retry such a snapshot.
func (c *JSONCodec) Deserialize(snap domain.Snapshot) (*domain.Scene, error) {
	if snap.IsEmpty() {
		return nil, domain.ErrCorruptSnapshot.WithCause(domain.ErrEmptySnapshot)
	}

	dec := json.NewDecoder(bytes.NewReader(snap.Bytes()))
	dec.DisallowUnknownFields()

	var scene domain.Scene
	if err := dec.Decode(&scene); err != nil {
		return nil, domain.ErrCorruptSnapshot.WithCause(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, domain.ErrCorruptSnapshot.WithDetails("trailing data after scene")
	}
	if err := scene.Validate(); err != nil {
		return nil, domain.ErrCorruptSnapshot.WithCause(err)
	}

	return normalize(&scene), nil
}

// normalize gives every image layer a filter table and replaces a null
// object list with an empty one.
func normalize(scene *domain.Scene) *domain.Scene {
	if scene.Layers == nil {
		scene.Layers = []*domain.Layer{}
	}
	for _, l := range scene.Layers {
		if l != nil && l.Kind == domain.LayerImage && l.Filters == nil {
			l.Filters = domain.NewFilterSlotTable()
		}
	}
	return scene
}
