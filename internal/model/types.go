package model

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Brownie44l1/lesion-api/internal/labels"
	"github.com/Brownie44l1/lesion-api/internal/preprocess"
)

// Metadata describes the exported checkpoint: tensor names and shapes, class
// order and the preprocessing the network expects.
type Metadata struct {
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	Arch        string   `json:"arch,omitempty"`

	preprocess.Params
}

func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	meta.applyDefaults()
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metadata %s: %w", path, err)
	}
	return &meta, nil
}

func (m *Metadata) applyDefaults() {
	def := preprocess.DefaultParams()

	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	if len(m.Classes) == 0 {
		m.Classes = labels.Default().Classes()
	}
	if m.CropSize == 0 && len(m.InputShape) == 4 {
		m.CropSize = int(m.InputShape[3])
	}
	if m.ResizeSize == 0 {
		m.ResizeSize = def.ResizeSize
	}
	if m.Mean == [3]float32{} {
		m.Mean = def.Mean
	}
	if m.Std == [3]float32{} {
		m.Std = def.Std
	}
}

// Validate rejects metadata whose shapes do not agree with each other or with
// the class list.
func (m *Metadata) Validate() error {
	if len(m.InputShape) != 4 {
		return fmt.Errorf("input shape must be [1,3,H,W], got %v", m.InputShape)
	}
	if m.InputShape[0] != 1 || m.InputShape[1] != 3 {
		return fmt.Errorf("input shape must be [1,3,H,W], got %v", m.InputShape)
	}
	if m.InputShape[2] != m.InputShape[3] || m.InputShape[2] != int64(m.CropSize) {
		return fmt.Errorf("input shape %v does not match image size %d", m.InputShape, m.CropSize)
	}

	if len(m.OutputShape) != 2 || m.OutputShape[0] != 1 {
		return fmt.Errorf("output shape must be [1,N], got %v", m.OutputShape)
	}
	if m.OutputShape[1] != int64(len(m.Classes)) {
		return fmt.Errorf("output shape %v does not match %d classes", m.OutputShape, len(m.Classes))
	}

	if _, err := labels.FromClasses(m.Classes); err != nil {
		return err
	}
	if _, err := preprocess.NewTransform(m.Params); err != nil {
		return err
	}
	return nil
}

func (m *Metadata) InputSize() int {
	size := 1
	for _, dim := range m.InputShape {
		size *= int(dim)
	}
	return size
}

func (m *Metadata) Labels() (labels.Mapping, error) {
	return labels.FromClasses(m.Classes)
}
