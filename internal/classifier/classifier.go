// Package classifier composes decoding, preprocessing, the network and the
// label mapping into a single immutable prediction pipeline.
package classifier

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"go.uber.org/zap"

	"github.com/Brownie44l1/lesion-api/internal/failure"
	"github.com/Brownie44l1/lesion-api/internal/labels"
	"github.com/Brownie44l1/lesion-api/internal/model"
	"github.com/Brownie44l1/lesion-api/internal/preprocess"
)

// Scorer runs the network on one preprocessed tensor. *model.Server
// implements it.
type Scorer interface {
	Scores(input []float32) ([]float32, error)
}

type Result struct {
	Label  string
	Index  int
	Scores map[string]float32
}

type Classifier struct {
	scorer    Scorer
	transform *preprocess.Transform
	labels    labels.Mapping
	logger    *zap.Logger
}

func New(scorer Scorer, transform *preprocess.Transform, mapping labels.Mapping, logger *zap.Logger) (*Classifier, error) {
	if scorer == nil || transform == nil {
		return nil, fmt.Errorf("classifier needs a scorer and a transform")
	}
	if mapping.Len() == 0 {
		return nil, fmt.Errorf("classifier needs a non-empty label mapping")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		scorer:    scorer,
		transform: transform,
		labels:    mapping,
		logger:    logger.Named("classifier"),
	}, nil
}

// FromServer wires a classifier to a loaded model using the preprocessing and
// class order recorded in its metadata.
func FromServer(srv *model.Server, logger *zap.Logger) (*Classifier, error) {
	transform, err := preprocess.NewTransform(srv.Metadata.Params)
	if err != nil {
		return nil, err
	}
	if transform.Size() != srv.Metadata.InputSize() {
		return nil, fmt.Errorf("transform produces %d values, model expects %d", transform.Size(), srv.Metadata.InputSize())
	}
	mapping, err := srv.Metadata.Labels()
	if err != nil {
		return nil, err
	}
	return New(srv, transform, mapping, logger)
}

func (c *Classifier) Labels() labels.Mapping {
	return c.labels
}

func (c *Classifier) ClassifyBase64(encoded string) (*Result, error) {
	data, err := preprocess.DecodeBase64(encoded)
	if err != nil {
		return nil, err
	}
	return c.ClassifyReader(bytes.NewReader(data))
}

func (c *Classifier) ClassifyReader(r io.Reader) (*Result, error) {
	img, format, err := preprocess.DecodeImage(r)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("decoded image",
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))
	return c.ClassifyImage(img)
}

func (c *Classifier) ClassifyImage(img image.Image) (*Result, error) {
	input, err := c.transform.Apply(img)
	if err != nil {
		return nil, err
	}

	scores, err := c.scorer.Scores(input)
	if err != nil {
		if failure.KindOf(err) == failure.KindUnknown {
			err = failure.New(failure.KindInference, "inference failed", err)
		}
		return nil, err
	}
	if len(scores) != c.labels.Len() {
		return nil, failure.Newf(failure.KindShape, "model output", "expected %d scores, got %d", c.labels.Len(), len(scores))
	}

	idx := model.ArgMax(scores)
	label, err := c.labels.Decode(idx)
	if err != nil {
		return nil, failure.New(failure.KindShape, "decode label", err)
	}

	byClass := make(map[string]float32, len(scores))
	for i, s := range scores {
		name, _ := c.labels.Decode(i)
		byClass[name] = s
	}

	return &Result{Label: label, Index: idx, Scores: byClass}, nil
}
