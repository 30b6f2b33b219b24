// pkg/classifier/logistic.go
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/David-Botos/engagement-pipeline/pkg/features"
	"github.com/David-Botos/engagement-pipeline/pkg/model"
)

// ArtifactKind tags serialised logistic models
const ArtifactKind = "logistic-regression"

// LogisticModel is a standardised logistic regression
type LogisticModel struct {
	weights []float64
	bias    float64
	mean    []float64
	scale   []float64
	version string
}

// Width returns the feature vector length
func (m *LogisticModel) Width() int {
	return len(m.weights)
}

// Version returns the model version
func (m *LogisticModel) Version() string {
	return m.version
}

// Predict labels each vector 1 when its probability is at least one half
func (m *LogisticModel) Predict(ctx context.Context, vectors [][]float64) ([]int, error) {
	labels := make([]int, len(vectors))
	for i, x := range vectors {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if len(x) != len(m.weights) {
			return nil, fmt.Errorf("%w: vector %d has width %d, model expects %d",
				features.ErrSchemaMismatch, i, len(x), len(m.weights))
		}
		if m.probability(x) >= 0.5 {
			labels[i] = 1
		}
	}
	return labels, nil
}

func (m *LogisticModel) probability(x []float64) float64 {
	z := m.bias
	for j, v := range x {
		z += m.weights[j] * (v - m.mean[j]) / m.scale[j]
	}
	return sigmoid(z)
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// LogisticTrainer fits a LogisticModel with batch gradient descent
type LogisticTrainer struct {
	Target       TargetSpec
	Version      string
	Iterations   int
	LearningRate float64
	L2           float64
	logger       *zap.Logger
}

// NewLogisticTrainer creates a trainer with default optimisation settings
func NewLogisticTrainer(target TargetSpec, version string, logger *zap.Logger) *LogisticTrainer {
	return &LogisticTrainer{
		Target:       target,
		Version:      version,
		Iterations:   500,
		LearningRate: 0.5,
		L2:           1e-4,
		logger:       logger,
	}
}

// Train labels the batch, encodes it and fits the model
func (t *LogisticTrainer) Train(ctx context.Context, batch *model.Batch, encoder *features.Encoder) (Classifier, error) {
	if batch == nil || batch.Len() == 0 {
		return nil, errors.New("cannot train on an empty batch")
	}

	labels, err := t.Target.Labels(batch)
	if err != nil {
		return nil, err
	}
	vectors, err := encoder.EncodeBatch(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode training batch: %w", err)
	}

	var leaked []string
	for _, name := range encoder.Encoding().Names() {
		if t.Target.IsTargetColumn(name) {
			leaked = append(leaked, name)
		}
	}
	if len(leaked) > 0 {
		t.logger.Warn("Target columns are used as features, set FEATURE_EXCLUDE to drop them",
			zap.Strings("columns", leaked))
	}

	start := time.Now()
	m, err := t.fit(ctx, vectors, labels)
	if err != nil {
		return nil, err
	}

	positives := 0
	for _, l := range labels {
		positives += l
	}
	t.logger.Info("Trained engagement classifier",
		zap.String("version", t.Version),
		zap.Int("rows", len(labels)),
		zap.Int("positives", positives),
		zap.Int("features", encoder.Width()),
		zap.Duration("duration", time.Since(start)))

	return m, nil
}

func (t *LogisticTrainer) fit(ctx context.Context, vectors []features.FeatureVector, labels []int) (*LogisticModel, error) {
	n := len(vectors)
	if n == 0 || n != len(labels) {
		return nil, fmt.Errorf("training set has %d vectors and %d labels", n, len(labels))
	}
	d := len(vectors[0])

	raw := mat.NewDense(n, d, nil)
	for i, v := range vectors {
		if len(v) != d {
			return nil, fmt.Errorf("vector %d has width %d, expected %d", i, len(v), d)
		}
		raw.SetRow(i, v)
	}

	// Standardise columns; constant columns keep unit scale
	mean := make([]float64, d)
	scale := make([]float64, d)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, raw)
		mu, sd := stat.MeanStdDev(col, nil)
		if sd == 0 || math.IsNaN(sd) {
			sd = 1
		}
		mean[j], scale[j] = mu, sd
	}

	X := mat.NewDense(n, d, nil)
	X.Apply(func(i, j int, v float64) float64 {
		return (v - mean[j]) / scale[j]
	}, raw)

	y := mat.NewVecDense(n, nil)
	for i, l := range labels {
		y.SetVec(i, float64(l))
	}

	w := mat.NewVecDense(d, nil)
	bias := 0.0
	z := mat.NewVecDense(n, nil)
	residual := mat.NewVecDense(n, nil)
	grad := mat.NewVecDense(d, nil)

	for iter := 0; iter < t.Iterations; iter++ {
		if iter%50 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		z.MulVec(X, w)
		biasGrad := 0.0
		for i := 0; i < n; i++ {
			r := sigmoid(z.AtVec(i)+bias) - y.AtVec(i)
			residual.SetVec(i, r)
			biasGrad += r
		}

		grad.MulVec(X.T(), residual)
		grad.ScaleVec(1/float64(n), grad)
		grad.AddScaledVec(grad, t.L2, w)

		w.AddScaledVec(w, -t.LearningRate, grad)
		bias -= t.LearningRate * biasGrad / float64(n)
	}

	weights := make([]float64, d)
	for j := range weights {
		weights[j] = w.AtVec(j)
	}

	return &LogisticModel{
		weights: weights,
		bias:    bias,
		mean:    mean,
		scale:   scale,
		version: t.Version,
	}, nil
}

// Artifact is the serialised model, tied to the encoding it was fitted with
type Artifact struct {
	Kind                string    `json:"kind"`
	Version             string    `json:"version"`
	EncodingFingerprint string    `json:"encoding_fingerprint"`
	FeatureNames        []string  `json:"feature_names"`
	Weights             []float64 `json:"weights"`
	Bias                float64   `json:"bias"`
	Mean                []float64 `json:"mean"`
	Scale               []float64 `json:"scale"`
	TrainedAt           time.Time `json:"trained_at"`
}

// MarshalArtifact serialises a logistic model together with its encoding fingerprint
func MarshalArtifact(c Classifier, enc *features.CategoryEncoding) ([]byte, error) {
	m, ok := c.(*LogisticModel)
	if !ok {
		return nil, fmt.Errorf("cannot serialise classifier of type %T", c)
	}
	if m.Width() != len(enc.Features) {
		return nil, fmt.Errorf("%w: model width %d, encoding width %d",
			features.ErrArtifactMismatch, m.Width(), len(enc.Features))
	}

	return json.MarshalIndent(Artifact{
		Kind:                ArtifactKind,
		Version:             m.version,
		EncodingFingerprint: enc.Fingerprint(),
		FeatureNames:        enc.Names(),
		Weights:             m.weights,
		Bias:                m.bias,
		Mean:                m.mean,
		Scale:               m.scale,
		TrainedAt:           time.Now().UTC(),
	}, "", "  ")
}

// LoadArtifact restores a model and checks it was fitted alongside enc
func LoadArtifact(data []byte, enc *features.CategoryEncoding) (Classifier, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse model artifact: %w", err)
	}
	if a.Kind != ArtifactKind {
		return nil, fmt.Errorf("unsupported model kind %q", a.Kind)
	}
	if a.EncodingFingerprint != enc.Fingerprint() {
		return nil, fmt.Errorf("%w: model %s was fitted with a different encoding", features.ErrArtifactMismatch, a.Version)
	}

	d := len(a.Weights)
	if d != len(enc.Features) || len(a.Mean) != d || len(a.Scale) != d {
		return nil, fmt.Errorf("%w: model width %d, encoding width %d", features.ErrArtifactMismatch, d, len(enc.Features))
	}
	for j, s := range a.Scale {
		if s == 0 {
			return nil, fmt.Errorf("model artifact has zero scale for feature %d", j)
		}
	}

	return &LogisticModel{
		weights: a.Weights,
		bias:    a.Bias,
		mean:    a.Mean,
		scale:   a.Scale,
		version: a.Version,
	}, nil
}
