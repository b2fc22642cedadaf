package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultThreshold gates acceptance of a prediction. Below it the result
// category is the fixed uncategorized bucket; the raw confidence is still
// reported for triage.
const DefaultThreshold = 0.55

// modelArtifact is the versioned, immutable serialized classifier produced
// by the offline training step: a linear model over bag-of-words features.
// Weights is one vector per category, indexed by vocabulary position.
type modelArtifact struct {
	Version    string         `json:"version"`
	Categories []categoryRef  `json:"categories"`
	Vocabulary map[string]int `json:"vocabulary"`
	Weights    [][]float64    `json:"weights"`
	Bias       []float64      `json:"bias"`
}

type categoryRef struct {
	ID   uuid.UUID `json:"id"`
	Slug string    `json:"slug"`
}

// Classifier predicts a product category from name/description text.
// Loaded once per process, read-only afterwards; Classify is safe for
// concurrent use and deterministic for a given model version and input.
type Classifier struct {
	model           *modelArtifact
	threshold       float64
	uncategorizedID uuid.UUID
	log             *logrus.Entry
}

// Load reads the model artifact from disk. A missing or malformed artifact
// is fatal for the classifier only: the returned error signals degraded
// mode, not a process failure — callers keep running with an unavailable
// classifier (see Unavailable).
func Load(path string, threshold float64, uncategorizedID uuid.UUID, logger *logrus.Logger) (*Classifier, error) {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}

	var model modelArtifact
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	if err := validateModel(&model); err != nil {
		return nil, fmt.Errorf("invalid model artifact %q: %w", path, err)
	}

	logger.WithFields(logrus.Fields{
		"component":  "classifier",
		"version":    model.Version,
		"categories": len(model.Categories),
		"vocabulary": len(model.Vocabulary),
	}).Info("classifier model loaded")

	return &Classifier{
		model:           &model,
		threshold:       threshold,
		uncategorizedID: uncategorizedID,
		log:             logger.WithField("component", "classifier"),
	}, nil
}

// Unavailable builds a degraded-mode classifier: Available reports false
// and every prediction is the uncategorized bucket with zero confidence.
func Unavailable(uncategorizedID uuid.UUID) *Classifier {
	return &Classifier{uncategorizedID: uncategorizedID}
}

// Available reports whether a model is loaded.
func (c *Classifier) Available() bool {
	return c.model != nil
}

// Classify predicts a category for the given text and returns the accepted
// category id together with the raw model confidence in [0,1]. Predictions
// below the threshold fall back to the uncategorized id; the confidence is
// preserved so low-confidence rows stay visible in logs.
func (c *Classifier) Classify(text string) (uuid.UUID, float64) {
	if c.model == nil {
		return c.uncategorizedID, 0
	}

	features := tokenCounts(text, c.model.Vocabulary)
	if len(features) == 0 {
		return c.uncategorizedID, 0
	}

	scores := make([]float64, len(c.model.Categories))
	for class := range scores {
		score := c.model.Bias[class]
		weights := c.model.Weights[class]
		for idx, count := range features {
			score += weights[idx] * float64(count)
		}
		scores[class] = score
	}

	best, confidence := softmaxArgmax(scores)
	if confidence < c.threshold {
		return c.uncategorizedID, confidence
	}
	return c.model.Categories[best].ID, confidence
}

// Threshold returns the configured acceptance threshold.
func (c *Classifier) Threshold() float64 {
	return c.threshold
}

func validateModel(m *modelArtifact) error {
	if len(m.Categories) == 0 {
		return fmt.Errorf("no categories")
	}
	if len(m.Weights) != len(m.Categories) {
		return fmt.Errorf("weights rows (%d) != categories (%d)", len(m.Weights), len(m.Categories))
	}
	if len(m.Bias) != len(m.Categories) {
		return fmt.Errorf("bias length (%d) != categories (%d)", len(m.Bias), len(m.Categories))
	}
	for i, row := range m.Weights {
		if len(row) != len(m.Vocabulary) {
			return fmt.Errorf("weights row %d length (%d) != vocabulary size (%d)", i, len(row), len(m.Vocabulary))
		}
	}
	return nil
}

// tokenCounts maps text to sparse bag-of-words counts over the model
// vocabulary. Tokenization is lowercase runs of letters and digits.
func tokenCounts(text string, vocabulary map[string]int) map[int]int {
	counts := make(map[int]int)
	for _, token := range tokenize(text) {
		if idx, ok := vocabulary[token]; ok {
			counts[idx]++
		}
	}
	return counts
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// softmaxArgmax returns the index of the highest score and its softmax
// probability, computed with the max-shift for numeric stability.
func softmaxArgmax(scores []float64) (int, float64) {
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}

	var sum float64
	for _, s := range scores {
		sum += math.Exp(s - scores[best])
	}
	return best, 1.0 / sum
}
