package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/fabfab/visacoach/config"
)

var tokenPattern = regexp.MustCompile(`\p{L}+|\p{N}+`)

// hashEmbedder projects token counts into a fixed number of buckets with a
// signed feature hash. It is deterministic and needs no model server.
type hashEmbedder struct {
	model     string
	dimension int
}

func NewHashEmbedder(opts Options) (Embedder, error) {
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("hash embedder needs a positive dimension, got %d", opts.Dimension)
	}
	model := opts.Model
	if model == "" {
		model = "hash-v1"
	}
	return &hashEmbedder{model: model, dimension: opts.Dimension}, nil
}

func (e *hashEmbedder) Model() string {
	return ModelID(config.ProviderHash, e.model, e.dimension)
}

func (e *hashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results[i] = e.vector(text)
	}
	return results, nil
}

func (e *hashEmbedder) vector(text string) []float32 {
	vec := make([]float32, e.dimension)
	for _, token := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dimension))
		if sum>>63 == 1 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
