package embeddings

import (
	"context"
	"fmt"
)

// AdaptMode says how WrapToDims fits vectors of the wrong length.
type AdaptMode int

const (
	// PadOrTruncate zero-pads short vectors and cuts long ones.
	PadOrTruncate AdaptMode = iota
	// Strict rejects any vector of the wrong length.
	Strict
)

type adaptingProvider struct {
	base   Provider
	target int
	mode   AdaptMode
}

// WrapToDims returns a Provider whose embeddings all have target components.
// base is returned as is when it already produces target.
func WrapToDims(base Provider, target int, mode AdaptMode) Provider {
	if base == nil || target <= 0 || base.Dimensions() == target {
		return base
	}
	return &adaptingProvider{base: base, target: target, mode: mode}
}

func (p *adaptingProvider) Name() string    { return p.base.Name() }
func (p *adaptingProvider) Dimensions() int { return p.target }

func (p *adaptingProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	vecs, err := p.base.Embed(ctx, inputs)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		if len(v) != p.target && p.mode == Strict {
			return nil, &DimensionError{Provider: p.base.Name(), Got: len(v), Want: p.target}
		}
		out[i] = fit(v, p.target)
	}
	return out, nil
}

func fit(v []float32, target int) []float32 {
	if len(v) >= target {
		return v[:target]
	}
	out := make([]float32, target)
	copy(out, v)
	return out
}

// DimensionError reports an embedding of the wrong length.
type DimensionError struct {
	Provider  string
	Got, Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s produced an embedding of %d components, want %d", e.Provider, e.Got, e.Want)
}
