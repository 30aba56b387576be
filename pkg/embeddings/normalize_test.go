package embeddings

import (
	"errors"
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	t.Run("normalizes to unit length", func(t *testing.T) {
		vec := []float32{3, 4}
		NormalizeL2(vec)

		const tol = 1e-5
		if math.Abs(float64(vec[0])-0.6) > tol || math.Abs(float64(vec[1])-0.8) > tol {
			t.Errorf("expected (0.6, 0.8), got (%f, %f)", vec[0], vec[1])
		}
	})

	t.Run("zero vector unchanged", func(t *testing.T) {
		v := []float32{0, 0, 0}
		NormalizeL2(v)

		if v[0] != 0 || v[1] != 0 || v[2] != 0 {
			t.Errorf("zero vector should remain unchanged: got %v", v)
		}
	})

	t.Run("copy leaves source untouched", func(t *testing.T) {
		src := []float32{1, 1}
		dst := Copy(src)
		NormalizeL2(dst)

		if src[0] != 1 || src[1] != 1 {
			t.Errorf("source mutated: %v", src)
		}
	})
}

func TestSquaredL2(t *testing.T) {
	d, err := SquaredL2([]float32{0, 0}, []float32{3, 4})
	if err != nil {
		t.Fatal(err)
	}

	if d != 25 {
		t.Errorf("got %f, want 25", d)
	}

	d, err = SquaredL2([]float32{1, 2, 3}, []float32{1, 2, 3})
	if err != nil || d != 0 {
		t.Errorf("identical vectors: got (%f, %v)", d, err)
	}

	if _, err := SquaredL2([]float32{1}, []float32{1, 2}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}
