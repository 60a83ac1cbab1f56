package rng

import (
	"fmt"
	"testing"
)

func TestFloat64Range(t *testing.T) {
	t.Parallel()
	w := New(42, 0)
	for i := 0; i < 10000; i++ {
		v := w.Float64()
		if v <= 0 || v >= 1 {
			t.Fatalf("%d: out of (0,1): %v", i, v)
		}
	}
}

func TestIntInclusive(t *testing.T) {
	t.Parallel()
	tests := []struct {
		low, high int
	}{
		{low: 0, high: 3},
		{low: -2, high: 2},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d,%d", test.low, test.high), func(t *testing.T) {
			t.Parallel()
			w := New(7, 0)
			seen := map[int]bool{}
			for i := 0; i < 5000; i++ {
				v := w.Int(test.low, test.high)
				if v < test.low || v > test.high {
					t.Fatalf("%d: out of [%d,%d]", v, test.low, test.high)
				}
				seen[v] = true
			}
			if len(seen) != test.high-test.low+1 {
				t.Fatalf("saw %d distinct values, expected %d", len(seen), test.high-test.low+1)
			}
		})
	}
}

func TestPointOnSphereUnit(t *testing.T) {
	t.Parallel()
	w := New(3, 1)
	for i := 0; i < 1000; i++ {
		p := w.PointOnSphere()
		n2 := p[0]*p[0] + p[1]*p[1] + p[2]*p[2]
		if n2 < 0.999 || n2 > 1.001 {
			t.Fatalf("%d: |p|^2=%f", i, n2)
		}
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()
	w := New(123, 5)
	for i := 0; i < 17; i++ {
		w.Float64()
	}

	buf, err := w.MarshalBinary()
	if err != nil {
		t.Fatalf("%+v", err)
	}

	w2 := New(0, 0)
	if err := w2.UnmarshalBinary(buf); err != nil {
		t.Fatalf("%+v", err)
	}

	for i := 0; i < 50; i++ {
		a, b := w.Float64(), w2.Float64()
		if a != b {
			t.Fatalf("%d: %v != %v", i, a, b)
		}
	}
}
