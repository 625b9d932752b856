package cuvec

import (
	"testing"

	"github.com/finsim/cuvec/device"
)

func benchValue(b *testing.B, n int) *Value {
	b.Helper()
	s, err := device.Get("sim")
	if err != nil {
		b.Fatal(err)
	}
	values := make([]float64, n)
	for i := range values {
		values[i] = float64(i%100) / 100
	}
	v, err := New(s, 0, values)
	if err != nil {
		b.Fatal(err)
	}
	return v
}

func BenchmarkAddScalar(b *testing.B) {
	v := benchValue(b, 100_000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := v.AddScalar(1); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMult(b *testing.B) {
	v := benchValue(b, 100_000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := v.Mult(v); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSum(b *testing.B) {
	v := benchValue(b, 100_000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := v.Sum(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAverage(b *testing.B) {
	v := benchValue(b, 100_000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := v.Average(); err != nil {
			b.Fatal(err)
		}
	}
}
