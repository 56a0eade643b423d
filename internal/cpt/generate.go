package cpt

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// #region config
// GenerateConfig shapes synthetic tables.
type GenerateConfig struct {
	Spread float64   `yaml:"spread" validate:"gt=0"`       // std deviation in category units
	Noise  float64   `yaml:"noise" validate:"gte=0,lt=1"`  // uniform mixing weight
	Prior  []float64 `yaml:"prior,omitempty"`              // root distribution, uniform when empty
}

// DefaultGenerateConfig returns a moderately sharp noisy-average table shape.
func DefaultGenerateConfig() GenerateConfig {
	return GenerateConfig{Spread: 0.75, Noise: 0.05}
}

// #endregion config

// #region generate
// Generate builds rows for parent counts 0..maxParents. The child distribution for
// a parent assignment is a discretized Gaussian centered on the mean parent category,
// mixed with a uniform floor.
func Generate(k, maxParents int, cfg GenerateConfig) []Row {
	var rows []Row

	prior := make([]float64, k)
	if len(cfg.Prior) == k {
		copy(prior, cfg.Prior)
	} else {
		for i := range prior {
			prior[i] = 1
		}
	}
	floats.Scale(1/floats.Sum(prior), prior)
	for c, p := range prior {
		rows = append(rows, Row{Parents: 0, Cell: c, Probability: p, Root: true})
	}

	assign := make([]int, 0, maxParents)
	dist := make([]float64, k)
	for n := 1; n <= maxParents; n++ {
		assign = assign[:n]
		combos := Cells(k, n) / k
		for a := 0; a < combos; a++ {
			Decode(a, k, assign)
			mean := 0.0
			for _, s := range assign {
				mean += float64(s)
			}
			mean /= float64(n)
			for c := range dist {
				d := (float64(c) - mean) / cfg.Spread
				dist[c] = math.Exp(-0.5 * d * d)
			}
			floats.Scale(1/floats.Sum(dist), dist)
			for c := range dist {
				p := (1-cfg.Noise)*dist[c] + cfg.Noise/float64(k)
				rows = append(rows, Row{Parents: n, Cell: a*k + c, Probability: p})
			}
		}
	}
	return rows
}

// #endregion generate

// #region radix
// Decode writes the mixed-radix digits of a into digits, first digit most significant.
func Decode(a, k int, digits []int) {
	for i := len(digits) - 1; i >= 0; i-- {
		digits[i] = a % k
		a /= k
	}
}

// Encode is the inverse of Decode.
func Encode(digits []int, k int) int {
	a := 0
	for _, d := range digits {
		a = a*k + d
	}
	return a
}

// #endregion radix
