package bayesnet

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// #region factor
// Factor is a non-negative table over discrete variables that all have k states.
// Values are row-major over Vars, first variable most significant.
type Factor struct {
	Vars   []int
	K      int
	Values []float64
}

// NewFactor wraps values without copying. len(values) must be k^len(vars).
func NewFactor(vars []int, k int, values []float64) (*Factor, error) {
	if want := pow(k, len(vars)); len(values) != want {
		return nil, fmt.Errorf("factor over %v: %d values, want %d", vars, len(values), want)
	}
	return &Factor{Vars: vars, K: k, Values: values}, nil
}

// Unit returns a factor over vars filled with ones.
func Unit(vars []int, k int) *Factor {
	vals := make([]float64, pow(k, len(vars)))
	for i := range vals {
		vals[i] = 1
	}
	return &Factor{Vars: append([]int(nil), vars...), K: k, Values: vals}
}

// Vector returns a single-variable factor.
func Vector(v, k int, p []float64) *Factor {
	return &Factor{Vars: []int{v}, K: k, Values: append([]float64(nil), p...)}
}

// Has reports whether v is in the factor's scope.
func (f *Factor) Has(v int) bool {
	return slices.Contains(f.Vars, v)
}

// Sum is the total mass.
func (f *Factor) Sum() float64 {
	return floats.Sum(f.Values)
}

// Clone deep-copies f.
func (f *Factor) Clone() *Factor {
	return &Factor{Vars: append([]int(nil), f.Vars...), K: f.K, Values: append([]float64(nil), f.Values...)}
}

// #endregion factor

// #region algebra
// Multiply returns the pointwise product over the union scope: a's variables
// followed by b's variables not in a.
func Multiply(a, b *Factor) *Factor {
	vars := append([]int(nil), a.Vars...)
	for _, v := range b.Vars {
		if !a.Has(v) {
			vars = append(vars, v)
		}
	}
	out := &Factor{Vars: vars, K: a.K, Values: make([]float64, pow(a.K, len(vars)))}
	iterate(a.K, len(vars),
		[][]int{strides(out, vars), strides(a, vars), strides(b, vars)},
		[]int{0, 0, 0},
		func(o []int) { out.Values[o[0]] = a.Values[o[1]] * b.Values[o[2]] })
	return out
}

// Product multiplies a list of factors. An empty list yields the scalar 1.
func Product(fs []*Factor, k int) *Factor {
	acc := Unit(nil, k)
	for _, f := range fs {
		acc = Multiply(acc, f)
	}
	return acc
}

// Marginal sums out everything not in keep and lays the result out in keep order.
// Every variable of keep must be in scope.
func (f *Factor) Marginal(keep []int) *Factor {
	out := &Factor{Vars: append([]int(nil), keep...), K: f.K, Values: make([]float64, pow(f.K, len(keep)))}
	iterate(f.K, len(f.Vars),
		[][]int{strides(f, f.Vars), strides(out, f.Vars)},
		[]int{0, 0},
		func(o []int) { out.Values[o[1]] += f.Values[o[0]] })
	return out
}

// SumOut removes vars by summation.
func (f *Factor) SumOut(vars ...int) *Factor {
	var keep []int
	for _, v := range f.Vars {
		if !slices.Contains(vars, v) {
			keep = append(keep, v)
		}
	}
	return f.Marginal(keep)
}

// Reduce fixes evidenced variables and drops them from the scope.
func (f *Factor) Reduce(ev Evidence) *Factor {
	var keep []int
	base := 0
	st := strides(f, f.Vars)
	for i, v := range f.Vars {
		if s, ok := ev[v]; ok {
			base += s * st[i]
			continue
		}
		keep = append(keep, v)
	}
	if len(keep) == len(f.Vars) {
		return f
	}
	out := &Factor{Vars: keep, K: f.K, Values: make([]float64, pow(f.K, len(keep)))}
	iterate(f.K, len(keep),
		[][]int{strides(out, keep), strides(f, keep)},
		[]int{0, base},
		func(o []int) { out.Values[o[0]] = f.Values[o[1]] })
	return out
}

// Divide returns a/b where b's scope is a subset of a's. 0/0 is 0.
func Divide(a, b *Factor) (*Factor, error) {
	for _, v := range b.Vars {
		if !a.Has(v) {
			return nil, fmt.Errorf("divide: %d not in scope %v", v, a.Vars)
		}
	}
	out := &Factor{Vars: append([]int(nil), a.Vars...), K: a.K, Values: make([]float64, len(a.Values))}
	iterate(a.K, len(a.Vars),
		[][]int{strides(a, a.Vars), strides(b, a.Vars)},
		[]int{0, 0},
		func(o []int) {
			if d := b.Values[o[1]]; d != 0 {
				out.Values[o[0]] = a.Values[o[0]] / d
			}
		})
	return out, nil
}

// Normalize scales f to unit mass.
func (f *Factor) Normalize() (*Factor, error) {
	sum := f.Sum()
	if sum <= 0 {
		return nil, fmt.Errorf("%w: scope %v", ErrZeroProbability, f.Vars)
	}
	out := f.Clone()
	floats.Scale(1/sum, out.Values)
	return out, nil
}

// #endregion algebra

// #region indexing
// strides returns, for each driver variable, its stride in f (0 if absent).
func strides(f *Factor, driver []int) []int {
	n := len(f.Vars)
	out := make([]int, len(driver))
	for i, v := range driver {
		if p := slices.Index(f.Vars, v); p >= 0 {
			out[i] = pow(f.K, n-1-p)
		}
	}
	return out
}

// iterate walks every assignment of n k-ary digits in row-major order, keeping
// one running offset per stride vector, and calls visit at each step.
func iterate(k, n int, st [][]int, offs []int, visit func([]int)) {
	digits := make([]int, n)
	total := pow(k, n)
	for step := 0; step < total; step++ {
		visit(offs)
		for d := n - 1; d >= 0; d-- {
			digits[d]++
			for j := range offs {
				offs[j] += st[j][d]
			}
			if digits[d] < k {
				break
			}
			for j := range offs {
				offs[j] -= st[j][d] * k
			}
			digits[d] = 0
		}
	}
}

func pow(k, n int) int {
	p := 1
	for i := 0; i < n; i++ {
		p *= k
	}
	return p
}

// #endregion indexing
