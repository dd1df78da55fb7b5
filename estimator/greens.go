// Package estimator implements the observables of the walker ensemble: the
// mixed projected energy, the back propagated energy and density matrix, and
// the imaginary time correlation functions.
package estimator

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Gab returns the one particle Green's function between two determinants,
//
//	G = B (A^T B)^-1 A^T,
//
// in the one minus convention: callers interpret I - G as the occupation
// expectation. A near singular overlap A^T B degrades the result silently;
// accuracy is governed by the reorthogonalization cadence, not by error
// handling here.
func Gab(a, b *mat.Dense) *mat.Dense {
	var o mat.Dense
	o.Mul(a.T(), b)
	var inv mat.Dense
	if err := inv.Inverse(&o); err != nil {
		// Ill conditioned overlap; the estimate degrades silently.
		_ = err
	}

	var ba mat.Dense
	ba.Mul(&inv, a.T())
	g := &mat.Dense{}
	g.Mul(b, &ba)
	return g
}

// GabMultiDet is Gab for a multi determinant bra: the component Green's
// functions are averaged with the expansion coefficients and the component
// overlap determinants.
func GabMultiDet(a []*mat.Dense, b *mat.Dense, coeffs []float64) *mat.Dense {
	if len(a) != len(coeffs) {
		panic(fmt.Sprintf("%d %d", len(a), len(coeffs)))
	}
	nb, _ := b.Dims()

	gi := make([]*mat.Dense, len(a))
	overlaps := make([]float64, len(a))
	ConstructMultiGHFGab(a, b, gi, overlaps)

	denom := 0.0
	for i, c := range coeffs {
		denom += c * overlaps[i]
	}
	g := mat.NewDense(nb, nb, nil)
	for ix := range a {
		var scaled mat.Dense
		scaled.Scale(coeffs[ix]*overlaps[ix]/denom, gi[ix])
		g.Add(g, &scaled)
	}
	return g
}

// ConstructMultiGHFGab fills gi with the transposed component Green's
// functions between each element of the bra expansion a and the ket b, and
// ots with the corresponding overlap determinants.
func ConstructMultiGHFGab(a []*mat.Dense, b *mat.Dense, gi []*mat.Dense, ots []float64) {
	if len(gi) != len(a) || len(ots) != len(a) {
		panic(fmt.Sprintf("%d %d %d", len(a), len(gi), len(ots)))
	}
	for ix, aix := range a {
		var o mat.Dense
		o.Mul(aix.T(), b)
		det := mat.Det(&o)

		g := Gab(aix, b)
		t := &mat.Dense{}
		t.CloneFrom(g.T())
		gi[ix] = t
		ots[ix] = det
	}
}

// GabMultiDetFull computes the tensor of pairwise component Green's
// functions between two multi determinant expansions, the associated overlap
// ratio weights, and their weighted average.
func GabMultiDetFull(a, b []*mat.Dense, coeffsA, coeffsB []float64, gab [][]*mat.Dense, weights *mat.Dense) *mat.Dense {
	if len(a) != len(coeffsA) || len(b) != len(coeffsB) {
		panic(fmt.Sprintf("%d %d %d %d", len(a), len(coeffsA), len(b), len(coeffsB)))
	}
	nb, _ := a[0].Dims()

	for ix, aix := range a {
		for iy, biy := range b {
			var o mat.Dense
			o.Mul(aix.T(), biy)
			det := mat.Det(&o)

			gab[ix][iy] = Gab(aix, biy)
			weights.Set(ix, iy, coeffsA[ix]*coeffsB[iy]*det)
		}
	}

	denom := mat.Sum(weights)
	g := mat.NewDense(nb, nb, nil)
	for ix := range a {
		for iy := range b {
			var scaled mat.Dense
			scaled.Scale(weights.At(ix, iy)/denom, gab[ix][iy])
			g.Add(g, &scaled)
		}
	}
	return g
}
