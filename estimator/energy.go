package estimator

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/sunchong137/pauxy/hubbard"
)

// LocalEnergy returns the total, kinetic and potential energies of a walker
// from its spin resolved Green's function.
func LocalEnergy(m *hubbard.Model, g [2]*mat.Dense) (float64, float64, float64) {
	ke := 0.0
	for s := 0; s < 2; s++ {
		var prod mat.Dense
		prod.MulElem(m.T, g[s])
		ke += mat.Sum(&prod)
	}

	pe := 0.0
	for i := 0; i < m.Nbasis; i++ {
		pe += m.U * g[0].At(i, i) * g[1].At(i, i)
	}
	return ke + pe, ke, pe
}

// LocalEnergyGHF returns the energies of a spin mixed walker from its
// component Green's functions, weighted by the expansion weights with the
// given normalization.
func LocalEnergyGHF(m *hubbard.Model, gi []*mat.Dense, weights []float64, denom float64) (float64, float64, float64) {
	if len(gi) != len(weights) {
		panic(fmt.Sprintf("%d %d", len(gi), len(weights)))
	}
	nb := m.Nbasis

	ke := 0.0
	pe := 0.0
	for ix, g := range gi {
		var prod mat.Dense
		prod.MulElem(m.Text, g)
		ke += weights[ix] * mat.Sum(&prod)

		for i := 0; i < nb; i++ {
			guu := g.At(i, i)
			gdd := g.At(nb+i, nb+i)
			gud := g.At(nb+i, i)
			gdu := g.At(i, nb+i)
			pe += m.U * weights[ix] * (guu*gdd - gud*gdu)
		}
	}
	return (ke + pe) / denom, ke / denom, pe / denom
}

// LocalEnergyMultiDet returns the energies of a multi determinant walker in
// the spin mixed basis, keeping only the spin diagonal density product in
// the potential term.
func LocalEnergyMultiDet(m *hubbard.Model, gi []*mat.Dense, weights []float64) (float64, float64, float64) {
	if len(gi) != len(weights) {
		panic(fmt.Sprintf("%d %d", len(gi), len(weights)))
	}
	denom := 0.0
	for _, w := range weights {
		denom += w
	}

	ke := 0.0
	pe := 0.0
	for ix, g := range gi {
		var prod mat.Dense
		prod.MulElem(m.Text, g)
		ke += weights[ix] * mat.Sum(&prod)

		for i := 0; i < m.Nbasis; i++ {
			pe += m.U * weights[ix] * g.At(i, i) * g.At(m.Nbasis+i, m.Nbasis+i)
		}
	}
	return (ke + pe) / denom, ke / denom, pe / denom
}

// LocalEnergyGHFFull returns the energies from the full pairwise Green's
// function tensor between two multi determinant expansions.
func LocalEnergyGHFFull(m *hubbard.Model, gab [][]*mat.Dense, weights *mat.Dense) (float64, float64, float64) {
	denom := mat.Sum(weights)
	nb := m.Nbasis

	ke := 0.0
	pe := 0.0
	for ix := range gab {
		for iy, g := range gab[ix] {
			w := weights.At(ix, iy)

			var prod mat.Dense
			prod.MulElem(m.Text, g)
			ke += w * mat.Sum(&prod)

			for i := 0; i < nb; i++ {
				guu := g.At(i, i)
				gdd := g.At(nb+i, nb+i)
				gud := g.At(nb+i, i)
				gdu := g.At(i, nb+i)
				pe += m.U * w * (guu*gdd - gud*gdu)
			}
		}
	}
	return (ke + pe) / denom, ke / denom, pe / denom
}
