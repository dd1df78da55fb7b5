// Package hubbard implements the one-band Hubbard model on one and two
// dimensional lattices with nearest neighbour hopping.
//
// References:
//   - The Hubbard Model, Editors: Montorsi, Arianna
package hubbard

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// Model holds the single-particle operators of the Hubbard Hamiltonian.
type Model struct {
	// Nx and Ny are the lattice dimensions.
	Nx, Ny int
	// Nup and Ndown are the numbers of up and down electrons.
	Nup, Ndown int
	// U is the on-site interaction strength.
	U float64
	// Nbasis is the number of single-particle basis functions.
	Nbasis int

	// T is the hopping matrix.
	T *mat.Dense
	// Text is the hopping matrix in the extended spin-mixed basis,
	// block diagonal with two copies of T.
	Text *mat.Dense
	// P is the momentum space transform matrix.
	P *mat.CDense
	// Eks are the free single-particle band energies.
	Eks []float64
}

// New constructs a Hubbard model with hopping parameter t and interaction u.
// ktwist applies twisted boundary condition phases along each dimension.
func New(nx, ny, nup, ndown int, t, u float64, ktwist [2]float64) *Model {
	if nx < 1 || ny < 1 {
		panic(fmt.Sprintf("%d %d", nx, ny))
	}
	m := &Model{Nx: nx, Ny: ny, Nup: nup, Ndown: ndown, U: u}
	m.Nbasis = nx * ny
	m.T = kinetic(t, m.Nbasis, nx, ny, ktwist)
	m.Text = extended(m.T)
	m.P = transformMatrix(m.Nbasis, nx, ny)
	m.Eks = bandEnergies(t, nx, ny)
	return m
}

// Ne returns the total number of electrons.
func (m *Model) Ne() int { return m.Nup + m.Ndown }

// kinetic builds the hopping matrix in the site basis,
// with periodic boundary conditions and optional twist phases.
func kinetic(t float64, nbasis, nx, ny int, ks [2]float64) *mat.Dense {
	tm := mat.NewDense(nbasis, nbasis, nil)
	for i := 0; i < nbasis; i++ {
		for j := i + 1; j < nbasis; j++ {
			xy1 := decodeBasis(nx, ny, i)
			xy2 := decodeBasis(nx, ny, j)
			d := [2]int{abs(xy1[0] - xy2[0]), abs(xy1[1] - xy2[1])}

			if d[0]+d[1] == 1 {
				tm.Set(i, j, tm.At(i, j)-t)
			}
			// Periodic boundary conditions wrap the lattice edges.
			switch {
			case ny == 1 && d == [2]int{nx - 1, 0}:
				tm.Set(i, j, tm.At(i, j)-t*math.Cos(math.Pi*ks[0]))
			case ny > 1 && d == [2]int{nx - 1, 0}:
				tm.Set(i, j, tm.At(i, j)-t*math.Cos(math.Pi*ks[0]))
			case ny > 1 && d == [2]int{0, ny - 1}:
				tm.Set(i, j, tm.At(i, j)-t*math.Cos(math.Pi*ks[1]))
			}
		}
	}

	var sym mat.Dense
	sym.Add(tm, tm.T())
	return &sym
}

// decodeBasis returns the cartesian lattice coordinates of basis index i.
func decodeBasis(nx, ny, i int) [2]int {
	if ny == 1 {
		return [2]int{i % nx, 0}
	}
	return [2]int{i % nx, i / nx}
}

// extended embeds t block diagonally in the doubled spin-mixed basis.
func extended(t *mat.Dense) *mat.Dense {
	n, _ := t.Dims()
	ext := mat.NewDense(2*n, 2*n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			ext.Set(i, j, t.At(i, j))
			ext.Set(n+i, n+j, t.At(i, j))
		}
	}
	return ext
}

// transformMatrix returns the discrete Fourier transform between the site
// basis and the momentum basis.
func transformMatrix(nbasis, nx, ny int) *mat.CDense {
	p := mat.NewCDense(nbasis, nbasis, nil)
	for i := 0; i < nbasis; i++ {
		ki := decodeBasis(nx, ny, i)
		for j := 0; j < nbasis; j++ {
			rj := decodeBasis(nx, ny, j)
			phase := 2 * math.Pi * (float64(ki[0]*rj[0])/float64(nx) + float64(ki[1]*rj[1])/float64(ny))
			p.Set(i, j, cmplx.Exp(complex(0, phase)))
		}
	}
	return p
}

// bandEnergies returns the free electron dispersion at each k point.
func bandEnergies(t float64, nx, ny int) []float64 {
	eks := make([]float64, 0, nx*ny)
	for i := 0; i < nx*ny; i++ {
		k := decodeBasis(nx, ny, i)
		ek := -2 * t * math.Cos(2*math.Pi*float64(k[0])/float64(nx))
		if ny > 1 {
			ek += -2 * t * math.Cos(2*math.Pi*float64(k[1])/float64(ny))
		}
		eks = append(eks, ek)
	}
	return eks
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
