package hubbard

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// FreeElectron returns the free electron trial wavefunction, built from the
// lowest eigenvectors of the hopping matrix, one orbital block per spin
// sector, along with the single-particle eigenvalues.
func FreeElectron(m *Model) ([2]*mat.Dense, []float64) {
	var eig mat.EigenSym
	sym := mat.NewSymDense(m.Nbasis, nil)
	for i := 0; i < m.Nbasis; i++ {
		for j := i; j < m.Nbasis; j++ {
			sym.SetSym(i, j, m.T.At(i, j))
		}
	}
	if ok := eig.Factorize(sym, true); !ok {
		panic(fmt.Sprintf("%#v", m))
	}

	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	// EigenSym returns eigenvalues in ascending order, so the occupied
	// orbitals are the leading columns.
	psi := [2]*mat.Dense{
		mat.DenseCopyOf(vecs.Slice(0, m.Nbasis, 0, m.Nup)),
		mat.DenseCopyOf(vecs.Slice(0, m.Nbasis, 0, m.Ndown)),
	}
	return psi, eig.Values(nil)
}
