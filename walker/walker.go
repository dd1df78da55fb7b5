// Package walker implements the stochastic samples of the many body
// wavefunction and the population dynamics of their ensemble.
package walker

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Walker is the capability set shared by all walker variants. Population
// control, estimators and the ensemble container operate through it; energy
// kernel selection is a separate per trial wavefunction strategy.
type Walker interface {
	Weight() float64
	SetWeight(float64)
	Alive() bool
	Fields() *FieldConfig
	// Buffer serializes the walker state for migration between workers.
	Buffer() ([]byte, error)
	SetBuffer([]byte) error
	// Reortho restores orthogonality of the orbital columns and returns
	// the determinant of the triangular factor.
	Reortho() float64
	// CopyHistoric snapshots the current orbitals as the reference for the
	// next back propagation window.
	CopyHistoric()
	// CopyInit snapshots the current orbitals as the right hand reference
	// for the next correlation function cycle.
	CopyInit()
}

// SingleDet is a walker holding one Slater determinant per spin sector.
type SingleDet struct {
	// Phi is the current orbital matrix, mutated every propagation step.
	Phi [2]*mat.Dense
	// PhiOld is the snapshot taken at the start of the current back
	// propagation window.
	PhiOld [2]*mat.Dense
	// PhiBP is the back propagated orbital matrix, rebuilt each
	// measurement cycle from the stored field history.
	PhiBP [2]*mat.Dense
	// PhiInit is the right hand reference for correlation function
	// construction.
	PhiInit [2]*mat.Dense

	weight float64
	alive  bool
	fields *FieldConfig
}

// NewSingleDet creates a walker initialized from the trial wavefunction.
func NewSingleDet(weight float64, trial [2]*mat.Dense) *SingleDet {
	w := &SingleDet{weight: weight, alive: true}
	for s := 0; s < 2; s++ {
		w.Phi[s] = mat.DenseCopyOf(trial[s])
		w.PhiOld[s] = mat.DenseCopyOf(trial[s])
		w.PhiBP[s] = mat.DenseCopyOf(trial[s])
		w.PhiInit[s] = mat.DenseCopyOf(trial[s])
	}
	return w
}

func (w *SingleDet) Weight() float64     { return w.weight }
func (w *SingleDet) SetWeight(x float64) { w.weight = x }
func (w *SingleDet) Alive() bool         { return w.alive }
func (w *SingleDet) Fields() *FieldConfig {
	return w.fields
}

func (w *SingleDet) CopyHistoric() {
	for s := 0; s < 2; s++ {
		w.PhiOld[s].Copy(w.Phi[s])
	}
}

func (w *SingleDet) CopyInit() {
	for s := 0; s < 2; s++ {
		w.PhiInit[s].Copy(w.Phi[s])
	}
}

func (w *SingleDet) Reortho() float64 {
	detR := 1.0
	for s := 0; s < 2; s++ {
		detR *= Reortho(w.Phi[s])
	}
	return detR
}

type singleDetBuffer struct {
	Weight  float64
	Phi     [2]denseBuffer
	PhiOld  [2]denseBuffer
	PhiBP   [2]denseBuffer
	PhiInit [2]denseBuffer
	Fields  fieldConfigBuffer
}

func (w *SingleDet) Buffer() ([]byte, error) {
	b := singleDetBuffer{Weight: w.weight, Fields: w.fields.buffer()}
	for s := 0; s < 2; s++ {
		b.Phi[s] = denseToBuffer(w.Phi[s])
		b.PhiOld[s] = denseToBuffer(w.PhiOld[s])
		b.PhiBP[s] = denseToBuffer(w.PhiBP[s])
		b.PhiInit[s] = denseToBuffer(w.PhiInit[s])
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return buf.Bytes(), nil
}

func (w *SingleDet) SetBuffer(payload []byte) error {
	var b singleDetBuffer
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&b); err != nil {
		return errors.Wrap(err, "")
	}

	w.weight = b.Weight
	w.alive = true
	for s := 0; s < 2; s++ {
		bufferToDense(w.Phi[s], b.Phi[s])
		bufferToDense(w.PhiOld[s], b.PhiOld[s])
		bufferToDense(w.PhiBP[s], b.PhiBP[s])
		bufferToDense(w.PhiInit[s], b.PhiInit[s])
	}
	w.fields.setBuffer(b.Fields)
	return nil
}

// MultiGHF is a walker over a multi determinant expansion in the spin mixed
// generalized basis. Each component is a 2M by Ne orbital matrix.
type MultiGHF struct {
	Phi     []*mat.Dense
	PhiOld  []*mat.Dense
	PhiBP   []*mat.Dense
	PhiInit []*mat.Dense

	// Gi and Ots hold the per component Green's functions and overlap
	// ratios of the most recent kernel evaluation. Weights accumulates the
	// per component reorthogonalization factors.
	Gi      []*mat.Dense
	Ots     []float64
	Weights []float64

	weight float64
	alive  bool
	fields *FieldConfig
}

// NewMultiGHF creates a walker from a multi determinant trial expansion.
func NewMultiGHF(weight float64, trial []*mat.Dense) *MultiGHF {
	ndets := len(trial)
	if ndets == 0 {
		panic(fmt.Sprintf("%d", ndets))
	}
	w := &MultiGHF{
		weight:  weight,
		alive:   true,
		Gi:      make([]*mat.Dense, ndets),
		Ots:     make([]float64, ndets),
		Weights: make([]float64, ndets),
	}
	nb, _ := trial[0].Dims()
	for i, t := range trial {
		w.Phi = append(w.Phi, mat.DenseCopyOf(t))
		w.PhiOld = append(w.PhiOld, mat.DenseCopyOf(t))
		w.PhiBP = append(w.PhiBP, mat.DenseCopyOf(t))
		w.PhiInit = append(w.PhiInit, mat.DenseCopyOf(t))
		w.Gi[i] = mat.NewDense(nb, nb, nil)
		w.Weights[i] = 1
	}
	return w
}

func (w *MultiGHF) Weight() float64     { return w.weight }
func (w *MultiGHF) SetWeight(x float64) { w.weight = x }
func (w *MultiGHF) Alive() bool         { return w.alive }
func (w *MultiGHF) Fields() *FieldConfig {
	return w.fields
}

func (w *MultiGHF) CopyHistoric() {
	for i := range w.Phi {
		w.PhiOld[i].Copy(w.Phi[i])
	}
}

func (w *MultiGHF) CopyInit() {
	for i := range w.Phi {
		w.PhiInit[i].Copy(w.Phi[i])
	}
}

func (w *MultiGHF) Reortho() float64 {
	detR := 1.0
	for i := range w.Phi {
		r := Reortho(w.Phi[i])
		w.Weights[i] *= r
		detR *= r
	}
	return detR
}

type multiGHFBuffer struct {
	Weight  float64
	Phi     []denseBuffer
	PhiOld  []denseBuffer
	PhiBP   []denseBuffer
	PhiInit []denseBuffer
	Ots     []float64
	Weights []float64
	Fields  fieldConfigBuffer
}

func (w *MultiGHF) Buffer() ([]byte, error) {
	b := multiGHFBuffer{
		Weight:  w.weight,
		Ots:     clone(w.Ots),
		Weights: clone(w.Weights),
		Fields:  w.fields.buffer(),
	}
	for i := range w.Phi {
		b.Phi = append(b.Phi, denseToBuffer(w.Phi[i]))
		b.PhiOld = append(b.PhiOld, denseToBuffer(w.PhiOld[i]))
		b.PhiBP = append(b.PhiBP, denseToBuffer(w.PhiBP[i]))
		b.PhiInit = append(b.PhiInit, denseToBuffer(w.PhiInit[i]))
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return buf.Bytes(), nil
}

func (w *MultiGHF) SetBuffer(payload []byte) error {
	var b multiGHFBuffer
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&b); err != nil {
		return errors.Wrap(err, "")
	}
	if len(b.Phi) != len(w.Phi) {
		return errors.Errorf("%d %d", len(b.Phi), len(w.Phi))
	}

	w.weight = b.Weight
	w.alive = true
	copy(w.Ots, b.Ots)
	copy(w.Weights, b.Weights)
	for i := range w.Phi {
		bufferToDense(w.Phi[i], b.Phi[i])
		bufferToDense(w.PhiOld[i], b.PhiOld[i])
		bufferToDense(w.PhiBP[i], b.PhiBP[i])
		bufferToDense(w.PhiInit[i], b.PhiInit[i])
	}
	w.fields.setBuffer(b.Fields)
	return nil
}

// Reortho QR factorizes phi in place, keeping the orthonormal factor, and
// returns the determinant of the triangular factor.
func Reortho(phi *mat.Dense) float64 {
	r, c := phi.Dims()
	var qr mat.QR
	qr.Factorize(phi)

	var q, rm mat.Dense
	qr.QTo(&q)
	qr.RTo(&rm)

	phi.Copy(q.Slice(0, r, 0, c))
	detR := 1.0
	for i := 0; i < c; i++ {
		detR *= rm.At(i, i)
	}
	return detR
}

type denseBuffer struct {
	Rows, Cols int
	Data       []float64
}

func denseToBuffer(m *mat.Dense) denseBuffer {
	r, c := m.Dims()
	b := denseBuffer{Rows: r, Cols: c, Data: make([]float64, 0, r*c)}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			b.Data = append(b.Data, m.At(i, j))
		}
	}
	return b
}

func bufferToDense(dst *mat.Dense, b denseBuffer) {
	r, c := dst.Dims()
	if r != b.Rows || c != b.Cols {
		panic(fmt.Sprintf("%d %d %d %d", r, c, b.Rows, b.Cols))
	}
	dst.SetRawMatrix(mat.NewDense(b.Rows, b.Cols, b.Data).RawMatrix())
}
