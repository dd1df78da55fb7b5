package walker

import (
	"fmt"
)

// FieldConfig is a fixed capacity circular log of the auxiliary field
// configurations sampled along a walker's path, together with the phase and
// weight correction factors of each step. It always holds the last nprop
// steps worth of fields.
//
// A single monotonically increasing write counter replaces the step/block
// cursor pair; the current block index is derived from it.
type FieldConfig struct {
	configs   [][]int
	cosFac    []float64
	weightFac []float64

	nfields int
	nprop   int
	nbp     int
	nblock  int

	// n counts completed steps, ib is the sub index within the current
	// step's field vector.
	n  int
	ib int
}

// NewFieldConfig creates a buffer holding nprop steps of nfields auxiliary
// fields each, with back propagation blocks of nbp steps.
func NewFieldConfig(nfields, nprop, nbp int) *FieldConfig {
	if nfields < 1 || nbp < 1 || nprop%nbp != 0 {
		panic(fmt.Sprintf("%d %d %d", nfields, nprop, nbp))
	}
	fc := &FieldConfig{
		configs:   make([][]int, nprop),
		cosFac:    make([]float64, nprop),
		weightFac: make([]float64, nprop),
		nfields:   nfields,
		nprop:     nprop,
		nbp:       nbp,
		nblock:    nprop / nbp,
	}
	for i := range fc.configs {
		fc.configs[i] = make([]int, nfields)
	}
	return fc
}

// NProp returns the total number of stored propagator steps.
func (fc *FieldConfig) NProp() int { return fc.nprop }

// NBP returns the back propagation depth.
func (fc *FieldConfig) NBP() int { return fc.nbp }

// Step returns the circular write position.
func (fc *FieldConfig) Step() int { return fc.n % fc.nprop }

// block is the index of the last completed nbp aligned window.
func (fc *FieldConfig) block() int {
	if fc.n < fc.nbp {
		panic(fmt.Sprintf("%d %d", fc.n, fc.nbp))
	}
	return (fc.n/fc.nbp - 1) % fc.nblock
}

// Push appends a single auxiliary field sample to the current step slot.
func (fc *FieldConfig) Push(config int) {
	fc.configs[fc.Step()][fc.ib] = config
	fc.ib = (fc.ib + 1) % fc.nfields
	// Completed the field configuration for this step?
	if fc.ib == 0 {
		fc.n++
	}
}

// PushFull stores an entire step's field vector together with its correction
// factors.
func (fc *FieldConfig) PushFull(config []int, cfac, wfac float64) {
	if len(config) != fc.nfields {
		panic(fmt.Sprintf("%d %d", len(config), fc.nfields))
	}
	step := fc.Step()
	copy(fc.configs[step], config)
	fc.cosFac[step] = cfac
	fc.weightFac[step] = wfac
	fc.n++
}

// Block returns read only views of the most recent completed back
// propagation window.
func (fc *FieldConfig) Block() ([][]int, []float64, []float64) {
	start := fc.block() * fc.nbp
	end := start + fc.nbp
	return fc.configs[start:end], fc.cosFac[start:end], fc.weightFac[start:end]
}

// Superblock returns read only views of the window excluding the most recent
// nbp steps, used to extend correlation functions beyond the back
// propagation depth.
func (fc *FieldConfig) Superblock() ([][]int, []float64, []float64) {
	end := fc.nprop - fc.nbp
	return fc.configs[:end], fc.cosFac[:end], fc.weightFac[:end]
}

func (fc *FieldConfig) buffer() fieldConfigBuffer {
	b := fieldConfigBuffer{
		Configs:   make([][]int, len(fc.configs)),
		CosFac:    clone(fc.cosFac),
		WeightFac: clone(fc.weightFac),
		N:         fc.n,
		IB:        fc.ib,
	}
	for i, c := range fc.configs {
		b.Configs[i] = make([]int, len(c))
		copy(b.Configs[i], c)
	}
	return b
}

func (fc *FieldConfig) setBuffer(b fieldConfigBuffer) {
	if len(b.Configs) != fc.nprop {
		panic(fmt.Sprintf("%d %d", len(b.Configs), fc.nprop))
	}
	for i, c := range b.Configs {
		copy(fc.configs[i], c)
	}
	copy(fc.cosFac, b.CosFac)
	copy(fc.weightFac, b.WeightFac)
	fc.n = b.N
	fc.ib = b.IB
}

// fieldConfigBuffer is the serialized form of a FieldConfig, exchanged
// between workers during population control.
type fieldConfigBuffer struct {
	Configs   [][]int
	CosFac    []float64
	WeightFac []float64
	N         int
	IB        int
}

func clone(xs []float64) []float64 {
	ys := make([]float64, len(xs))
	copy(ys, xs)
	return ys
}
