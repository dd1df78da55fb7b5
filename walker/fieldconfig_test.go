package walker

import (
	"testing"
)

func TestFieldConfigPush(t *testing.T) {
	t.Parallel()
	fc := NewFieldConfig(3, 4, 2)

	// A step only completes once all fields of the slot are filled.
	fc.Push(1)
	fc.Push(0)
	if fc.Step() != 0 {
		t.Fatalf("%d, expected %d", fc.Step(), 0)
	}
	fc.Push(1)
	if fc.Step() != 1 {
		t.Fatalf("%d, expected %d", fc.Step(), 1)
	}

	fc.PushFull([]int{0, 1, 0}, 0.5, 2)
	configs, cfac, wfac := fc.Block()
	if len(configs) != 2 {
		t.Fatalf("%d, expected %d", len(configs), 2)
	}
	for i, want := range []int{1, 0, 1} {
		if configs[0][i] != want {
			t.Fatalf("%d %d, expected %d", i, configs[0][i], want)
		}
	}
	for i, want := range []int{0, 1, 0} {
		if configs[1][i] != want {
			t.Fatalf("%d %d, expected %d", i, configs[1][i], want)
		}
	}
	if cfac[1] != 0.5 || wfac[1] != 2 {
		t.Fatalf("%f %f, expected %f %f", cfac[1], wfac[1], 0.5, 2.0)
	}
}

func TestFieldConfigCircular(t *testing.T) {
	t.Parallel()
	fc := NewFieldConfig(1, 4, 2)
	for i := 0; i < 10; i++ {
		fc.PushFull([]int{i % 2}, 1, 1)
		if fc.Step() != (i+1)%4 {
			t.Fatalf("%d %d, expected %d", i, fc.Step(), (i+1)%4)
		}
	}

	// After 10 pushes the last completed block covers pushes 9 and 10,
	// which landed in the buffer's first window.
	configs, _, _ := fc.Block()
	if configs[0][0] != 8%2 || configs[1][0] != 9%2 {
		t.Fatalf("%v", configs)
	}

	sb, _, _ := fc.Superblock()
	if len(sb) != 2 {
		t.Fatalf("%d, expected %d", len(sb), 2)
	}
}

func TestFieldConfigBuffer(t *testing.T) {
	t.Parallel()
	fc := NewFieldConfig(2, 4, 2)
	for i := 0; i < 5; i++ {
		fc.PushFull([]int{i % 2, (i + 1) % 2}, float64(i), float64(2*i))
	}

	fc2 := NewFieldConfig(2, 4, 2)
	fc2.setBuffer(fc.buffer())
	if fc2.n != fc.n || fc2.ib != fc.ib {
		t.Fatalf("%d %d, expected %d %d", fc2.n, fc2.ib, fc.n, fc.ib)
	}
	for i := range fc.configs {
		for j := range fc.configs[i] {
			if fc2.configs[i][j] != fc.configs[i][j] {
				t.Fatalf("%d %d %d, expected %d", i, j, fc2.configs[i][j], fc.configs[i][j])
			}
		}
		if fc2.cosFac[i] != fc.cosFac[i] || fc2.weightFac[i] != fc.weightFac[i] {
			t.Fatalf("%d %f %f, expected %f %f", i, fc2.cosFac[i], fc2.weightFac[i], fc.cosFac[i], fc.weightFac[i])
		}
	}
}

func TestFieldConfigPanics(t *testing.T) {
	t.Parallel()
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic")
			}
		}()
		// nprop not divisible by nbp.
		NewFieldConfig(2, 5, 2)
	}()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic")
			}
		}()
		fc := NewFieldConfig(2, 4, 2)
		// No completed block yet.
		fc.Block()
	}()
}
