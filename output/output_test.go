package output

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestDataset(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)

	db, err := Open(filepath.Join(dir, "estimates.db"))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer db.Close()

	ds, err := db.CreateDataset("energies", 2, 3)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	rows := [][]float64{
		{1, 2, 3, 4, 5, 6},
		{-1, 0, 1, -2, 0, 2},
	}
	for _, row := range rows {
		if err := ds.Push(row); err != nil {
			t.Fatalf("%+v", err)
		}
	}
	if ds.Len() != 2 {
		t.Fatalf("%d, expected %d", ds.Len(), 2)
	}

	for i, want := range rows {
		got, err := ds.Read(i)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("%d %v, expected %v", i, got, want)
			}
		}
	}

	// Wrong shape.
	if err := ds.Push([]float64{1, 2}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWriteMeta(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)

	db, err := Open(filepath.Join(dir, "estimates.db"))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer db.Close()

	options := struct {
		Nx int
		U  float64
	}{Nx: 4, U: 4}
	if err := db.WriteMeta(uuid.New(), options); err != nil {
		t.Fatalf("%+v", err)
	}
	// Overwriting is allowed; the latest metadata wins.
	if err := db.WriteMeta(uuid.New(), options); err != nil {
		t.Fatalf("%+v", err)
	}
}

// Recreating a dataset drops the previous contents.
func TestCreateDatasetTwice(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)

	db, err := Open(filepath.Join(dir, "estimates.db"))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer db.Close()

	ds, err := db.CreateDataset("energies", 2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := ds.Push([]float64{1, 2}); err != nil {
		t.Fatalf("%+v", err)
	}

	ds2, err := db.CreateDataset("energies", 3)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if ds2.Len() != 0 {
		t.Fatalf("%d, expected %d", ds2.Len(), 0)
	}
	if err := ds2.Push([]float64{1, 2, 3}); err != nil {
		t.Fatalf("%+v", err)
	}
}
