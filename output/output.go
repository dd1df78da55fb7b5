// Package output persists estimator records as ordered row streams in a
// SQLite database, one table per dataset. Rows must be pushed in measurement
// order: the sequential index is the only ordering recorded.
package output

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	tableMeta = "meta"
)

type DB struct {
	Path string

	db *sql.DB
}

func Open(dbPath string) (*DB, error) {
	d := &DB{Path: dbPath}
	var err error
	d.db, err = sql.Open("sqlite3", fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (k TEXT PRIMARY KEY, v TEXT) STRICT`, tableMeta)
	if _, err := d.db.ExecContext(ctx, sqlStr); err != nil {
		d.db.Close()
		return nil, errors.Wrap(err, "")
	}
	return d, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// WriteMeta records the calculation uuid and the JSON encoded input options.
func (d *DB) WriteMeta(id uuid.UUID, options any) error {
	b, err := json.Marshal(options)
	if err != nil {
		return errors.Wrap(err, "")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (k, v) VALUES (?, ?)`, tableMeta)
	if _, err := d.db.ExecContext(ctx, sqlStr, "uuid", id.String()); err != nil {
		return errors.Wrap(err, "")
	}
	if _, err := d.db.ExecContext(ctx, sqlStr, "options", string(b)); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// Dataset is an append only stream of fixed shape records.
type Dataset struct {
	db    *sql.DB
	table string
	size  int
	index int
}

// CreateDataset creates a table for records of the given shape, dropping any
// previous contents.
func (d *DB) CreateDataset(name string, shape ...int) (*Dataset, error) {
	size := 1
	for _, s := range shape {
		size *= s
	}
	ds := &Dataset{db: d.db, table: name, size: size}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`DROP TABLE IF EXISTS %s`, name)
	if _, err := d.db.ExecContext(ctx, sqlStr); err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("%s", name))
	}
	sqlStr = fmt.Sprintf(`CREATE TABLE %s (idx INTEGER, pos INTEGER, val REAL, PRIMARY KEY (idx, pos)) STRICT`, name)
	if _, err := d.db.ExecContext(ctx, sqlStr); err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("%s", name))
	}

	shapeB, err := json.Marshal(shape)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	sqlStr = fmt.Sprintf(`INSERT OR REPLACE INTO %s (k, v) VALUES (?, ?)`, tableMeta)
	if _, err := d.db.ExecContext(ctx, sqlStr, name+".shape", string(shapeB)); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return ds, nil
}

// Push appends one record. Records must have exactly the dataset shape.
func (ds *Dataset) Push(data []float64) error {
	if len(data) != ds.size {
		return errors.Errorf("%d, expected %d", len(data), ds.size)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 48*time.Hour)
	defer cancel()
	tx, err := ds.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "")
	}

	sqlStr := fmt.Sprintf(`INSERT INTO %s (idx, pos, val) VALUES (?, ?, ?)`, ds.table)
	for pos, v := range data {
		if _, err1 := tx.ExecContext(ctx, sqlStr, ds.index, pos, v); err1 != nil && err == nil {
			err = errors.Wrap(err1, fmt.Sprintf("%d %d", ds.index, pos))
			break
		}
	}
	if err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "")
	}

	ds.index++
	return nil
}

// Len returns the number of records pushed so far.
func (ds *Dataset) Len() int { return ds.index }

// Read returns the record at index i, for tests and offline analysis.
func (ds *Dataset) Read(i int) ([]float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT pos, val FROM %s WHERE idx=? ORDER BY pos`, ds.table)
	rows, err := ds.db.QueryContext(ctx, sqlStr, i)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	data := make([]float64, ds.size)
	for rows.Next() {
		var pos int
		var v float64
		if err := rows.Scan(&pos, &v); err != nil {
			return nil, errors.Wrap(err, "")
		}
		if pos < 0 || pos >= ds.size {
			return nil, errors.Errorf("%d %d", pos, ds.size)
		}
		data[pos] = v
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return data, nil
}
