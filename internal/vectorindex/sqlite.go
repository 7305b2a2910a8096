package vectorindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// FormatVersion identifies the on-disk layout written by Persist.
// Load rejects files written with any other version.
const FormatVersion = 1

const schema = `
	CREATE TABLE meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE entries (
		id          TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		source      TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		char_offset INTEGER NOT NULL,
		content     TEXT NOT NULL,
		vector      BLOB NOT NULL
	);
`

// Persist writes the index to a SQLite file at path. The file is written
// next to path and renamed over it, so readers never see a partial index.
func (idx *Index) Persist(ctx context.Context, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create index directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	_ = os.Remove(tmp)

	builtAt := time.Now().UTC()
	if err := writeSQLite(ctx, tmp, idx, builtAt); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace index file: %w", err)
	}

	idx.BuiltAt = builtAt
	return nil
}

func writeSQLite(ctx context.Context, path string, idx *Index, builtAt time.Time) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	meta := map[string]string{
		"format_version": strconv.Itoa(FormatVersion),
		"dimension":      strconv.Itoa(idx.dim),
		"model":          idx.Model,
		"built_at":       builtAt.Format(time.RFC3339),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, "INSERT INTO meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("write meta %s: %w", k, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entries
		(id, document_id, source, chunk_index, char_offset, content, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range idx.entries {
		c := e.Chunk
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Source, c.Index, c.Offset, c.Content,
			encodeFloat32Slice(e.Vector)); err != nil {
			return fmt.Errorf("write entry %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// Load reads an index written by Persist. A missing, unreadable or
// incompatible file yields an error wrapping ErrIndexLoad.
func Load(ctx context.Context, path string) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexLoad, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexLoad, err)
	}
	defer db.Close()

	meta, err := readMeta(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexLoad, err)
	}

	version, err := strconv.Atoi(meta["format_version"])
	if err != nil || version != FormatVersion {
		return nil, fmt.Errorf("%w: format version %q, expected %d", ErrIndexLoad, meta["format_version"], FormatVersion)
	}
	dim, err := strconv.Atoi(meta["dimension"])
	if err != nil || dim < 0 {
		return nil, fmt.Errorf("%w: invalid dimension %q", ErrIndexLoad, meta["dimension"])
	}

	idx := New(meta["model"])
	if t, err := time.Parse(time.RFC3339, meta["built_at"]); err == nil {
		idx.BuiltAt = t
	}

	rows, err := db.QueryContext(ctx, `SELECT id, document_id, source, chunk_index, char_offset, content, vector
		FROM entries ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexLoad, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var blob []byte
		if err := rows.Scan(&e.Chunk.ID, &e.Chunk.DocumentID, &e.Chunk.Source, &e.Chunk.Index,
			&e.Chunk.Offset, &e.Chunk.Content, &blob); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIndexLoad, err)
		}
		if len(blob) != dim*4 {
			return nil, fmt.Errorf("%w: entry %s has %d vector bytes, expected %d",
				ErrIndexLoad, e.Chunk.ID, len(blob), dim*4)
		}
		e.Vector = decodeFloat32Slice(blob)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexLoad, err)
	}

	if err := idx.Add(entries...); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexLoad, err)
	}
	return idx, nil
}

func readMeta(ctx context.Context, db *sql.DB) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT key, value FROM meta")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(meta) == 0 {
		return nil, errors.New("index metadata missing")
	}
	return meta, nil
}

// encodeFloat32Slice converts []float32 to little-endian bytes.
func encodeFloat32Slice(f []float32) []byte {
	buf := make([]byte, len(f)*4)
	for i, v := range f {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeFloat32Slice converts little-endian bytes to []float32.
func decodeFloat32Slice(b []byte) []float32 {
	f := make([]float32, len(b)/4)
	for i := range f {
		f[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return f
}
