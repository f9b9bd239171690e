package index

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	localFormat  = "visacoach-index/1"
	manifestName = "manifest.json"
	dbName       = "index.db"
	currentName  = "CURRENT"

	versionPrefix = "v-"
	loadRetries   = 5
)

var localSchema = []string{
	`CREATE TABLE meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE chunks (
		ordinal      INTEGER PRIMARY KEY,
		source       TEXT NOT NULL,
		title        TEXT NOT NULL,
		content      TEXT NOT NULL,
		start_offset INTEGER NOT NULL,
		embedding    BLOB NOT NULL
	)`,
}

type manifest struct {
	Format         string    `json:"format"`
	EmbeddingModel string    `json:"embedding_model"`
	Dimension      int       `json:"dimension"`
	ChunkCount     int       `json:"chunk_count"`
	BuiltAt        time.Time `json:"built_at"`
	SHA256         string    `json:"sha256"`
}

// LocalStore keeps the index under a directory of immutable versions. Each
// version holds a SQLite database and a manifest with its checksum, and the
// CURRENT file names the live one. Build writes a fresh version and renames
// CURRENT over the old pointer, so a reader resolves one version and reads
// both files from it. The previous version is kept until the next build for
// readers still holding it.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: filepath.Clean(dir)}
}

func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) Build(ctx context.Context, meta Meta, entries []Entry) (err error) {
	if err := validateEntries(meta, entries); err != nil {
		return err
	}
	meta.ChunkCount = len(entries)
	if meta.BuiltAt.IsZero() {
		meta.BuiltAt = time.Now().UTC()
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	version := versionPrefix + uuid.NewString()
	staging := filepath.Join(s.dir, version)
	if err := os.Mkdir(staging, 0o755); err != nil {
		return fmt.Errorf("create index version: %w", err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(staging)
		}
	}()

	dbPath := filepath.Join(staging, dbName)
	if err := writeDatabase(ctx, dbPath, meta, entries); err != nil {
		return err
	}
	sum, err := fileSHA256(dbPath)
	if err != nil {
		return fmt.Errorf("checksum index: %w", err)
	}

	data, err := json.MarshalIndent(manifest{
		Format:         localFormat,
		EmbeddingModel: meta.EmbeddingModel,
		Dimension:      meta.Dimension,
		ChunkCount:     meta.ChunkCount,
		BuiltAt:        meta.BuiltAt,
		SHA256:         sum,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, manifestName), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	previous, err := s.current()
	if err != nil && !errors.Is(err, ErrIndexNotFound) {
		return err
	}
	if err := s.publish(version); err != nil {
		return err
	}
	s.prune(version, previous)
	return nil
}

// publish points CURRENT at version with a rename, which readers observe
// atomically.
func (s *LocalStore) publish(version string) error {
	tmp, err := os.CreateTemp(s.dir, currentName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create index pointer: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(version + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("write index pointer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index pointer: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, currentName)); err != nil {
		return fmt.Errorf("install index: %w", err)
	}
	return nil
}

// prune removes every version except the live one and its predecessor.
func (s *LocalStore) prune(keep ...string) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, d := range dirents {
		name := d.Name()
		if !d.IsDir() || !strings.HasPrefix(name, versionPrefix) || slices.Contains(keep, name) {
			continue
		}
		_ = os.RemoveAll(filepath.Join(s.dir, name))
	}
}

func (s *LocalStore) current() (string, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, currentName))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrIndexNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read index pointer: %w", err)
	}
	version := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(version, versionPrefix) || filepath.Base(version) != version {
		return "", fmt.Errorf("%w: bad index pointer %q", ErrIndexCorrupt, version)
	}
	return version, nil
}

// Load opens the live version. A load that fails while a rebuild moves
// CURRENT is retried against the new version.
func (s *LocalStore) Load(ctx context.Context) (Index, error) {
	for attempt := 0; ; attempt++ {
		version, err := s.current()
		if err != nil {
			return nil, err
		}
		idx, err := s.loadVersion(ctx, version)
		if err == nil {
			return idx, nil
		}
		if ctx.Err() != nil || attempt >= loadRetries {
			return nil, err
		}
		if again, cerr := s.current(); cerr != nil || again == version {
			return nil, err
		}
	}
}

func (s *LocalStore) loadVersion(ctx context.Context, version string) (Index, error) {
	dir := filepath.Join(s.dir, version)
	raw, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", ErrIndexCorrupt, err)
	}
	var man manifest
	if err := json.Unmarshal(raw, &man); err != nil {
		return nil, fmt.Errorf("%w: decode manifest: %v", ErrIndexCorrupt, err)
	}
	if man.Format != localFormat {
		return nil, fmt.Errorf("%w: unsupported format %q", ErrIndexCorrupt, man.Format)
	}

	dbPath := filepath.Join(dir, dbName)
	sum, err := fileSHA256(dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}
	if sum != man.SHA256 {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrIndexCorrupt)
	}

	meta := Meta{
		EmbeddingModel: man.EmbeddingModel,
		Dimension:      man.Dimension,
		ChunkCount:     man.ChunkCount,
		BuiltAt:        man.BuiltAt,
	}
	entries, err := readDatabase(ctx, dbPath, meta)
	if err != nil {
		return nil, err
	}
	if len(entries) != man.ChunkCount {
		return nil, fmt.Errorf("%w: manifest lists %d chunks, database has %d", ErrIndexCorrupt, man.ChunkCount, len(entries))
	}
	return NewMemory(meta, entries)
}

func (s *LocalStore) Clear(context.Context) error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove index dir: %w", err)
	}
	return nil
}

func writeDatabase(ctx context.Context, path string, meta Meta, entries []Entry) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open index db: %w", err)
	}
	defer db.Close()

	for _, stmt := range localSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index schema: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index tx: %w", err)
	}
	defer tx.Rollback()

	for key, value := range map[string]string{
		"embedding_model": meta.EmbeddingModel,
		"dimension":       strconv.Itoa(meta.Dimension),
		"chunk_count":     strconv.Itoa(meta.ChunkCount),
		"built_at":        meta.BuiltAt.Format(time.RFC3339Nano),
	} {
		if _, err := tx.ExecContext(ctx, "INSERT INTO meta (key, value) VALUES (?, ?)", key, value); err != nil {
			return fmt.Errorf("insert meta %s: %w", key, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (ordinal, source, title, content, start_offset, embedding)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i, entry := range entries {
		c := entry.Chunk
		if _, err := stmt.ExecContext(ctx, i, c.Source, c.Title, c.Text, c.Start, encodeVector(entry.Vector)); err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index: %w", err)
	}
	return nil
}

func readDatabase(ctx context.Context, path string, meta Meta) ([]Entry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	defer db.Close()

	var model string
	err = db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'embedding_model'").Scan(&model)
	if err != nil {
		return nil, fmt.Errorf("%w: read meta: %v", ErrIndexCorrupt, err)
	}
	if model != meta.EmbeddingModel {
		return nil, fmt.Errorf("%w: manifest and database disagree on embedding model", ErrIndexCorrupt)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT source, title, content, start_offset, embedding
		FROM chunks ORDER BY ordinal`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, meta.ChunkCount)
	for rows.Next() {
		var (
			c    Chunk
			blob []byte
		)
		if err := rows.Scan(&c.Source, &c.Title, &c.Text, &c.Start, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
		}
		entries = append(entries, Entry{Chunk: c, Vector: vec})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return entries, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
