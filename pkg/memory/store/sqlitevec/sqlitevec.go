// Package sqlitevec provides a SQLite-backed tiered store using sqlite-vec
// for the similarity half of hybrid search.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/justice-rest/intelmem/pkg/memory"
	"github.com/justice-rest/intelmem/pkg/memory/store"
)

// knnOversample is how many KNN neighbors are fetched per requested result.
// vec0 cannot pre-filter by user, so the KNN pass over-fetches and the join
// filters down to the caller's user and lifecycle constraints.
const knnOversample = 8

// Driver implements store.Driver on SQLite with the sqlite-vec extension.
type Driver struct {
	db         *sql.DB
	dimensions uint
	logger     *zap.Logger
}

// Config holds configuration for the SQLite tiered store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string

	// Dimensions is the embedding vector dimensionality. Required; the vec0
	// table is declared with it and mixed dimensionalities are rejected.
	Dimensions uint
}

// NewDriver creates a SQLite tiered store backed by sqlite-vec.
func NewDriver(c Config, logger *zap.Logger) (*Driver, error) {
	sqlite_vec.Auto()

	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("embedding dimensions cannot be 0, must be configured")
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec not available: %w", err)
	}

	if err := createSchema(db, c.Dimensions); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("sqlite-vec tiered store initialized",
		zap.String("db_path", c.DBPath),
		zap.Uint("dimensions", c.Dimensions),
		zap.String("vec_version", vecVersion),
	)

	return &Driver{
		db:         db,
		dimensions: c.Dimensions,
		logger:     logger,
	}, nil
}

func createSchema(db *sql.DB, dimensions uint) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id              TEXT PRIMARY KEY,
			root_id         TEXT NOT NULL,
			parent_id       TEXT NOT NULL DEFAULT '',
			version         INTEGER NOT NULL,
			is_latest       INTEGER NOT NULL,
			user_id         TEXT NOT NULL,
			text            TEXT NOT NULL,
			embedding_model TEXT NOT NULL DEFAULT '',
			kind            TEXT NOT NULL,
			is_static       INTEGER NOT NULL DEFAULT 0,
			tags            TEXT NOT NULL DEFAULT '[]',
			tier            TEXT NOT NULL,
			importance      REAL NOT NULL,
			access_count    INTEGER NOT NULL DEFAULT 0,
			access_velocity REAL NOT NULL DEFAULT 0,
			last_accessed_at INTEGER NOT NULL DEFAULT 0,
			is_forgotten    INTEGER NOT NULL DEFAULT 0,
			forget_after    INTEGER NOT NULL DEFAULT 0,
			forget_reason   TEXT NOT NULL DEFAULT '',
			source_count    INTEGER NOT NULL DEFAULT 1,
			last_decayed_at INTEGER NOT NULL DEFAULT 0,
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating memories table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_memories_root ON memories(root_id)`)
	if err != nil {
		return fmt.Errorf("creating root index: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_memories_user_active ON memories(user_id, is_latest, is_forgotten)`)
	if err != nil {
		return fmt.Errorf("creating user index: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_relations (
			from_id TEXT NOT NULL,
			to_id   TEXT NOT NULL,
			type    TEXT NOT NULL,
			weight  REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (from_id, to_id, type)
		)
	`)
	if err != nil {
		return fmt.Errorf("creating relations table: %w", err)
	}

	// vec0 virtual tables use integer rowids, so a mapping table carries
	// string memory ids to integer rowids.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS vec_memories (
			rowid     INTEGER PRIMARY KEY AUTOINCREMENT,
			memory_id TEXT NOT NULL UNIQUE
		)
	`)
	if err != nil {
		return fmt.Errorf("creating vec mapping table: %w", err)
	}

	createVec := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(embedding float[%d] distance_metric=cosine)`,
		dimensions,
	)
	if _, err := db.Exec(createVec); err != nil {
		return fmt.Errorf("creating vec0 table: %w", err)
	}

	return nil
}

// serializeFloat32 converts a float32 slice to the little-endian BLOB format
// sqlite-vec expects.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// deserializeFloat32 converts a little-endian byte slice back to float32s.
func deserializeFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d: must be divisible by 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func (d *Driver) checkDimensions(embedding []float32) error {
	if len(embedding) != int(d.dimensions) {
		return fmt.Errorf("%w: embedding has %d dimensions, store is configured for %d",
			memory.ErrInvalidInput, len(embedding), d.dimensions)
	}
	return nil
}

// Insert stores a new record. Rejects a second latest record for an
// existing root.
func (d *Driver) Insert(ctx context.Context, rec *memory.Record) error {
	if rec.ID == "" || rec.UserID == "" {
		return fmt.Errorf("%w: record id and user id are required", memory.ErrInvalidInput)
	}
	if err := d.checkDimensions(rec.Embedding); err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if rec.IsLatest {
		var existing int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM memories WHERE root_id = ? AND is_latest = 1`, rec.RootID,
		).Scan(&existing)
		if err != nil {
			return fmt.Errorf("checking latest for root %s: %w", rec.RootID, err)
		}
		if existing > 0 {
			return fmt.Errorf("%w: root %s already has a latest version", memory.ErrInvariantViolation, rec.RootID)
		}
	}

	if err := insertRecordTx(ctx, tx, rec); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	d.logger.Debug("inserted memory record",
		zap.String("id", rec.ID),
		zap.String("user_id", rec.UserID),
		zap.Int("version", rec.Version),
	)
	return nil
}

func insertRecordTx(ctx context.Context, tx *sql.Tx, rec *memory.Record) error {
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("marshaling tags for %s: %w", rec.ID, err)
	}

	var forgetAfter int64
	if rec.ForgetAfter != nil {
		forgetAfter = rec.ForgetAfter.UnixNano()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (
			id, root_id, parent_id, version, is_latest,
			user_id, text, embedding_model, kind, is_static, tags,
			tier, importance, access_count, access_velocity, last_accessed_at,
			is_forgotten, forget_after, forget_reason, source_count,
			last_decayed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RootID, rec.ParentID, rec.Version, rec.IsLatest,
		rec.UserID, rec.Text, rec.EmbeddingModel, string(rec.Kind), rec.IsStatic, string(tags),
		string(rec.Tier), rec.Importance, rec.AccessCount, rec.AccessVelocity, unixNano(rec.LastAccessedAt),
		rec.IsForgotten, forgetAfter, rec.ForgetReason, rec.SourceCount,
		unixNano(rec.LastDecayedAt), unixNano(rec.CreatedAt), unixNano(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting record %s: %w", rec.ID, err)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO vec_memories(memory_id) VALUES (?)`, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("inserting vec mapping for %s: %w", rec.ID, err)
	}
	rowID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting rowid for %s: %w", rec.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vec_embeddings(rowid, embedding) VALUES (?, ?)`,
		rowID, serializeFloat32(rec.Embedding),
	); err != nil {
		return fmt.Errorf("inserting embedding for %s: %w", rec.ID, err)
	}

	return nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

const recordColumns = `
	id, root_id, parent_id, version, is_latest,
	user_id, text, embedding_model, kind, is_static, tags,
	tier, importance, access_count, access_velocity, last_accessed_at,
	is_forgotten, forget_after, forget_reason, source_count,
	last_decayed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*memory.Record, error) {
	var rec memory.Record
	var kind, tier, tags string
	var lastAccessed, forgetAfter, lastDecayed, createdAt, updatedAt int64

	err := row.Scan(
		&rec.ID, &rec.RootID, &rec.ParentID, &rec.Version, &rec.IsLatest,
		&rec.UserID, &rec.Text, &rec.EmbeddingModel, &kind, &rec.IsStatic, &tags,
		&tier, &rec.Importance, &rec.AccessCount, &rec.AccessVelocity, &lastAccessed,
		&rec.IsForgotten, &forgetAfter, &rec.ForgetReason, &rec.SourceCount,
		&lastDecayed, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Kind = memory.Kind(kind)
	rec.Tier = memory.Tier(tier)
	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return nil, fmt.Errorf("unmarshaling tags for %s: %w", rec.ID, err)
	}
	rec.LastAccessedAt = fromUnixNano(lastAccessed)
	rec.LastDecayedAt = fromUnixNano(lastDecayed)
	rec.CreatedAt = fromUnixNano(createdAt)
	rec.UpdatedAt = fromUnixNano(updatedAt)
	if forgetAfter != 0 {
		t := fromUnixNano(forgetAfter)
		rec.ForgetAfter = &t
	}
	return &rec, nil
}

// Get retrieves a record by id, embedding included.
func (d *Driver) Get(ctx context.Context, id string) (*memory.Record, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM memories WHERE id = ?`, id,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning record %s: %w", id, err)
	}

	if err := d.loadEmbedding(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (d *Driver) loadEmbedding(ctx context.Context, rec *memory.Record) error {
	var blob []byte
	err := d.db.QueryRowContext(ctx, `
		SELECT ve.embedding
		FROM vec_embeddings ve
		INNER JOIN vec_memories vm ON vm.rowid = ve.rowid
		WHERE vm.memory_id = ?`, rec.ID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading embedding for %s: %w", rec.ID, err)
	}
	emb, err := deserializeFloat32(blob)
	if err != nil {
		return fmt.Errorf("decoding embedding for %s: %w", rec.ID, err)
	}
	rec.Embedding = emb
	return nil
}

// Update rewrites a record's mutable lifecycle fields.
func (d *Driver) Update(ctx context.Context, rec *memory.Record) error {
	var forgetAfter int64
	if rec.ForgetAfter != nil {
		forgetAfter = rec.ForgetAfter.UnixNano()
	}

	result, err := d.db.ExecContext(ctx, `
		UPDATE memories SET
			tier = ?, importance = ?, access_count = ?, access_velocity = ?,
			last_accessed_at = ?, is_forgotten = ?, forget_after = ?,
			forget_reason = ?, source_count = ?, last_decayed_at = ?, updated_at = ?
		WHERE id = ?`,
		string(rec.Tier), rec.Importance, rec.AccessCount, rec.AccessVelocity,
		unixNano(rec.LastAccessedAt), rec.IsForgotten, forgetAfter,
		rec.ForgetReason, rec.SourceCount, unixNano(rec.LastDecayedAt), unixNano(rec.UpdatedAt),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("updating record %s: %w", rec.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update of %s: %w", rec.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", memory.ErrNotFound, rec.ID)
	}
	return nil
}

// ReplaceLatest atomically supersedes the given ids and inserts rec.
func (d *Driver) ReplaceLatest(ctx context.Context, supersededIDs []string, rec *memory.Record, rels []memory.Relation) error {
	if err := d.checkDimensions(rec.Embedding); err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixNano()
	for _, id := range supersededIDs {
		result, err := tx.ExecContext(ctx,
			`UPDATE memories SET is_latest = 0, updated_at = ? WHERE id = ? AND is_latest = 1`,
			now, id,
		)
		if err != nil {
			return fmt.Errorf("superseding %s: %w", id, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking supersede of %s: %w", id, err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: %s is not the latest version", memory.ErrInvariantViolation, id)
		}
	}

	if err := insertRecordTx(ctx, tx, rec); err != nil {
		return err
	}

	for _, rel := range rels {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO memory_relations(from_id, to_id, type, weight) VALUES (?, ?, ?, ?)`,
			rel.FromID, rel.ToID, string(rel.Type), rel.Weight,
		); err != nil {
			return fmt.Errorf("inserting relation %s -> %s: %w", rel.FromID, rel.ToID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	d.logger.Debug("replaced latest version",
		zap.Strings("superseded", supersededIDs),
		zap.String("new_id", rec.ID),
	)
	return nil
}

// DeleteChain hard-deletes a whole version chain and its relations.
func (d *Driver) DeleteChain(ctx context.Context, rootID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM memories WHERE root_id = ?`, rootID)
	if err != nil {
		return fmt.Errorf("listing chain %s: %w", rootID, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scanning chain id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating chain ids: %w", err)
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: chain %s", memory.ErrNotFound, rootID)
	}

	if err := deleteByIDsTx(ctx, tx, ids); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// DeleteUser hard-deletes all of a user's records and relations.
func (d *Driver) DeleteUser(ctx context.Context, userID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM memories WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("listing records for %s: %w", userID, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scanning record id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating record ids: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	if err := deleteByIDsTx(ctx, tx, ids); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	d.logger.Info("deleted user records",
		zap.String("user_id", userID),
		zap.Int("count", len(ids)),
	)
	return nil
}

func deleteByIDsTx(ctx context.Context, tx *sql.Tx, ids []string) error {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	inClause := strings.Join(placeholders, ",")

	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT rowid FROM vec_memories WHERE memory_id IN (%s)`, inClause), args...,
	)
	if err != nil {
		return fmt.Errorf("querying rowids for deletion: %w", err)
	}
	var rowIDs []int64
	for rows.Next() {
		var rowID int64
		if err := rows.Scan(&rowID); err != nil {
			rows.Close()
			return fmt.Errorf("scanning rowid: %w", err)
		}
		rowIDs = append(rowIDs, rowID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating rowids: %w", err)
	}

	for _, rowID := range rowIDs {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM vec_embeddings WHERE rowid = ?`, rowID,
		); err != nil {
			return fmt.Errorf("deleting embedding rowid %d: %w", rowID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM vec_memories WHERE memory_id IN (%s)`, inClause), args...,
	); err != nil {
		return fmt.Errorf("deleting vec mappings: %w", err)
	}

	doubled := append(append([]any{}, args...), args...)
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM memory_relations WHERE from_id IN (%s) OR to_id IN (%s)`, inClause, inClause),
		doubled...,
	); err != nil {
		return fmt.Errorf("deleting relations: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM memories WHERE id IN (%s)`, inClause), args...,
	); err != nil {
		return fmt.Errorf("deleting records: %w", err)
	}

	return nil
}

// ListActive returns the user's latest, non-forgotten records with
// embeddings loaded.
func (d *Driver) ListActive(ctx context.Context, userID string) ([]*memory.Record, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM memories WHERE user_id = ? AND is_latest = 1 AND is_forgotten = 0 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing active records: %w", err)
	}
	defer rows.Close()

	var recs []*memory.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}

	for _, rec := range recs {
		if err := d.loadEmbedding(ctx, rec); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

func buildFilterClause(f store.Filters) (string, []any) {
	var clauses []string
	var args []any

	if !f.IncludeForgotten {
		clauses = append(clauses, "m.is_forgotten = 0")
	}
	if len(f.Tiers) > 0 {
		ph := make([]string, len(f.Tiers))
		for i, t := range f.Tiers {
			ph[i] = "?"
			args = append(args, string(t))
		}
		clauses = append(clauses, fmt.Sprintf("m.tier IN (%s)", strings.Join(ph, ",")))
	}
	if len(f.Kinds) > 0 {
		ph := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			ph[i] = "?"
			args = append(args, string(k))
		}
		clauses = append(clauses, fmt.Sprintf("m.kind IN (%s)", strings.Join(ph, ",")))
	}
	if len(f.Tags) > 0 {
		tagClauses := make([]string, len(f.Tags))
		for i, tag := range f.Tags {
			tagClauses[i] = "m.tags LIKE ?"
			args = append(args, `%"`+tag+`"%`)
		}
		clauses = append(clauses, "("+strings.Join(tagClauses, " OR ")+")")
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

// Similar runs a KNN query against vec0, joins back to the memories table,
// and filters to the caller's user and lifecycle constraints.
func (d *Driver) Similar(ctx context.Context, q store.SimilarityQuery) ([]store.Match, error) {
	if err := d.checkDimensions(q.Embedding); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	k := limit * knnOversample
	if k < 64 {
		k = 64
	}

	filterClause, filterArgs := buildFilterClause(q.Filters)
	args := []any{serializeFloat32(q.Embedding), k, q.UserID}
	args = append(args, filterArgs...)

	// vec0 with distance_metric=cosine reports cosine distance, so
	// similarity = 1 - distance.
	query := `
		SELECT ` + prefixColumns("m") + `, ve.distance
		FROM vec_embeddings ve
		INNER JOIN vec_memories vm ON vm.rowid = ve.rowid
		INNER JOIN memories m ON m.id = vm.memory_id
		WHERE ve.embedding MATCH ?
			AND ve.k = ?
			AND m.user_id = ?
			AND m.is_latest = 1` + filterClause + `
		ORDER BY ve.distance`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying similar records: %w", err)
	}
	defer rows.Close()

	var matches []store.Match
	for rows.Next() {
		rec := &memory.Record{}
		var kind, tier, tags string
		var lastAccessed, forgetAfter, lastDecayed, createdAt, updatedAt int64
		var distance float64

		err := rows.Scan(
			&rec.ID, &rec.RootID, &rec.ParentID, &rec.Version, &rec.IsLatest,
			&rec.UserID, &rec.Text, &rec.EmbeddingModel, &kind, &rec.IsStatic, &tags,
			&tier, &rec.Importance, &rec.AccessCount, &rec.AccessVelocity, &lastAccessed,
			&rec.IsForgotten, &forgetAfter, &rec.ForgetReason, &rec.SourceCount,
			&lastDecayed, &createdAt, &updatedAt,
			&distance,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning similarity result: %w", err)
		}
		rec.Kind = memory.Kind(kind)
		rec.Tier = memory.Tier(tier)
		if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
			return nil, fmt.Errorf("unmarshaling tags for %s: %w", rec.ID, err)
		}
		rec.LastAccessedAt = fromUnixNano(lastAccessed)
		rec.LastDecayedAt = fromUnixNano(lastDecayed)
		rec.CreatedAt = fromUnixNano(createdAt)
		rec.UpdatedAt = fromUnixNano(updatedAt)
		if forgetAfter != 0 {
			t := fromUnixNano(forgetAfter)
			rec.ForgetAfter = &t
		}

		score := 1.0 - distance
		if score < q.Threshold {
			continue
		}
		matches = append(matches, store.Match{Record: rec, Score: score})
		if len(matches) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating similarity results: %w", err)
	}

	d.logger.Debug("similarity query",
		zap.String("user_id", q.UserID),
		zap.Int("matches", len(matches)),
	)
	return matches, nil
}

func prefixColumns(prefix string) string {
	cols := strings.Split(recordColumns, ",")
	for i, c := range cols {
		cols[i] = prefix + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// Keyword returns active records whose text contains any of the given
// terms, scored by the fraction of terms matched.
func (d *Driver) Keyword(ctx context.Context, userID string, terms []string, limit int, filters store.Filters) ([]store.Match, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	filterClause, filterArgs := buildFilterClause(filters)

	likeClauses := make([]string, len(terms))
	args := []any{userID}
	args = append(args, filterArgs...)
	for i, term := range terms {
		likeClauses[i] = "m.text LIKE ?"
		args = append(args, "%"+term+"%")
	}

	query := `
		SELECT ` + prefixColumns("m") + `
		FROM memories m
		WHERE m.user_id = ? AND m.is_latest = 1` + filterClause + `
			AND (` + strings.Join(likeClauses, " OR ") + `)`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying keyword matches: %w", err)
	}
	defer rows.Close()

	var matches []store.Match
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning keyword result: %w", err)
		}

		lower := strings.ToLower(rec.Text)
		hits := 0
		for _, term := range terms {
			if strings.Contains(lower, strings.ToLower(term)) {
				hits++
			}
		}
		matches = append(matches, store.Match{
			Record: rec,
			Score:  float64(hits) / float64(len(terms)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating keyword results: %w", err)
	}

	// Highest term coverage first, bounded by limit.
	sortMatches(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func sortMatches(matches []store.Match) {
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Score > matches[j-1].Score; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
}

// UpdateTiers applies a batch of tier changes in one transaction.
func (d *Driver) UpdateTiers(ctx context.Context, changes []store.TierChange) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixNano()
	for _, change := range changes {
		if _, err := tx.ExecContext(ctx,
			`UPDATE memories SET tier = ?, updated_at = ? WHERE id = ?`,
			string(change.Tier), now, change.ID,
		); err != nil {
			return fmt.Errorf("updating tier for %s: %w", change.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// UpdateImportance applies a batch of importance changes in one transaction.
func (d *Driver) UpdateImportance(ctx context.Context, changes []store.ImportanceChange) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixNano()
	for _, change := range changes {
		if change.LastDecayedAt != 0 {
			_, err = tx.ExecContext(ctx,
				`UPDATE memories SET importance = ?, last_decayed_at = ?, updated_at = ? WHERE id = ?`,
				change.Importance, change.LastDecayedAt, now, change.ID,
			)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE memories SET importance = ?, updated_at = ? WHERE id = ?`,
				change.Importance, now, change.ID,
			)
		}
		if err != nil {
			return fmt.Errorf("updating importance for %s: %w", change.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// AddRelation stores a directed edge between two records.
func (d *Driver) AddRelation(ctx context.Context, rel memory.Relation) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO memory_relations(from_id, to_id, type, weight) VALUES (?, ?, ?, ?)`,
		rel.FromID, rel.ToID, string(rel.Type), rel.Weight,
	)
	if err != nil {
		return fmt.Errorf("inserting relation: %w", err)
	}
	return nil
}

// RelationsFor returns edges touching the given record id.
func (d *Driver) RelationsFor(ctx context.Context, id string) ([]memory.Relation, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT from_id, to_id, type, weight FROM memory_relations WHERE from_id = ? OR to_id = ?`,
		id, id,
	)
	if err != nil {
		return nil, fmt.Errorf("querying relations: %w", err)
	}
	defer rows.Close()

	var rels []memory.Relation
	for rows.Next() {
		var rel memory.Relation
		var relType string
		if err := rows.Scan(&rel.FromID, &rel.ToID, &relType, &rel.Weight); err != nil {
			return nil, fmt.Errorf("scanning relation: %w", err)
		}
		rel.Type = memory.RelationType(relType)
		rels = append(rels, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relations: %w", err)
	}
	return rels, nil
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	return d.db.Close()
}

var _ store.Driver = (*Driver)(nil)
