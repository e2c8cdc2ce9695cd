package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	similarLimit      = 6
	distanceCutoff    = 0.6
	vectorWeight      = 0.7
	lexicalWeight     = 0.3
	defaultConfidence = 0.2
)

// Memory is one durable fact, partitioned by scope.
type Memory struct {
	ID         int64
	Scope      Scope
	Content    string
	Confidence float64
	CreatedAt  time.Time
}

// ScoredMemory is a retrieval hit with its ranking components.
type ScoredMemory struct {
	Memory
	Score          float64
	CosineDistance float64
	LexicalRank    float64
}

// Store persists memories in a single sqlite file. Full-text search runs
// through an external-content FTS5 table kept in sync by triggers; vectors
// live in a blob column and are compared in Go.
type Store struct {
	db       *sql.DB
	embedder Embedder
}

func NewStore(dbPath string, embedder Embedder) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, embedder: embedder}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS memories (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	scope      TEXT NOT NULL,
	content    TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0.2,
	embedding  BLOB,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories(scope);

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	content,
	content='memories',
	content_rowid='id',
	tokenize='unicode61'
);

CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
	INSERT INTO memories_fts(rowid, content) VALUES (new.id, new.content);
END;
CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.id, old.content);
END;
CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.id, old.content);
	INSERT INTO memories_fts(rowid, content) VALUES (new.id, new.content);
END;
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new memory with the default confidence. The content is
// embedded first; an embedding failure aborts the insert.
func (s *Store) Create(ctx context.Context, scope Scope, content string) (*Memory, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty memory content")
	}

	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (scope, content, confidence, embedding, created_at) VALUES (?, ?, ?, ?, ?)`,
		scope.String(), content, defaultConfidence, EncodeVector(vec), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("insert memory: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return &Memory{ID: id, Scope: scope, Content: content, Confidence: defaultConfidence, CreatedAt: now}, nil
}

// Merge replaces a memory's content and confidence. The new content is
// re-embedded. Confidence is clamped to [0, 1].
func (s *Store) Merge(ctx context.Context, id int64, content string, confidence float64) (*Memory, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty memory content")
	}
	confidence = clampConfidence(confidence)

	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET content = ?, confidence = ?, embedding = ? WHERE id = ?`,
		content, confidence, EncodeVector(vec), id)
	if err != nil {
		return nil, fmt.Errorf("update memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("memory %d not found", id)
	}

	return s.Get(ctx, id)
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("memory %d not found", id)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (*Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, scope, content, confidence, created_at FROM memories WHERE id = ?`, id)

	var m Memory
	var scopeStr string
	var createdAt int64
	if err := row.Scan(&m.ID, &scopeStr, &m.Content, &m.Confidence, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("memory %d not found", id)
		}
		return nil, fmt.Errorf("scan memory: %w", err)
	}
	m.Scope = ParseScope(scopeStr)
	m.CreatedAt = time.Unix(createdAt, 0)
	return &m, nil
}

// Count returns the number of memories in a scope.
func (s *Store) Count(ctx context.Context, scope Scope) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE scope = ?`, scope.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

// Similar runs hybrid retrieval within a single scope: a candidate passes
// when its cosine distance to the query is under the cutoff or full-text
// search matched it at all, and survivors are ranked by
// 0.7*(1-distance) + 0.3*lexical, capped at six results.
func (s *Store) Similar(ctx context.Context, scope Scope, query string) ([]ScoredMemory, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	lexical, err := s.lexicalRanks(ctx, scope, query)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scope, content, confidence, embedding, created_at FROM memories WHERE scope = ?`,
		scope.String())
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var hits []ScoredMemory
	for rows.Next() {
		var m Memory
		var scopeStr string
		var blob []byte
		var createdAt int64
		if err := rows.Scan(&m.ID, &scopeStr, &m.Content, &m.Confidence, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.Scope = ParseScope(scopeStr)
		m.CreatedAt = time.Unix(createdAt, 0)

		dist := 1.0
		if len(blob) > 0 {
			if vec, err := DecodeVector(blob); err == nil {
				if d, err := CosineDistance(queryVec, vec); err == nil {
					dist = d
				}
			} else {
				log.Printf("[memory] bad embedding blob for %d: %v", m.ID, err)
			}
		}

		lex := lexical[m.ID]
		if dist >= distanceCutoff && lex <= 0 {
			continue
		}

		hits = append(hits, ScoredMemory{
			Memory:         m,
			Score:          vectorWeight*(1-dist) + lexicalWeight*lex,
			CosineDistance: dist,
			LexicalRank:    lex,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > similarLimit {
		hits = hits[:similarLimit]
	}
	return hits, nil
}

// lexicalRanks maps memory id -> normalized bm25 rank in (0, 1] for rows
// matching the query; absent rows did not match.
func (s *Store) lexicalRanks(ctx context.Context, scope Scope, query string) (map[int64]float64, error) {
	match := ftsQuery(query)
	if match == "" {
		return map[int64]float64{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT f.rowid, bm25(memories_fts)
FROM memories_fts f
JOIN memories m ON m.id = f.rowid
WHERE memories_fts MATCH ? AND m.scope = ?`,
		match, scope.String())
	if err != nil {
		// An unparseable MATCH expression degrades to vector-only search.
		log.Printf("[memory] fts query failed for %q: %v", query, err)
		return map[int64]float64{}, nil
	}
	defer rows.Close()

	ranks := make(map[int64]float64)
	for rows.Next() {
		var id int64
		var bm25 float64
		if err := rows.Scan(&id, &bm25); err != nil {
			return nil, fmt.Errorf("scan fts row: %w", err)
		}
		// bm25() reports better matches as smaller (negative) values.
		raw := -bm25
		if raw < 0 {
			raw = 0
		}
		ranks[id] = raw / (raw + 1)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fts rows: %w", err)
	}
	return ranks, nil
}

// ftsQuery turns free text into an OR-of-phrases MATCH expression so user
// punctuation cannot break FTS5 syntax.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, " ")
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
