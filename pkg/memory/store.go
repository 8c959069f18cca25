package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// SearchResult represents one knowledge-base hit with relevance scores.
type SearchResult struct {
	ChunkID      string   `json:"chunk_id"`
	Source       string   `json:"source"`
	Heading      string   `json:"heading,omitempty"`
	Content      string   `json:"content"`
	Score        float64  `json:"score"`
	VectorScore  *float64 `json:"vector_score,omitempty"`
	KeywordScore *float64 `json:"keyword_score,omitempty"`
}

// SearchOptions configures search behavior
type SearchOptions struct {
	Limit         int     `json:"limit"`
	VectorWeight  float64 `json:"vector_weight"`
	KeywordWeight float64 `json:"keyword_weight"`
	MinScore      float64 `json:"min_score"`
}

// Store indexes knowledge-base documents and serves hybrid search.
type Store struct {
	db       *sql.DB
	docsDir  string
	logger   zerolog.Logger
	embedder EmbeddingProvider

	mu     sync.Mutex
	synced bool
}

// Config holds store configuration.
type Config struct {
	DocsDir  string
	DBPath   string
	Logger   zerolog.Logger
	Embedder EmbeddingProvider // Optional, nil disables vector search
}

// NewStore creates a knowledge-base store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.DocsDir == "" {
		return nil, errors.New("docs directory is required")
	}
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_fts5=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:       db,
		docsDir:  cfg.DocsDir,
		logger:   cfg.Logger,
		embedder: cfg.Embedder,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT NOT NULL UNIQUE,
			content_hash TEXT NOT NULL,
			indexed_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id INTEGER NOT NULL,
			heading TEXT,
			content TEXT NOT NULL,
			FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

		CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			chunk_id UNINDEXED,
			content,
			tokenize='porter unicode61'
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if s.embedder != nil {
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS embeddings USING vec0(
				chunk_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, s.embedder.Dimension())
		if _, err := s.db.Exec(vectorSchema); err != nil {
			return fmt.Errorf("failed to create vector table: %w", err)
		}
	}

	return nil
}

// Sync indexes new and changed documents under the docs directory.
// Supported extensions: .md and .txt.
func (s *Store) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	indexed := 0
	err := filepath.WalkDir(s.docsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}

		changed, err := s.indexDocument(ctx, path)
		if err != nil {
			return fmt.Errorf("failed to index %s: %w", path, err)
		}
		if changed {
			indexed++
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.synced = true
	s.logger.Info().Int("indexed", indexed).Msg("Knowledge base synced")
	return nil
}

// indexDocument indexes one file, returning true when it was (re)indexed.
func (s *Store) indexDocument(ctx context.Context, path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}

	hash := sha256.Sum256(data)
	contentHash := hex.EncodeToString(hash[:])

	rel, err := filepath.Rel(s.docsDir, path)
	if err != nil {
		rel = path
	}

	var docID int64
	var existingHash string
	row := s.db.QueryRow(`SELECT id, content_hash FROM documents WHERE path = ?`, rel)
	switch err := row.Scan(&docID, &existingHash); {
	case err == sql.ErrNoRows:
		// New document
	case err != nil:
		return false, err
	case existingHash == contentHash:
		return false, nil
	default:
		// Changed: drop old chunks before re-indexing
		if err := s.removeChunks(docID); err != nil {
			return false, err
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	if docID == 0 {
		result, err := tx.Exec(`INSERT INTO documents (path, content_hash, indexed_at) VALUES (?, ?, ?)`,
			rel, contentHash, now)
		if err != nil {
			return false, err
		}
		docID, _ = result.LastInsertId()
	} else {
		if _, err := tx.Exec(`UPDATE documents SET content_hash = ?, indexed_at = ? WHERE id = ?`,
			contentHash, now, docID); err != nil {
			return false, err
		}
	}

	chunks := splitDocument(string(data))
	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		id := uuid.NewString()
		ids[i] = id
		if _, err := tx.Exec(`INSERT INTO chunks (id, document_id, heading, content) VALUES (?, ?, ?, ?)`,
			id, docID, chunk.heading, chunk.content); err != nil {
			return false, err
		}
		if _, err := tx.Exec(`INSERT INTO chunks_fts (chunk_id, content) VALUES (?, ?)`,
			id, chunk.content); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	if s.embedder != nil && len(chunks) > 0 {
		if err := s.embedChunks(ctx, ids, chunks); err != nil {
			// Keyword search still works, keep going
			s.logger.Warn().Str("path", rel).Err(err).Msg("Failed to embed chunks")
		}
	}

	s.logger.Debug().Str("path", rel).Int("chunks", len(chunks)).Msg("Document indexed")
	return true, nil
}

func (s *Store) removeChunks(docID int64) error {
	rows, err := s.db.Query(`SELECT id FROM chunks WHERE document_id = ?`, docID)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if _, err := s.db.Exec(`DELETE FROM chunks_fts WHERE chunk_id = ?`, id); err != nil {
			return err
		}
		if s.embedder != nil {
			if _, err := s.db.Exec(`DELETE FROM embeddings WHERE chunk_id = ?`, id); err != nil {
				return err
			}
		}
	}
	_, err = s.db.Exec(`DELETE FROM chunks WHERE document_id = ?`, docID)
	return err
}

func (s *Store) embedChunks(ctx context.Context, ids []string, chunks []docChunk) error {
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.content
	}

	embeddings, err := s.embedder.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return err
	}

	for i, embedding := range embeddings {
		data, err := json.Marshal(embedding)
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(`INSERT INTO embeddings (chunk_id, embedding) VALUES (?, ?)`,
			ids[i], string(data)); err != nil {
			return err
		}
	}
	return nil
}

// Search performs hybrid vector + keyword search.
func (s *Store) Search(ctx context.Context, query string, opts *SearchOptions) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []SearchResult{}, nil
	}

	if opts == nil {
		opts = &SearchOptions{Limit: 10, VectorWeight: 0.7, KeywordWeight: 0.3}
	}

	s.mu.Lock()
	synced := s.synced
	s.mu.Unlock()
	if !synced {
		if err := s.Sync(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Sync failed before search")
		}
	}

	var vectorResults map[string]float64
	var keywordResults map[string]float64
	var vectorErr, keywordErr error

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if s.embedder != nil {
			vectorResults, vectorErr = s.vectorSearch(ctx, query, 100)
		}
	}()
	go func() {
		defer wg.Done()
		keywordResults, keywordErr = s.keywordSearch(query, 100)
	}()
	wg.Wait()

	if vectorErr != nil {
		s.logger.Warn().Err(vectorErr).Msg("Vector search failed, using keyword only")
	}
	if keywordErr != nil {
		s.logger.Warn().Err(keywordErr).Msg("Keyword search failed, using vector only")
	}
	if s.embedder != nil && vectorErr != nil && keywordErr != nil {
		return nil, fmt.Errorf("both search methods failed")
	}
	if s.embedder == nil && keywordErr != nil {
		return nil, keywordErr
	}

	results, err := s.mergeResults(vectorResults, keywordResults, opts)
	if err != nil {
		return nil, err
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	s.logger.Debug().Str("query", query).Int("results", len(results)).Msg("Search completed")
	return results, nil
}

// SearchText returns formatted text snippets for the top hits. It
// implements the FAQ searcher interface the support tools use.
func (s *Store) SearchText(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 3
	}

	results, err := s.Search(ctx, query, &SearchOptions{
		Limit:         limit,
		VectorWeight:  0.7,
		KeywordWeight: 0.3,
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(results))
	for _, r := range results {
		if r.Heading != "" {
			out = append(out, fmt.Sprintf("[%s] %s", r.Heading, r.Content))
		} else {
			out = append(out, r.Content)
		}
	}
	return out, nil
}

func (s *Store) vectorSearch(ctx context.Context, query string, limit int) (map[string]float64, error) {
	embedding, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, vec_distance_cosine(embedding, ?) as distance
		FROM embeddings
		ORDER BY distance ASC
		LIMIT ?
	`, string(embeddingJSON), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make(map[string]float64)
	for rows.Next() {
		var chunkID string
		var distance float64
		if err := rows.Scan(&chunkID, &distance); err != nil {
			return nil, err
		}
		// cosine distance in [0,2] → similarity in [-1,1]
		results[chunkID] = 1.0 - distance
	}
	return results, rows.Err()
}

func (s *Store) keywordSearch(query string, limit int) (map[string]float64, error) {
	rows, err := s.db.Query(`
		SELECT chunk_id, bm25(chunks_fts) as score
		FROM chunks_fts
		WHERE chunks_fts MATCH ?
		ORDER BY score
		LIMIT ?
	`, ftsQuery(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make(map[string]float64)
	for rows.Next() {
		var chunkID string
		var score float64
		if err := rows.Scan(&chunkID, &score); err != nil {
			return nil, err
		}
		// BM25 scores are negative, convert to positive
		results[chunkID] = -score
	}
	return results, rows.Err()
}

// ftsQuery quotes each term so user punctuation cannot break the FTS5
// query syntax.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func (s *Store) mergeResults(vectorResults, keywordResults map[string]float64, opts *SearchOptions) ([]SearchResult, error) {
	var maxKeyword float64
	for _, score := range keywordResults {
		if score > maxKeyword {
			maxKeyword = score
		}
	}

	chunkIDs := make(map[string]bool)
	for id := range vectorResults {
		chunkIDs[id] = true
	}
	for id := range keywordResults {
		chunkIDs[id] = true
	}

	var results []SearchResult
	for chunkID := range chunkIDs {
		var normalizedVector, normalizedKeyword float64
		var vectorScore, keywordScore *float64

		if similarity, ok := vectorResults[chunkID]; ok {
			normalizedVector = (similarity + 1) / 2
			v := similarity
			vectorScore = &v
		}
		if score, ok := keywordResults[chunkID]; ok && maxKeyword > 0 {
			normalizedKeyword = score / maxKeyword
			k := score
			keywordScore = &k
		}

		combined := normalizedVector*opts.VectorWeight + normalizedKeyword*opts.KeywordWeight
		if opts.MinScore > 0 && combined < opts.MinScore {
			continue
		}

		heading, content, source, err := s.lookupChunk(chunkID)
		if err != nil {
			return nil, err
		}

		results = append(results, SearchResult{
			ChunkID:      chunkID,
			Source:       source,
			Heading:      heading,
			Content:      content,
			Score:        combined,
			VectorScore:  vectorScore,
			KeywordScore: keywordScore,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

func (s *Store) lookupChunk(chunkID string) (heading, content, source string, err error) {
	row := s.db.QueryRow(`
		SELECT COALESCE(c.heading, ''), c.content, d.path
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.id = ?
	`, chunkID)
	if err := row.Scan(&heading, &content, &source); err != nil {
		return "", "", "", fmt.Errorf("failed to look up chunk %s: %w", chunkID, err)
	}
	return heading, content, source, nil
}
