package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kalambet/ethika/internal/resource"
)

// ErrNotFound is returned by Get for an unknown resource id.
var ErrNotFound = errors.New("resource not found")

// Store is the resource store consumed by the ranker and the engine.
type Store interface {
	Upsert(ctx context.Context, resources []resource.Resource) error
	Query(ctx context.Context, vector []float32, limit int, pred Predicate) ([]Hit, error)
	ListAll(ctx context.Context, limit int) ([]resource.Resource, error)
	Count(ctx context.Context) (int, error)
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps resources and their vectors in the resources table and
// answers similarity queries with a brute-force cosine scan.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB. The resources table must already
// exist (created via storage migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const resourceColumns = `id, title, author, url, type, tags, target_audience, institution, year,
	key_concepts, relevance, source_path, content, content_hash, embedding, embedding_model, created_at, updated_at`

// Upsert inserts or replaces resources. A resource with an empty Vector is
// stored as not yet indexed, unless its content hash matches the stored row,
// in which case the existing vector and its model are kept.
func (s *SQLiteStore) Upsert(ctx context.Context, resources []resource.Resource) error {
	if len(resources) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO resources (`+resourceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			url = excluded.url,
			type = excluded.type,
			tags = excluded.tags,
			target_audience = excluded.target_audience,
			institution = excluded.institution,
			year = excluded.year,
			key_concepts = excluded.key_concepts,
			relevance = excluded.relevance,
			source_path = excluded.source_path,
			content = excluded.content,
			embedding = CASE
				WHEN excluded.embedding IS NULL AND resources.content_hash = excluded.content_hash
				THEN resources.embedding
				ELSE excluded.embedding
			END,
			embedding_model = CASE
				WHEN excluded.embedding IS NULL AND resources.content_hash = excluded.content_hash
				THEN resources.embedding_model
				ELSE excluded.embedding_model
			END,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range resources {
		args, err := resourceArgs(r, now)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("upserting resource %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

func resourceArgs(r resource.Resource, now time.Time) ([]any, error) {
	tags, err := json.Marshal(nonNil(r.Tags))
	if err != nil {
		return nil, fmt.Errorf("encoding tags for %s: %w", r.ID, err)
	}
	audience, err := json.Marshal(nonNil(r.TargetAudience))
	if err != nil {
		return nil, fmt.Errorf("encoding target audience for %s: %w", r.ID, err)
	}
	concepts, err := json.Marshal(nonNil(r.KeyConcepts))
	if err != nil {
		return nil, fmt.Errorf("encoding key concepts for %s: %w", r.ID, err)
	}

	var blob any
	if len(r.Vector) > 0 {
		blob = encodeFloat32s(r.Vector)
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	hash := r.ContentHash
	if hash == "" {
		hash = resource.Hash(r)
	}

	return []any{
		r.ID, r.Title, r.Author, r.URL, r.Type, string(tags), string(audience), r.Institution, r.Year,
		string(concepts), r.Relevance, r.SourcePath, r.Content, hash, blob, r.EmbeddingModel,
		createdAt.UTC().Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	}, nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// SetEmbedding stores the vector model computed for a resource's current
// content.
func (s *SQLiteStore) SetEmbedding(ctx context.Context, id, model string, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("empty embedding for resource %s", id)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE resources SET embedding = ?, embedding_model = ?, updated_at = ? WHERE id = ?`,
		encodeFloat32s(vector), model, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("storing embedding for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// candidate holds only the ID and score during the scan phase of Query.
// Full records are fetched only for the top-K winners.
type candidate struct {
	ID    string
	Score float64
}

// Query returns at most limit hits among indexed resources satisfying pred,
// ordered by descending score and then ascending id. The predicate sees
// every metadata field but not Content or Vector. A stored vector whose
// length differs from vector fails the query with ErrStaleIndex.
func (s *SQLiteStore) Query(ctx context.Context, vector []float32, limit int, pred Predicate) ([]Hit, error) {
	if limit <= 0 {
		return nil, nil
	}
	if pred == nil {
		pred = MatchAll
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, author, url, type, tags, target_audience, institution, year,
			key_concepts, relevance, source_path, embedding
		FROM resources WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	queryNorm := norm(vector)
	h := &candidateHeap{}
	var buf []float32

	for rows.Next() {
		var r resource.Resource
		var tags, audience, concepts string
		var blob []byte
		if err := rows.Scan(&r.ID, &r.Title, &r.Author, &r.URL, &r.Type, &tags, &audience, &r.Institution,
			&r.Year, &concepts, &r.Relevance, &r.SourcePath, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if err := decodeSets(&r, tags, audience, concepts); err != nil {
			return nil, err
		}
		if !pred(r) {
			continue
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
		}
		if len(buf) != len(vector) {
			return nil, fmt.Errorf("%w: resource %s has %d dimensions, query has %d", ErrStaleIndex, r.ID, len(buf), len(vector))
		}

		c := candidate{ID: r.ID, Score: Score(cosine(vector, buf, queryNorm))}
		if h.Len() < limit {
			heap.Push(h, c)
		} else if better(c, (*h)[0]) {
			(*h)[0] = c
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	rows.Close()

	if h.Len() == 0 {
		return []Hit{}, nil
	}

	ranked := make([]candidate, h.Len())
	for i := len(ranked) - 1; i >= 0; i-- {
		ranked[i] = heap.Pop(h).(candidate)
	}

	ids := make([]string, len(ranked))
	for i, c := range ranked {
		ids[i] = c.ID
	}
	byID, err := s.getMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(ranked))
	for _, c := range ranked {
		r, ok := byID[c.ID]
		if !ok {
			// Deleted between scan and fetch.
			continue
		}
		hits = append(hits, Hit{ResourceID: c.ID, Score: c.Score, Resource: r})
	}
	return hits, nil
}

// Score maps cosine similarity in [-1,1] onto [0,1].
func Score(cos float64) float64 {
	s := (1 + cos) / 2
	return math.Max(0, math.Min(1, s))
}

// better orders candidates by score descending, then id ascending.
func better(a, b candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ID < b.ID
}

// Get returns a single resource by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (resource.Resource, error) {
	byID, err := s.getMany(ctx, []string{id})
	if err != nil {
		return resource.Resource{}, err
	}
	r, ok := byID[id]
	if !ok {
		return resource.Resource{}, ErrNotFound
	}
	return r, nil
}

func (s *SQLiteStore) getMany(ctx context.Context, ids []string) (map[string]resource.Resource, error) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+resourceColumns+`
		FROM resources WHERE id IN (?`+strings.Repeat(",?", len(ids)-1)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching resources by id: %w", err)
	}
	defer rows.Close()

	out := make(map[string]resource.Resource, len(ids))
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out[r.ID] = r
	}
	return out, rows.Err()
}

// ListAll returns resources in insertion order. A non-positive limit returns all.
func (s *SQLiteStore) ListAll(ctx context.Context, limit int) ([]resource.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources ORDER BY created_at ASC, id ASC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}
	defer rows.Close()

	out := []resource.Resource{}
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of resources that have an embedding.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources WHERE embedding IS NOT NULL`).Scan(&n)
	return n, err
}

// Total returns the number of stored resources, indexed or not.
func (s *SQLiteStore) Total(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources`).Scan(&n)
	return n, err
}

// IndexedHashes maps the id of every resource embedded by model to its
// content hash. Resources embedded by another model are left out so they
// get re-embedded.
func (s *SQLiteStore) IndexedHashes(ctx context.Context, model string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content_hash FROM resources
		WHERE embedding IS NOT NULL AND embedding_model = ?`, model)
	if err != nil {
		return nil, fmt.Errorf("querying content hashes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, err
		}
		out[id] = hash
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (resource.Resource, error) {
	var r resource.Resource
	var tags, audience, concepts, createdAt, updatedAt string
	var blob []byte
	if err := row.Scan(&r.ID, &r.Title, &r.Author, &r.URL, &r.Type, &tags, &audience, &r.Institution, &r.Year,
		&concepts, &r.Relevance, &r.SourcePath, &r.Content, &r.ContentHash, &blob, &r.EmbeddingModel, &createdAt, &updatedAt); err != nil {
		return resource.Resource{}, fmt.Errorf("scanning resource: %w", err)
	}
	if err := decodeSets(&r, tags, audience, concepts); err != nil {
		return resource.Resource{}, err
	}
	if blob != nil {
		vec, err := decodeFloat32s(blob)
		if err != nil {
			return resource.Resource{}, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
		}
		r.Vector = vec
	}
	var err error
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return resource.Resource{}, fmt.Errorf("parsing created_at for %s: %w", r.ID, err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return resource.Resource{}, fmt.Errorf("parsing updated_at for %s: %w", r.ID, err)
	}
	return r, nil
}

func decodeSets(r *resource.Resource, tags, audience, concepts string) error {
	if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
		return fmt.Errorf("decoding tags for %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(audience), &r.TargetAudience); err != nil {
		return fmt.Errorf("decoding target audience for %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(concepts), &r.KeyConcepts); err != nil {
		return fmt.Errorf("decoding key concepts for %s: %w", r.ID, err)
	}
	return nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
func decodeFloat32s(b []byte) ([]float32, error) {
	return decodeFloat32sInto(nil, b)
}

// decodeFloat32sInto decodes into buf, reusing it across rows of a scan.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosine computes dot(a,b) / (aNorm * |b|). Mismatched dimensions and zero
// vectors yield 0.
func cosine(a, b []float32, aNorm float64) float64 {
	if len(a) != len(b) || aNorm == 0 {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if bNormSq == 0 {
		return 0
	}
	return dot / (aNorm * math.Sqrt(bNormSq))
}

// candidateHeap keeps the current top-K with the weakest candidate at the root.
type candidateHeap []candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
