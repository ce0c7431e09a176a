package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// The vec0 virtual table backs nearest-neighbour fact lookup for the
// online-synthesis dedupe path. It is created lazily on the first
// embedding write because the dimension depends on the provider.

// EnsureVectorIndex creates the fact embedding index for the given
// dimension if it does not exist yet.
func (s *Store) EnsureVectorIndex(dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	_, err := s.db.Exec(fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS fact_embeddings USING vec0(
			fact_id TEXT PRIMARY KEY,
			embedding float[%d]
		)
	`, dim))
	if err != nil {
		return s.checkFatal(fmt.Errorf("store: create vector index: %w", err))
	}
	return nil
}

// UpsertFactEmbedding stores a fact's embedding in both the canonical
// BLOB column and the vec0 index.
func (s *Store) UpsertFactEmbedding(factID string, vec []float32) error {
	if len(vec) == 0 {
		return nil
	}
	if err := s.EnsureVectorIndex(len(vec)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	if _, err := s.db.Exec(`UPDATE facts SET embedding = ? WHERE id = ?`,
		encodeVector(vec), factID); err != nil {
		return s.checkFatal(fmt.Errorf("store: store embedding: %w", err))
	}

	if _, err := s.db.Exec(`DELETE FROM fact_embeddings WHERE fact_id = ?`, factID); err != nil {
		return s.checkFatal(fmt.Errorf("store: clear embedding row: %w", err))
	}
	if _, err := s.db.Exec(`
		INSERT INTO fact_embeddings (fact_id, embedding) VALUES (?, ?)
	`, factID, vectorJSON(vec)); err != nil {
		return s.checkFatal(fmt.Errorf("store: index embedding: %w", err))
	}
	return nil
}

// NearestFact holds one KNN result.
type NearestFact struct {
	FactID   string
	Distance float64
}

// NearestFacts runs a KNN query over the embedding index. Returns nil
// when no index exists yet.
func (s *Store) NearestFacts(vec []float32, k int) ([]NearestFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 {
		k = 5
	}
	rows, err := s.db.Query(`
		SELECT fact_id, distance FROM fact_embeddings
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance
	`, vectorJSON(vec), k)
	if err != nil {
		// Index not created yet: no embeddings stored.
		return nil, nil
	}
	defer rows.Close()

	var out []NearestFact
	for rows.Next() {
		var nf NearestFact
		if err := rows.Scan(&nf.FactID, &nf.Distance); err != nil {
			return nil, fmt.Errorf("store: scan knn row: %w", err)
		}
		out = append(out, nf)
	}
	return out, rows.Err()
}

// encodeVector packs float32s little-endian for the BLOB column.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// vectorJSON renders the vec0 query/insert form.
func vectorJSON(vec []float32) string {
	b, _ := json.Marshal(vec)
	return string(b)
}
