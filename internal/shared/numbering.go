package shared

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NumberGenerator issues human-readable document numbers. Implementations must
// never return the same number twice for a prefix.
type NumberGenerator interface {
	Next(ctx context.Context, prefix string) (string, error)
}

// FormatNumber renders PREFIX-YYYYMMDD-NNNNNN.
func FormatNumber(prefix string, day time.Time, seq int64) string {
	return fmt.Sprintf("%s-%s-%06d", prefix, day.UTC().Format("20060102"), seq)
}

// SequenceGenerator draws numbers from the document_sequences table. The upsert
// increments under the row lock, so concurrent callers always get distinct values.
type SequenceGenerator struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewSequenceGenerator constructs a SequenceGenerator.
func NewSequenceGenerator(pool *pgxpool.Pool) *SequenceGenerator {
	return &SequenceGenerator{pool: pool, now: time.Now}
}

// Next returns the next number for prefix on the current UTC day.
func (g *SequenceGenerator) Next(ctx context.Context, prefix string) (string, error) {
	if g == nil || g.pool == nil {
		return "", errors.New("sequence generator not initialised")
	}
	if prefix == "" {
		return "", errors.New("sequence prefix required")
	}
	day := g.now().UTC()
	var seq int64
	err := g.pool.QueryRow(ctx, `INSERT INTO document_sequences (prefix, day, last_value) VALUES ($1, $2, 1)
ON CONFLICT (prefix, day) DO UPDATE SET last_value = document_sequences.last_value + 1
RETURNING last_value`, prefix, day.Format("2006-01-02")).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("shared: next sequence %s: %w", prefix, err)
	}
	return FormatNumber(prefix, day, seq), nil
}

// MemorySequence is an in-process NumberGenerator.
type MemorySequence struct {
	mu   sync.Mutex
	last map[string]int64
	Now  func() time.Time
}

// NewMemorySequence constructs a MemorySequence.
func NewMemorySequence() *MemorySequence {
	return &MemorySequence{last: make(map[string]int64), Now: time.Now}
}

// Next returns the next number for prefix.
func (m *MemorySequence) Next(_ context.Context, prefix string) (string, error) {
	if prefix == "" {
		return "", errors.New("sequence prefix required")
	}
	day := m.Now().UTC()
	key := prefix + ":" + day.Format("20060102")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[key]++
	return FormatNumber(prefix, day, m.last[key]), nil
}
