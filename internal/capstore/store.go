// Package capstore implements the capsule store: a durable, append-only
// relation keyed by capsule_id with a secondary index on question_hash
// (§4.3).
package capstore

import (
	"crypto/ed25519"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/capsulemesh/hub/internal/capsule"
)

var (
	ErrStoreIO          = errors.New("capstore: STORE_IO_FAIL")
	ErrSignatureInvalid = errors.New("capstore: rejected, signature invalid")
	ErrNotFound         = errors.New("capstore: capsule not found")
	ErrSourceMismatch   = errors.New("capstore: rejected, capsule_id already held under a different source_id")
)

// Store is the SQLite-backed capsule relation. Reads share the read lock
// and writes (Put, Sweep) hold the write lock, per §5's reader/writer
// discipline; the database handle is limited to one connection, so
// queries still run one at a time.
type Store struct {
	db      *sql.DB
	mu      sync.RWMutex
	nodeID  string
	signKey ed25519.PrivateKey
}

// Open creates or attaches to the SQLite database at path.
func Open(path, nodeID string, signKey ed25519.PrivateKey) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrStoreIO, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, nodeID: nodeID, signKey: signKey}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS capsules (
			capsule_id    TEXT PRIMARY KEY,
			question_text TEXT NOT NULL,
			answer_text   TEXT NOT NULL,
			question_hash TEXT NOT NULL,
			source_id     TEXT NOT NULL,
			created_at    INTEGER NOT NULL,
			ttl_seconds   INTEGER NOT NULL,
			signature     BLOB NOT NULL,
			error_code    TEXT NOT NULL DEFAULT '',
			received_at   INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_capsules_question_hash ON capsules(question_hash);
		CREATE INDEX IF NOT EXISTS idx_capsules_created_at ON capsules(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("%w: init schema: %v", ErrStoreIO, err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Put verifies c's signature against verifyKey and inserts it, per §4.3:
// an invalid signature is rejected outright; a capsule_id already present
// under the same source_id keeps the earlier record (capsules are
// immutable by identity); a capsule_id already present under a
// different source_id is a collision treated as untrusted and rejected
// with ErrSourceMismatch rather than silently ignored.
func (s *Store) Put(c *capsule.KnowledgeCapsule, verifyKey ed25519.PublicKey, receivedAtMillis int64) error {
	if err := c.Verify(verifyKey); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var existingSource string
	err := s.db.QueryRow(`SELECT source_id FROM capsules WHERE capsule_id = ?`, c.CapsuleID).Scan(&existingSource)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: check existing capsule: %v", ErrStoreIO, err)
	}
	if err == nil && existingSource != c.SourceID {
		return fmt.Errorf("%w: capsule_id %s held under %q, got %q", ErrSourceMismatch, c.CapsuleID, existingSource, c.SourceID)
	}

	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO capsules
		 (capsule_id, question_text, answer_text, question_hash, source_id, created_at, ttl_seconds, signature, error_code, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CapsuleID, c.QuestionText, c.AnswerText, c.QuestionHash, c.SourceID,
		c.CreatedAt, c.TTLSeconds, c.Signature, c.ErrorCode, receivedAtMillis,
	)
	if err != nil {
		return fmt.Errorf("%w: insert capsule: %v", ErrStoreIO, err)
	}
	return nil
}

// GetByID performs an O(1) lookup by primary key.
func (s *Store) GetByID(capsuleID string) (*capsule.KnowledgeCapsule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT capsule_id, question_text, answer_text, question_hash, source_id, created_at, ttl_seconds, signature, error_code
	                       FROM capsules WHERE capsule_id = ?`, capsuleID)
	return scanCapsule(row)
}

// FindByQuestion returns the newest fresh capsule whose question_hash
// matches question's normalized hash, or ErrNotFound.
func (s *Store) FindByQuestion(question string, nowMillis int64) (*capsule.KnowledgeCapsule, error) {
	hash := capsule.QuestionHash(question)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT capsule_id, question_text, answer_text, question_hash, source_id, created_at, ttl_seconds, signature, error_code
		 FROM capsules WHERE question_hash = ? ORDER BY created_at DESC`, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: query by question_hash: %v", ErrStoreIO, err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCapsuleRows(rows)
		if err != nil {
			return nil, err
		}
		if !c.IsError() && !c.IsExpired(nowMillis) {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

// Manifest returns a signed manifest listing all currently-fresh capsules
// this store holds, ordered by created_at ascending (§4.3).
func (s *Store) Manifest(generatedAtMillis int64) (*capsule.Manifest, error) {
	s.mu.RLock()
	rows, err := s.db.Query(
		`SELECT capsule_id, question_hash, created_at, ttl_seconds FROM capsules
		 WHERE error_code = '' ORDER BY created_at ASC`)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("%w: query for manifest: %v", ErrStoreIO, err)
	}
	defer rows.Close()

	var entries []capsule.ManifestEntry
	for rows.Next() {
		var e capsule.ManifestEntry
		if err := rows.Scan(&e.CapsuleID, &e.QuestionHash, &e.CreatedAt, &e.TTLSeconds); err != nil {
			return nil, fmt.Errorf("%w: scan manifest entry: %v", ErrStoreIO, err)
		}
		if e.CreatedAt+e.TTLSeconds*1000 > generatedAtMillis {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt < entries[j].CreatedAt })

	return capsule.NewManifest(s.nodeID, generatedAtMillis, entries, s.signKey)
}

// Sweep removes capsules expired as of nowMillis, returning the count
// removed.
func (s *Store) Sweep(nowMillis int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM capsules WHERE created_at + ttl_seconds * 1000 <= ?`, nowMillis)
	if err != nil {
		return 0, fmt.Errorf("%w: sweep expired capsules: %v", ErrStoreIO, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %v", ErrStoreIO, err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCapsule(row *sql.Row) (*capsule.KnowledgeCapsule, error) {
	return scanCapsuleRows(row)
}

func scanCapsuleRows(row rowScanner) (*capsule.KnowledgeCapsule, error) {
	var c capsule.KnowledgeCapsule
	var sigHex []byte
	err := row.Scan(&c.CapsuleID, &c.QuestionText, &c.AnswerText, &c.QuestionHash, &c.SourceID,
		&c.CreatedAt, &c.TTLSeconds, &sigHex, &c.ErrorCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan capsule: %v", ErrStoreIO, err)
	}
	c.Signature = sigHex
	return &c, nil
}
