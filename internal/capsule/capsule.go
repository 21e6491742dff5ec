// Package capsule defines the knowledge capsule model: the immutable,
// signed question/answer record that main hubs generate and mini hubs
// cache, forward, and serve.
package capsule

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

var (
	ErrEmptyQuestion  = errors.New("capsule: question_text must not be empty")
	ErrEmptyAnswer    = errors.New("capsule: answer_text must not be empty")
	ErrEmptySourceID  = errors.New("capsule: source_id must not be empty")
	ErrBadQuestionHash = errors.New("capsule: question_hash does not match question_text")
	ErrSignatureInvalid = errors.New("capsule: signature verification failed")
)

// KnowledgeCapsule is the authoritative Q/A record signed by the main hub
// that generated it. CapsuleID is a UUIDv4; CreatedAt is milliseconds since
// the Unix epoch, UTC.
type KnowledgeCapsule struct {
	CapsuleID    string `json:"capsule_id"`
	QuestionText string `json:"question_text"`
	AnswerText   string `json:"answer_text"`
	QuestionHash string `json:"question_hash"`
	SourceID     string `json:"source_id"`
	CreatedAt    int64  `json:"created_at"`
	TTLSeconds   int64  `json:"ttl_seconds"`
	Signature    []byte `json:"signature"`

	// ErrorCode is set on capsules the main-hub generator emits when
	// Answer fails (§4.5): AnswerText is empty, ErrorCode carries the
	// machine-readable reason. It is not part of the signed payload —
	// mini hubs never cache ERROR capsules (only the issuing main hub's
	// own store keeps them, to resend on a retried query), so nothing
	// depends on binding the error into the signature.
	ErrorCode string `json:"error_code,omitempty"`
}

// NewError builds a signed ERROR capsule: an AnswerText-less capsule
// carrying errorCode, returned when Answer(question) fails. Mini hubs
// surface it as Unavailable(errorCode) and never cache it.
func NewError(questionText, sourceID, errorCode string, createdAtMillis int64, signKey ed25519.PrivateKey) (*KnowledgeCapsule, error) {
	if strings.TrimSpace(questionText) == "" {
		return nil, ErrEmptyQuestion
	}
	if sourceID == "" {
		return nil, ErrEmptySourceID
	}
	c := &KnowledgeCapsule{
		CapsuleID:    uuid.NewString(),
		QuestionText: questionText,
		AnswerText:   "",
		QuestionHash: QuestionHash(questionText),
		SourceID:     sourceID,
		CreatedAt:    createdAtMillis,
		TTLSeconds:   0,
		ErrorCode:    errorCode,
	}
	payload, err := c.canonicalBytes()
	if err != nil {
		return nil, err
	}
	c.Signature = ed25519.Sign(signKey, payload)
	return c, nil
}

// IsError reports whether this is an ERROR capsule (§4.5): never cached,
// surfaced to the caller as Unavailable(ErrorCode).
func (c *KnowledgeCapsule) IsError() bool {
	return c.ErrorCode != ""
}

// signingPayload carries exactly the fields covered by the signature, in
// the fixed field order the wire contract requires. encoding/json marshals
// struct fields in declaration order (unlike map keys), so this order is
// the canonical byte representation both signer and verifier compute.
// created_at is rendered as RFC3339 with millisecond precision and a Z
// suffix, per the wire contract, even though the in-memory field is an
// int64 millisecond count.
type signingPayload struct {
	CapsuleID    string `json:"capsule_id"`
	QuestionText string `json:"question_text"`
	AnswerText   string `json:"answer_text"`
	QuestionHash string `json:"question_hash"`
	SourceID     string `json:"source_id"`
	CreatedAt    string `json:"created_at"`
	TTLSeconds   int64  `json:"ttl_seconds"`
}

// millisToRFC3339 renders a Unix-millisecond timestamp in the wire format:
// RFC3339 with millisecond precision and a literal "Z" suffix.
func millisToRFC3339(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}

// New builds and signs a fresh capsule. createdAtMillis should be the
// current time in Unix milliseconds, supplied by the caller so this
// package stays free of wall-clock calls.
func New(questionText, answerText, sourceID string, createdAtMillis, ttlSeconds int64, signKey ed25519.PrivateKey) (*KnowledgeCapsule, error) {
	if strings.TrimSpace(questionText) == "" {
		return nil, ErrEmptyQuestion
	}
	if strings.TrimSpace(answerText) == "" {
		return nil, ErrEmptyAnswer
	}
	if sourceID == "" {
		return nil, ErrEmptySourceID
	}

	c := &KnowledgeCapsule{
		CapsuleID:    uuid.NewString(),
		QuestionText: questionText,
		AnswerText:   answerText,
		QuestionHash: QuestionHash(questionText),
		SourceID:     sourceID,
		CreatedAt:    createdAtMillis,
		TTLSeconds:   ttlSeconds,
	}

	payload, err := c.canonicalBytes()
	if err != nil {
		return nil, err
	}
	c.Signature = ed25519.Sign(signKey, payload)
	return c, nil
}

// QuestionHash computes the question_hash field: SHA-256 over a normalized
// form of the question (lowercased, internal whitespace runs collapsed to a
// single space, leading/trailing whitespace trimmed). No Unicode
// normalization (NFC or otherwise) is applied, so composed and decomposed
// spellings of the same text hash differently.
func QuestionHash(questionText string) string {
	sum := sha256.Sum256([]byte(NormalizeQuestion(questionText)))
	return hex.EncodeToString(sum[:])
}

// NormalizeQuestion canonicalizes a question string so that trivially
// different phrasings (case, stray whitespace) hash identically.
func NormalizeQuestion(questionText string) string {
	lowered := strings.ToLower(questionText)
	var b strings.Builder
	b.Grow(len(lowered))
	inSpace := false
	for _, r := range strings.TrimSpace(lowered) {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteRune(' ')
				inSpace = true
			}
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// canonicalBytes returns the exact byte sequence the signature covers.
func (c *KnowledgeCapsule) canonicalBytes() ([]byte, error) {
	payload := signingPayload{
		CapsuleID:    c.CapsuleID,
		QuestionText: c.QuestionText,
		AnswerText:   c.AnswerText,
		QuestionHash: c.QuestionHash,
		SourceID:     c.SourceID,
		CreatedAt:    millisToRFC3339(c.CreatedAt),
		TTLSeconds:   c.TTLSeconds,
	}
	return json.Marshal(payload)
}

// Verify checks internal consistency (question_hash matches question_text)
// and the Ed25519 signature against verifyKey.
func (c *KnowledgeCapsule) Verify(verifyKey ed25519.PublicKey) error {
	if QuestionHash(c.QuestionText) != c.QuestionHash {
		return ErrBadQuestionHash
	}
	payload, err := c.canonicalBytes()
	if err != nil {
		return fmt.Errorf("capsule: encode canonical payload: %w", err)
	}
	if !ed25519.Verify(verifyKey, payload, c.Signature) {
		return ErrSignatureInvalid
	}
	return nil
}

// ExpiresAt returns the Unix-millisecond instant this capsule's TTL elapses.
// A TTLSeconds of 0 expires immediately, at CreatedAt.
func (c *KnowledgeCapsule) ExpiresAt() int64 {
	return c.CreatedAt + c.TTLSeconds*1000
}

// IsExpired reports whether the capsule's TTL has elapsed as of nowMillis.
func (c *KnowledgeCapsule) IsExpired(nowMillis int64) bool {
	return nowMillis >= c.ExpiresAt()
}
