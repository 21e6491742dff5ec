package capstore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/capsulemesh/hub/internal/capcrypto"
	"github.com/capsulemesh/hub/internal/capsule"
)

func openTestStore(t *testing.T) (*Store, *capcrypto.Ed25519KeyPair) {
	t.Helper()
	kp, err := capcrypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	s, err := Open(filepath.Join(t.TempDir(), "capstore.db"), "main-1", kp.PrivateKey)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, kp
}

func TestPut_RejectsInvalidSignature(t *testing.T) {
	s, kp := openTestStore(t)
	c, err := capsule.New("What is the capital of Peru?", "Lima", "main-1", 1000, 3600, kp.PrivateKey)
	if err != nil {
		t.Fatalf("build capsule: %v", err)
	}
	c.Signature[0] ^= 0xFF

	if err := s.Put(c, kp.PublicKey, 1000); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
	if _, err := s.GetByID(c.CapsuleID); !errors.Is(err, ErrNotFound) {
		t.Errorf("tampered capsule must not be stored, got %v", err)
	}
}

func TestPut_DuplicateSameSourceIsIdempotent(t *testing.T) {
	s, kp := openTestStore(t)
	c, err := capsule.New("What is the boiling point of water?", "100C at sea level", "main-1", 1000, 3600, kp.PrivateKey)
	if err != nil {
		t.Fatalf("build capsule: %v", err)
	}

	if err := s.Put(c, kp.PublicKey, 1000); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if err := s.Put(c, kp.PublicKey, 1000); err != nil {
		t.Fatalf("second put (same source) should be a no-op, got %v", err)
	}

	got, err := s.GetByID(c.CapsuleID)
	if err != nil {
		t.Fatalf("get after duplicate put: %v", err)
	}
	if got.AnswerText != c.AnswerText {
		t.Errorf("expected original answer preserved, got %q", got.AnswerText)
	}
}

func TestPut_RejectsCapsuleIDCollisionUnderDifferentSource(t *testing.T) {
	s, kp := openTestStore(t)
	other, err := capcrypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("generate second keypair: %v", err)
	}

	original, err := capsule.New("What year did the war end?", "1945", "main-1", 1000, 3600, kp.PrivateKey)
	if err != nil {
		t.Fatalf("build original: %v", err)
	}
	if err := s.Put(original, kp.PublicKey, 1000); err != nil {
		t.Fatalf("put original: %v", err)
	}

	forged, err := capsule.New("Something else entirely", "forged answer", "rogue-node", 2000, 3600, other.PrivateKey)
	if err != nil {
		t.Fatalf("build forged: %v", err)
	}
	forged.CapsuleID = original.CapsuleID

	if err := s.Put(forged, other.PublicKey, 2000); !errors.Is(err, ErrSourceMismatch) {
		t.Fatalf("expected ErrSourceMismatch, got %v", err)
	}

	got, err := s.GetByID(original.CapsuleID)
	if err != nil {
		t.Fatalf("get after rejected collision: %v", err)
	}
	if got.AnswerText != original.AnswerText {
		t.Errorf("collision must not overwrite the held record, got %q", got.AnswerText)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	s, _ := openTestStore(t)
	if _, err := s.GetByID("does-not-exist"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFindByQuestion_MatchesByNormalizedHashAndSkipsExpiredAndError(t *testing.T) {
	s, kp := openTestStore(t)

	fresh, err := capsule.New("What is the speed of light?", "299792458 m/s", "main-1", 1000, 3600, kp.PrivateKey)
	if err != nil {
		t.Fatalf("build fresh: %v", err)
	}
	if err := s.Put(fresh, kp.PublicKey, 1000); err != nil {
		t.Fatalf("put fresh: %v", err)
	}

	expired, err := capsule.New("What is the speed of light?", "stale answer", "main-1", 1000, 1, kp.PrivateKey)
	if err != nil {
		t.Fatalf("build expired: %v", err)
	}
	// created_at + ttl_seconds*1000 = 2000, so it reads as expired at nowMillis=3000.
	if err := s.Put(expired, kp.PublicKey, 1000); err != nil {
		t.Fatalf("put expired: %v", err)
	}

	errCapsule, err := capsule.NewError("What is the speed of light?", "main-1", "ANSWER_FAIL", 1000, kp.PrivateKey)
	if err != nil {
		t.Fatalf("build error capsule: %v", err)
	}
	if err := s.Put(errCapsule, kp.PublicKey, 1000); err != nil {
		t.Fatalf("put error capsule: %v", err)
	}

	got, err := s.FindByQuestion("  WHAT is the   speed of light?  ", 3000)
	if err != nil {
		t.Fatalf("find by question: %v", err)
	}
	if got.CapsuleID != fresh.CapsuleID {
		t.Errorf("expected the fresh capsule %q, got %q", fresh.CapsuleID, got.CapsuleID)
	}
}

func TestFindByQuestion_NotFoundWhenNoneMatch(t *testing.T) {
	s, _ := openTestStore(t)
	if _, err := s.FindByQuestion("nothing stored for this", 1000); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestManifest_ExcludesErrorAndExpiredCapsules(t *testing.T) {
	s, kp := openTestStore(t)

	fresh, err := capsule.New("Manifest question one", "answer one", "main-1", 1000, 3600, kp.PrivateKey)
	if err != nil {
		t.Fatalf("build fresh: %v", err)
	}
	if err := s.Put(fresh, kp.PublicKey, 1000); err != nil {
		t.Fatalf("put fresh: %v", err)
	}

	expired, err := capsule.New("Manifest question two", "answer two", "main-1", 1000, 1, kp.PrivateKey)
	if err != nil {
		t.Fatalf("build expired: %v", err)
	}
	if err := s.Put(expired, kp.PublicKey, 1000); err != nil {
		t.Fatalf("put expired: %v", err)
	}

	errCapsule, err := capsule.NewError("Manifest question three", "main-1", "ANSWER_FAIL", 1000, kp.PrivateKey)
	if err != nil {
		t.Fatalf("build error capsule: %v", err)
	}
	if err := s.Put(errCapsule, kp.PublicKey, 1000); err != nil {
		t.Fatalf("put error capsule: %v", err)
	}

	m, err := s.Manifest(3000)
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if len(m.Entries) != 1 || m.Entries[0].CapsuleID != fresh.CapsuleID {
		t.Fatalf("expected manifest to hold only %q, got %+v", fresh.CapsuleID, m.Entries)
	}
	if err := m.Verify(kp.PublicKey); err != nil {
		t.Errorf("manifest signature should verify: %v", err)
	}
}

func TestSweep_RemovesOnlyExpiredCapsules(t *testing.T) {
	s, kp := openTestStore(t)

	fresh, err := capsule.New("Sweep question kept", "kept", "main-1", 1000, 3600, kp.PrivateKey)
	if err != nil {
		t.Fatalf("build fresh: %v", err)
	}
	if err := s.Put(fresh, kp.PublicKey, 1000); err != nil {
		t.Fatalf("put fresh: %v", err)
	}

	expired, err := capsule.New("Sweep question removed", "removed", "main-1", 1000, 1, kp.PrivateKey)
	if err != nil {
		t.Fatalf("build expired: %v", err)
	}
	if err := s.Put(expired, kp.PublicKey, 1000); err != nil {
		t.Fatalf("put expired: %v", err)
	}

	removed, err := s.Sweep(3000)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 capsule removed, got %d", removed)
	}
	if _, err := s.GetByID(expired.CapsuleID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired capsule should be gone, got %v", err)
	}
	if _, err := s.GetByID(fresh.CapsuleID); err != nil {
		t.Errorf("fresh capsule should survive the sweep: %v", err)
	}
}
