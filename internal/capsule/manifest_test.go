package capsule

import (
	"testing"

	"github.com/capsulemesh/hub/internal/capcrypto"
)

func TestNewManifest_SignsAndVerifies(t *testing.T) {
	kp, _ := capcrypto.GenerateEd25519()
	entries := []ManifestEntry{
		{CapsuleID: "a", QuestionHash: "hash-a", CreatedAt: 1, TTLSeconds: 60},
		{CapsuleID: "b", QuestionHash: "hash-b", CreatedAt: 2, TTLSeconds: 60},
	}

	m, err := NewManifest("main-hub-1", 100, entries, kp.PrivateKey)
	if err != nil {
		t.Fatalf("NewManifest failed: %v", err)
	}
	if err := m.Verify(kp.PublicKey); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
}

func TestManifest_Diff(t *testing.T) {
	local := &Manifest{Entries: []ManifestEntry{
		{CapsuleID: "a"},
		{CapsuleID: "b"},
	}}
	remote := &Manifest{Entries: []ManifestEntry{
		{CapsuleID: "a"},
		{CapsuleID: "c"},
		{CapsuleID: "d"},
	}}

	missing := local.Diff(remote)
	if len(missing) != 2 {
		t.Fatalf("expected 2 missing entries, got %d", len(missing))
	}
	ids := map[string]bool{missing[0].CapsuleID: true, missing[1].CapsuleID: true}
	if !ids["c"] || !ids["d"] {
		t.Errorf("expected missing entries c and d, got %v", ids)
	}
}

func TestManifest_Diff_EmptyWhenIdentical(t *testing.T) {
	entries := []ManifestEntry{{CapsuleID: "a"}, {CapsuleID: "b"}}
	local := &Manifest{Entries: entries}
	remote := &Manifest{Entries: entries}

	if missing := local.Diff(remote); len(missing) != 0 {
		t.Errorf("expected no missing entries, got %d", len(missing))
	}
}
