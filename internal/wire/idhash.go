package wire

import "github.com/zeebo/blake3"

// idHash derives the 16-byte src_id/dst_id wire form from a human-readable
// node identifier (e.g. "main-hub-1"): the first IDSize bytes of its
// BLAKE3-256 digest.
func idHash(nodeID string) [IDSize]byte {
	sum := blake3.Sum256([]byte(nodeID))
	var id [IDSize]byte
	copy(id[:], sum[:IDSize])
	return id
}

// ResolveID maps a wire-form hashed id back to a human-readable node id by
// checking it against a small known set of candidates. The wire format
// only carries the hash (§6), so a hub that wants to know which of its
// configured peers sent a packet must do this reverse lookup itself; at
// mesh scale (a handful of mini/main hubs) a linear scan is adequate.
func ResolveID(id [IDSize]byte, candidates []string) (string, bool) {
	for _, c := range candidates {
		if IDFromString(c) == id {
			return c, true
		}
	}
	return "", false
}
