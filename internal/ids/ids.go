// Package ids provides deterministic identifiers for vector index entries
// and watched files.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

// namespace scopes chunk UUIDs so they never collide with other UUIDv5 users.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("docrag:chunk"))

// ChunkID returns a stable UUID for chunk index of a document. The same
// pair always yields the same ID, so re-upserting a chunk replaces it.
func ChunkID(documentID int64, index int) string {
	name := strconv.FormatInt(documentID, 10) + ":" + strconv.Itoa(index)
	return uuid.NewSHA1(namespace, []byte(name)).String()
}

// PathKey returns a stable key for a file path; same path always yields the same key.
func PathKey(path string) string {
	hash := sha256.Sum256([]byte(filepath.Clean(path)))
	return "file:" + hex.EncodeToString(hash[:])
}
