package ids

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestChunkID(t *testing.T) {
	a := ChunkID(1, 0)
	if a != ChunkID(1, 0) {
		t.Error("same document and index should give same ID")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("ChunkID should be a UUID: %v", err)
	}
	seen := map[string]bool{}
	for doc := int64(1); doc <= 20; doc++ {
		for i := 0; i < 20; i++ {
			id := ChunkID(doc, i)
			if seen[id] {
				t.Fatalf("duplicate ID for %d:%d", doc, i)
			}
			seen[id] = true
		}
	}
	// 1:10 and 11:0 must not collide through string concatenation.
	if ChunkID(1, 10) == ChunkID(11, 0) {
		t.Error("IDs collide across documents")
	}
}

func TestPathKey(t *testing.T) {
	k := PathKey("/foo/bar.txt")
	if k != PathKey("/foo/bar.txt") {
		t.Error("same path should give same key")
	}
	if !strings.HasPrefix(k, "file:") {
		t.Errorf("missing prefix: %q", k)
	}
	if PathKey("/foo/bar.txt") == PathKey("/foo/baz.txt") {
		t.Error("different paths should give different keys")
	}
	if PathKey("/foo/bar") != PathKey("/foo/./bar/") {
		t.Error("paths should be cleaned before hashing")
	}
}
