package vectorstore

import (
	"fmt"

	"github.com/google/uuid"
)

// Point identifiers are UUIDv5 hashes of the natural key, because qdrant
// only accepts integer or UUID point IDs. The natural key stays in the
// payload so nothing is lost to the hash.

// ChunkPointID returns the stable ID for a chunk.
func ChunkPointID(url string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#%d", url, chunkIndex))).String()
}

// CodeExamplePointID returns the stable ID for a code example.
func CodeExamplePointID(url string, exampleIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#code-%d", url, exampleIndex))).String()
}

// SourcePointID returns the stable ID for a source registry record.
func SourcePointID(sourceID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("source:"+sourceID)).String()
}
