package kb

import "errors"

// Sentinel errors for registry operations. Check with errors.Is().
var (
	// ErrNotFound indicates the requested knowledge base does not exist.
	ErrNotFound = errors.New("knowledge base not found")

	// ErrEmptyName indicates a create request with no name.
	ErrEmptyName = errors.New("knowledge base name must not be empty")

	// ErrInvalidType indicates an unknown knowledge base type.
	ErrInvalidType = errors.New("invalid knowledge base type")

	// ErrInvalidChunkConfig indicates a degenerate chunk configuration.
	// chunkOverlap >= chunkSize would make the chunking window never
	// advance, so it is rejected at creation.
	ErrInvalidChunkConfig = errors.New("invalid chunk configuration")
)

// ValidateChunkConfig rejects configurations that cannot produce a
// terminating, covering chunking of a document.
func ValidateChunkConfig(cc ChunkConfig) error {
	if cc.Size <= 0 {
		return ErrInvalidChunkConfig
	}
	if cc.Overlap < 0 || cc.Overlap >= cc.Size {
		return ErrInvalidChunkConfig
	}
	return nil
}
