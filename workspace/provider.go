package workspace

import "context"

// Provider is the abstract content-addressed storage backend a Workspace
// URI resolves through. Implementations must be safe for concurrent use —
// the kernel's only blocking, side-effecting surface lives here.
type Provider interface {
	// Resolve returns an opaque backend handle for uri (e.g. an absolute
	// path). Does not require the object to exist.
	Resolve(uri URI) (string, error)

	// Store writes data under namespace using content-addressed naming and
	// returns the URI it was written to. Identical bytes stored repeatedly
	// in the same namespace produce the same URI.
	Store(ctx context.Context, namespace string, data []byte) (URI, error)

	// StoreAt writes data to the exact URI uri. Write-once: implementations
	// should refuse to overwrite an existing object.
	StoreAt(ctx context.Context, uri URI, data []byte) error

	// Retrieve returns the bytes stored at uri, or NotFound.
	Retrieve(ctx context.Context, uri URI) ([]byte, error)

	// Exists reports whether uri currently resolves to an object.
	Exists(ctx context.Context, uri URI) (bool, error)

	// Size returns the byte length of the object at uri, or NotFound.
	Size(ctx context.Context, uri URI) (uint64, error)

	// Hash returns the lowercase hex SHA-256 of the object at uri, or
	// NotFound.
	Hash(ctx context.Context, uri URI) (string, error)

	// Verify reports whether the object at uri's content hash equals
	// expectedHex (case-insensitive), or NotFound if the object is absent.
	Verify(ctx context.Context, uri URI, expectedHex string) (bool, error)

	// Delete removes the object at uri. Deleting an absent object is not
	// an error.
	Delete(ctx context.Context, uri URI) error
}
