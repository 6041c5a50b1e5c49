package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/erasmus-project/esrp/protocol"
)

// MemoryProvider is an in-process Provider for unit tests that must not
// touch disk. It implements the same content-addressing and write-once
// contract as FilesystemProvider.
type MemoryProvider struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryProvider constructs an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{objects: make(map[string][]byte)}
}

func (p *MemoryProvider) Resolve(uri URI) (string, error) {
	return uri.Format(), nil
}

func (p *MemoryProvider) Store(_ context.Context, namespace string, data []byte) (URI, error) {
	if err := validateNamespace(namespace); err != nil {
		return URI{}, err
	}
	sum := sha256.Sum256(data)
	filename := hex.EncodeToString(sum[:])[:16] + ".bin"
	uri := URI{Namespace: namespace, Path: filename}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.objects[uri.Format()]; !exists {
		p.objects[uri.Format()] = append([]byte(nil), data...)
	}
	return uri, nil
}

func (p *MemoryProvider) StoreAt(_ context.Context, uri URI, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.objects[uri.Format()]; exists {
		return protocol.NewFieldError(protocol.ErrIoError, "uri", "store_at refuses to overwrite an existing object")
	}
	p.objects[uri.Format()] = append([]byte(nil), data...)
	return nil
}

func (p *MemoryProvider) Retrieve(_ context.Context, uri URI) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	data, exists := p.objects[uri.Format()]
	if !exists {
		return nil, protocol.NewFieldError(protocol.ErrNotFound, "uri", uri.Format())
	}
	return append([]byte(nil), data...), nil
}

func (p *MemoryProvider) Exists(_ context.Context, uri URI) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.objects[uri.Format()]
	return exists, nil
}

func (p *MemoryProvider) Size(_ context.Context, uri URI) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	data, exists := p.objects[uri.Format()]
	if !exists {
		return 0, protocol.NewFieldError(protocol.ErrNotFound, "uri", uri.Format())
	}
	return uint64(len(data)), nil
}

func (p *MemoryProvider) Hash(ctx context.Context, uri URI) (string, error) {
	data, err := p.Retrieve(ctx, uri)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (p *MemoryProvider) Verify(ctx context.Context, uri URI, expectedHex string) (bool, error) {
	actual, err := p.Hash(ctx, uri)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(actual, expectedHex), nil
}

func (p *MemoryProvider) Delete(_ context.Context, uri URI) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.objects, uri.Format())
	return nil
}

var _ Provider = (*MemoryProvider)(nil)
