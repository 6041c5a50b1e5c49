package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/erasmus-project/esrp/protocol"
)

// FilesystemProvider is the reference Provider backend: a plain directory
// tree laid out <base>/<namespace>/<path>. Writes are atomic via a
// sibling temp file, fsync, then rename, per §4.4's canonical mechanism.
// Each URI is protected by its own RWMutex, kept in a map keyed by the
// formatted URI, so individual store/retrieve calls on the same path never
// interleave, matching the mutex-guarded-registry
// idiom used elsewhere in this codebase for shared in-process state.
type FilesystemProvider struct {
	base string

	locksMu sync.Mutex
	locks   map[string]*sync.RWMutex
}

// NewFilesystemProvider constructs a provider rooted at base. base is
// opaque configuration per §6 and is created if it does not already
// exist.
func NewFilesystemProvider(base string) (*FilesystemProvider, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, protocol.NewError(protocol.ErrIoError, "failed to create workspace base directory").WithCause(err)
	}
	return &FilesystemProvider{
		base:  base,
		locks: make(map[string]*sync.RWMutex),
	}, nil
}

func (p *FilesystemProvider) lockFor(uri URI) *sync.RWMutex {
	key := uri.Format()
	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	if l, ok := p.locks[key]; ok {
		return l
	}
	l := &sync.RWMutex{}
	p.locks[key] = l
	return l
}

// absPath maps a URI to a host filesystem path. Namespace isolation is
// structural: a URI in namespace A can never traverse into namespace B
// because Parse already rejected any ".." segment in Path.
func (p *FilesystemProvider) absPath(uri URI) string {
	segments := strings.Split(uri.Path, "/")
	parts := append([]string{p.base, uri.Namespace}, segments...)
	return filepath.Join(parts...)
}

func (p *FilesystemProvider) Resolve(uri URI) (string, error) {
	return p.absPath(uri), nil
}

func (p *FilesystemProvider) Store(ctx context.Context, namespace string, data []byte) (URI, error) {
	if err := validateNamespace(namespace); err != nil {
		return URI{}, err
	}
	sum := sha256.Sum256(data)
	filename := hex.EncodeToString(sum[:])[:16] + ".bin"
	uri := URI{Namespace: namespace, Path: filename}

	exists, err := p.Exists(ctx, uri)
	if err != nil {
		return URI{}, err
	}
	if exists {
		// Identical bytes under the same namespace already produced this
		// URI; deduplicated, nothing to write.
		return uri, nil
	}
	if err := p.writeAtomic(uri, data); err != nil {
		return URI{}, err
	}
	return uri, nil
}

func (p *FilesystemProvider) StoreAt(ctx context.Context, uri URI, data []byte) error {
	exists, err := p.Exists(ctx, uri)
	if err != nil {
		return err
	}
	if exists {
		return protocol.NewFieldError(protocol.ErrIoError, "uri", "store_at refuses to overwrite an existing object")
	}
	return p.writeAtomic(uri, data)
}

func (p *FilesystemProvider) writeAtomic(uri URI, data []byte) error {
	lock := p.lockFor(uri)
	lock.Lock()
	defer lock.Unlock()

	dest := p.absPath(uri)
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return protocol.NewError(protocol.ErrIoError, "failed to create namespace directory").WithCause(err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return protocol.NewError(protocol.ErrIoError, "failed to create temporary file").WithCause(err)
	}
	tmpName := tmp.Name()
	succeeded := false
	defer func() {
		if !succeeded {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return protocol.NewError(protocol.ErrIoError, "failed to write temporary file").WithCause(err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return protocol.NewError(protocol.ErrIoError, "failed to fsync temporary file").WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		return protocol.NewError(protocol.ErrIoError, "failed to close temporary file").WithCause(err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return protocol.NewError(protocol.ErrIoError, "failed to rename temporary file into place").WithCause(err)
	}
	succeeded = true
	return nil
}

func (p *FilesystemProvider) Retrieve(_ context.Context, uri URI) ([]byte, error) {
	lock := p.lockFor(uri)
	lock.RLock()
	defer lock.RUnlock()

	data, err := os.ReadFile(p.absPath(uri))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, protocol.NewFieldError(protocol.ErrNotFound, "uri", uri.Format())
		}
		return nil, protocol.NewError(protocol.ErrIoError, "failed to read object").WithCause(err)
	}
	return data, nil
}

func (p *FilesystemProvider) Exists(_ context.Context, uri URI) (bool, error) {
	lock := p.lockFor(uri)
	lock.RLock()
	defer lock.RUnlock()

	_, err := os.Stat(p.absPath(uri))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, protocol.NewError(protocol.ErrIoError, "failed to stat object").WithCause(err)
}

func (p *FilesystemProvider) Size(_ context.Context, uri URI) (uint64, error) {
	lock := p.lockFor(uri)
	lock.RLock()
	defer lock.RUnlock()

	info, err := os.Stat(p.absPath(uri))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, protocol.NewFieldError(protocol.ErrNotFound, "uri", uri.Format())
		}
		return 0, protocol.NewError(protocol.ErrIoError, "failed to stat object").WithCause(err)
	}
	return uint64(info.Size()), nil
}

func (p *FilesystemProvider) Hash(ctx context.Context, uri URI) (string, error) {
	data, err := p.Retrieve(ctx, uri)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (p *FilesystemProvider) Verify(ctx context.Context, uri URI, expectedHex string) (bool, error) {
	actual, err := p.Hash(ctx, uri)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(actual, expectedHex), nil
}

func (p *FilesystemProvider) Delete(_ context.Context, uri URI) error {
	lock := p.lockFor(uri)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(p.absPath(uri)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return protocol.NewError(protocol.ErrIoError, "failed to delete object").WithCause(err)
	}
	return nil
}

var _ Provider = (*FilesystemProvider)(nil)
