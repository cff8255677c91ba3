package assets

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/asset-runtime/errors"
	"github.com/wippyai/asset-runtime/resource"
)

// Blob is an asset kept as raw bytes.
type Blob struct {
	mu   sync.RWMutex
	file File
	data []byte
}

// Load reads the file named by a File descriptor.
func (b *Blob) Load(ctx context.Context, m *resource.Manager, desc resource.Descriptor) error {
	f, ok := desc.(File)
	if !ok {
		return descriptorError("File", desc)
	}
	data, err := f.read(ctx, errors.PhaseLoad, false)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.file = f
	b.data = data
	b.mu.Unlock()

	Logger().Debug("blob loaded", zap.String("path", f.Path), zap.Int("bytes", len(data)))
	return nil
}

// Reload re-reads the file. On failure the previous bytes stay in place.
func (b *Blob) Reload(ctx context.Context, m *resource.Manager) error {
	b.mu.RLock()
	f := b.file
	b.mu.RUnlock()

	data, err := f.read(ctx, errors.PhaseReload, true)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.data = data
	b.mu.Unlock()
	return nil
}

// Unload drops the bytes.
func (b *Blob) Unload(m *resource.Manager) {
	b.mu.Lock()
	b.data = nil
	b.mu.Unlock()
}

// Bytes returns the current contents. The slice must not be modified.
func (b *Blob) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data
}

// Len returns the size in bytes.
func (b *Blob) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}
