package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed reports an Open against a buffer already destroyed.
var ErrDestroyed = errors.New("buffer destroyed")

// Buffer holds a candidate credential value in protected memory while a
// rotation is in flight. It wraps memguard.Enclave so the plaintext is
// encrypted at rest and the backing pages are locked against swapping.
type Buffer struct {
	enclave *memguard.Enclave
	mu      sync.RWMutex
	// destroyed allows idempotent Destroy() and blocks use afterwards
	destroyed bool
}

// NewBuffer copies data into a protected memory region. The caller still
// owns the input slice and should zero it after the call.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{enclave: memguard.NewEnclave(data)}
}

// Open decrypts the buffer and returns the plaintext in a locked buffer.
// The caller MUST call Destroy() on the returned LockedBuffer when done:
//
//	locked, err := buf.Open()
//	if err != nil {
//	    return err
//	}
//	defer locked.Destroy()
//	candidate := locked.String()
func (b *Buffer) Open() (*memguard.LockedBuffer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed {
		return nil, ErrDestroyed
	}
	return b.enclave.Open()
}

// Destroy marks the buffer as unusable. Idempotent. The enclave's encrypted
// contents are left to the garbage collector; call memguard.Purge() at
// process exit for a full sweep.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}
	b.enclave = nil
	b.destroyed = true
}
