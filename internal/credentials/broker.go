// Package credentials provides a process-wide store of API keys with
// blocking wait/notify semantics. Tasks suspend in WaitFor until an
// operator supplies the missing secret.
package credentials

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wardenhq/warden/internal/crypto"
	"github.com/wardenhq/warden/internal/logging"
)

// key identifies one credential slot.
type key struct {
	owner    string
	provider string
}

// waitHandle is a once-signaled latch for one pending key. The channel is
// closed on signal and never reopened, so a late waiter still gets through.
type waitHandle struct {
	ch chan struct{}
}

func (h *waitHandle) signal() {
	select {
	case <-h.ch:
		// already signaled
	default:
		close(h.ch)
	}
}

// Store is a thread-safe credential store keyed by (owner, provider).
// Values are encrypted at rest when a cipher is configured.
type Store struct {
	mu      sync.Mutex
	values  map[key][]byte
	waiters map[key]*waitHandle
	cipher  *crypto.Cipher
	logger  *logging.Logger
}

// Options configures a Store.
type Options struct {
	// Secret is the server-wide passphrase. Empty means cleartext storage.
	Secret string
	// DevMode forces cleartext storage even when Secret is set.
	DevMode bool
	Logger  *logging.Logger
}

// NewStore builds a Store. When no cipher can be established the store runs
// in cleartext and says so in the log, never silently.
func NewStore(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.New()
	}
	logger = logger.WithComponent("credentials")

	s := &Store{
		values:  make(map[key][]byte),
		waiters: make(map[key]*waitHandle),
		logger:  logger,
	}

	switch {
	case opts.DevMode:
		logger.Warn("dev mode: credentials stored in cleartext")
	case opts.Secret == "":
		logger.Warn("no secret key configured: credentials stored in cleartext")
	default:
		c, err := crypto.New(opts.Secret)
		if err != nil {
			return nil, fmt.Errorf("credential cipher: %w", err)
		}
		s.cipher = c
	}
	return s, nil
}

// Set stores a credential and releases any waiters blocked on the same key.
// Storage and signaling happen in one critical section, so a Set racing a
// WaitFor registration cannot be missed. Last write wins.
func (s *Store) Set(owner, provider, value string) error {
	stored := []byte(value)
	if s.cipher != nil {
		sealed, err := s.cipher.Encrypt(stored)
		if err != nil {
			return fmt.Errorf("encrypt credential: %w", err)
		}
		stored = sealed
	}

	k := key{owner, provider}
	s.mu.Lock()
	s.values[k] = stored
	if h, ok := s.waiters[k]; ok {
		h.signal()
	}
	s.mu.Unlock()

	s.logger.Info("credential stored", map[string]interface{}{
		"owner":    owner,
		"provider": provider,
		"value":    Masked(value),
	})
	return nil
}

// Get returns the credential value, or false when absent. The stored bytes
// are snapshotted under the lock; decryption happens outside it.
func (s *Store) Get(owner, provider string) (string, bool) {
	k := key{owner, provider}
	s.mu.Lock()
	stored, ok := s.values[k]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	if s.cipher == nil {
		return string(stored), true
	}
	plain, err := s.cipher.Decrypt(stored)
	if err != nil {
		s.logger.Error("credential decrypt failed", map[string]interface{}{
			"owner":    owner,
			"provider": provider,
			"error":    err,
		})
		return "", false
	}
	return string(plain), true
}

// Has reports whether a credential exists for (owner, provider).
func (s *Store) Has(owner, provider string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[key{owner, provider}]
	return ok
}

// WaitFor blocks until the credential becomes available, the timeout elapses,
// or ctx is cancelled. A timeout is an expected outcome, reported as ok=false
// rather than an error. The wait itself happens outside the store lock;
// only registration is inside it.
func (s *Store) WaitFor(ctx context.Context, owner, provider string, timeout time.Duration) (string, bool) {
	k := key{owner, provider}

	s.mu.Lock()
	if _, present := s.values[k]; present {
		s.mu.Unlock()
		return s.Get(owner, provider)
	}
	h, ok := s.waiters[k]
	if !ok {
		h = &waitHandle{ch: make(chan struct{})}
		s.waiters[k] = h
	}
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.ch:
		return s.Get(owner, provider)
	case <-timer.C:
		// A Set may have landed between the timer firing and this branch
		// running; prefer the value when it did.
		if v, present := s.Get(owner, provider); present {
			return v, true
		}
		return "", false
	case <-ctx.Done():
		return "", false
	}
}

// ListProviders returns the sorted provider names stored for an owner.
func (s *Store) ListProviders(owner string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var providers []string
	for k := range s.values {
		if k.owner == owner {
			providers = append(providers, k.provider)
		}
	}
	sort.Strings(providers)
	return providers
}

// Masked returns the display form of a secret: empty, or *** plus the last
// four characters.
func Masked(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "***"
	}
	return "***" + value[len(value)-4:]
}
