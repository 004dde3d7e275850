// Package vault stores secrets in the OS keyring with an optional
// in-memory fallback. The fallback keeps secret bytes inside sealed
// memguard enclaves rather than plain strings.
package vault

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/awnumar/memguard"

	domainerrors "github.com/modelguard/mcp-guard/pkg/domain/errors"
	"github.com/modelguard/mcp-guard/pkg/domain/security"
)

const errorDomain = "vault"

// Config holds the vault settings.
type Config struct {
	// ServiceName namespaces entries in the OS keyring
	ServiceName string
	// FallbackToMemory switches the vault to an in-memory store when
	// the keyring fails. When false, keyring failures surface as
	// errors instead.
	FallbackToMemory bool
}

// Vault is a two-tier secret store. It starts on the OS keyring and,
// when configured, demotes itself to an in-memory store on the first
// keyring failure. Demotion is one-way for the lifetime of the vault;
// a flaky keyring is never retried.
type Vault struct {
	cfg     Config
	logger  *slog.Logger
	keyring Keyring

	mu         sync.Mutex
	useKeyring bool
	memory     map[string]*memguard.Enclave
}

var _ security.SecretStore = (*Vault)(nil)

// New creates a vault backed by the platform keyring.
func New(cfg Config, logger *slog.Logger) *Vault {
	return NewWithKeyring(cfg, logger, SystemKeyring{})
}

// NewWithKeyring creates a vault on an explicit keyring implementation.
func NewWithKeyring(cfg Config, logger *slog.Logger, kr Keyring) *Vault {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "mcp-guard"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{
		cfg:        cfg,
		logger:     logger,
		keyring:    kr,
		useKeyring: true,
		memory:     make(map[string]*memguard.Enclave),
	}
}

// Store saves a secret under the given key, overwriting any previous
// value.
func (v *Vault) Store(key, secret string) error {
	if key == "" {
		return domainerrors.New(domainerrors.CodeInvalidParameter, errorDomain, "secret key must not be empty", nil)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.useKeyring {
		err := v.keyring.Set(v.cfg.ServiceName, key, secret)
		if err == nil {
			return nil
		}
		if !v.cfg.FallbackToMemory {
			return domainerrors.New(domainerrors.CodeKeyringUnavailable, errorDomain, "failed to store secret in keyring", err)
		}
		v.demote(err)
	}

	v.memory[key] = memguard.NewEnclave([]byte(secret))
	return nil
}

// Retrieve returns the secret stored under the given key.
func (v *Vault) Retrieve(key string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.useKeyring {
		secret, err := v.keyring.Get(v.cfg.ServiceName, key)
		if err == nil {
			return secret, nil
		}
		if errors.Is(err, ErrKeyringNotFound) {
			return "", v.notFound(key)
		}
		if !v.cfg.FallbackToMemory {
			return "", domainerrors.New(domainerrors.CodeKeyringUnavailable, errorDomain, "failed to read secret from keyring", err)
		}
		v.demote(err)
	}

	enclave, ok := v.memory[key]
	if !ok {
		return "", v.notFound(key)
	}
	buf, err := enclave.Open()
	if err != nil {
		return "", domainerrors.New(domainerrors.CodeInternalError, errorDomain, "failed to open secret enclave", err)
	}
	secret := string(buf.Bytes())
	buf.Destroy()
	return secret, nil
}

// Delete removes the secret stored under the given key. The returned
// bool reports whether an entry was actually removed.
func (v *Vault) Delete(key string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.useKeyring {
		err := v.keyring.Delete(v.cfg.ServiceName, key)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, ErrKeyringNotFound) {
			return false, nil
		}
		if !v.cfg.FallbackToMemory {
			return false, domainerrors.New(domainerrors.CodeKeyringUnavailable, errorDomain, "failed to delete secret from keyring", err)
		}
		v.demote(err)
	}

	if _, ok := v.memory[key]; !ok {
		return false, nil
	}
	delete(v.memory, key)
	return true, nil
}

// Exists reports whether a secret is stored under the given key.
func (v *Vault) Exists(key string) bool {
	_, err := v.Retrieve(key)
	return err == nil
}

// ListKeys returns the keys of in-memory entries, sorted. Keys living
// in the OS keyring are not enumerable and are never listed.
func (v *Vault) ListKeys() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	keys := make([]string, 0, len(v.memory))
	for key := range v.memory {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ClearMemory drops all in-memory entries. Keyring entries are not
// touched.
func (v *Vault) ClearMemory() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.memory = make(map[string]*memguard.Enclave)
}

// IsUsingKeyring reports whether the vault is still on the OS keyring.
func (v *Vault) IsUsingKeyring() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.useKeyring
}

// MemoryStoreSize returns the number of in-memory entries.
func (v *Vault) MemoryStoreSize() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.memory)
}

// demote switches the vault to the in-memory store. Callers must hold
// the mutex. Entries written to the keyring before demotion stay
// there; they are not migrated.
func (v *Vault) demote(cause error) {
	v.useKeyring = false
	v.logger.Warn("keyring unavailable, falling back to in-memory secret store",
		"service", v.cfg.ServiceName,
		"error", cause)
}

func (v *Vault) notFound(key string) error {
	return domainerrors.New(domainerrors.CodeSecretNotFound, errorDomain, "no secret stored for key "+key, nil)
}
