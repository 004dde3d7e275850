package vault

import "github.com/zalando/go-keyring"

// Keyring abstracts the OS credential store so the vault can be
// exercised without touching the real keychain.
type Keyring interface {
	Set(service, key, secret string) error
	Get(service, key string) (string, error)
	Delete(service, key string) error
}

// ErrKeyringNotFound is returned by Keyring implementations when the
// requested key is not stored.
var ErrKeyringNotFound = keyring.ErrNotFound

// SystemKeyring talks to the platform credential store via the
// keyring library (Keychain, Credential Manager, or Secret Service).
type SystemKeyring struct{}

func (SystemKeyring) Set(service, key, secret string) error {
	return keyring.Set(service, key, secret)
}

func (SystemKeyring) Get(service, key string) (string, error) {
	return keyring.Get(service, key)
}

func (SystemKeyring) Delete(service, key string) error {
	return keyring.Delete(service, key)
}
