// Package artifacts implements the on-disk artifact cache. It maps an
// ArtifactKey to the paths of its key file and verifier contract source,
// reports presence, and writes new artifacts without ever touching an
// existing one. The no-overwrite rule is what makes re-runs safe with
// user-supplied custom keys or contracts in place.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zkgroups/deployer/types"
)

const (
	keysDir              = "keys"
	verifierContractsDir = "verifier_contracts"
)

// Kind selects which artifact of a key the cache operation refers to.
type Kind int

const (
	// KindKeys is the proving/verifying key material file.
	KindKeys Kind = iota
	// KindVerifierContract is the Solidity verifier contract source.
	KindVerifierContract
)

func (k Kind) String() string {
	switch k {
	case KindKeys:
		return "keys"
	case KindVerifierContract:
		return "verifier contract"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// CorruptionError reports a cache entry that exists but cannot be used.
// Manual intervention is required; the cache never deletes on its own.
type CorruptionError struct {
	Path   string
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt cache entry at %s: %s", e.Path, e.Reason)
}

// Cache is the artifact cache rooted at a directory. The zero value is not
// usable; create instances with New.
type Cache struct {
	baseDir string
}

// New returns a cache rooted at baseDir, creating the directory structure
// if needed.
func New(baseDir string) (*Cache, error) {
	for _, dir := range []string{keysDir, verifierContractsDir} {
		if err := os.MkdirAll(filepath.Join(baseDir, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}
	return &Cache{baseDir: baseDir}, nil
}

// BaseDir returns the cache root directory.
func (c *Cache) BaseDir() string {
	return c.baseDir
}

// PathFor returns the canonical cache location for an artifact. The file may
// or may not exist.
func (c *Cache) PathFor(key types.ArtifactKey, kind Kind) string {
	switch kind {
	case KindKeys:
		return filepath.Join(c.baseDir, keysDir, key.KeysFilename())
	case KindVerifierContract:
		return filepath.Join(c.baseDir, verifierContractsDir, key.VerifierFilename())
	default:
		panic(fmt.Sprintf("unknown artifact kind %d", int(kind)))
	}
}

// Has reports whether the artifact is present and usable. A present but
// unusable entry (a directory, an unreadable or empty file) returns a
// CorruptionError.
func (c *Cache) Has(key types.ArtifactKey, kind Kind) (bool, error) {
	path := c.PathFor(key, kind)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, &CorruptionError{Path: path, Reason: err.Error()}
	}
	if !info.Mode().IsRegular() {
		return false, &CorruptionError{Path: path, Reason: "not a regular file"}
	}
	if info.Size() == 0 {
		return false, &CorruptionError{Path: path, Reason: "empty file"}
	}
	f, err := os.Open(path)
	if err != nil {
		return false, &CorruptionError{Path: path, Reason: err.Error()}
	}
	if err := f.Close(); err != nil {
		return false, &CorruptionError{Path: path, Reason: err.Error()}
	}
	return true, nil
}

// WriteIfAbsent writes the artifact only when it is not already present,
// returning whether a write occurred. An existing valid entry is left
// byte-identical; an existing corrupt entry fails with CorruptionError.
// The write goes through a temp file and a rename, so a crash never leaves
// a half-written artifact at the canonical path.
func (c *Cache) WriteIfAbsent(key types.ArtifactKey, kind Kind, data []byte) (bool, error) {
	present, err := c.Has(key, kind)
	if err != nil {
		return false, err
	}
	if present {
		return false, nil
	}
	path := c.PathFor(key, kind)
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return false, fmt.Errorf("create temp artifact file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return false, fmt.Errorf("write artifact %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return false, fmt.Errorf("sync artifact %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("close artifact %s: %w", key, err)
	}
	// Link instead of rename: link fails if the path sprang into existence
	// since the presence check, so a concurrent writer can never clobber.
	if err := os.Link(tmp.Name(), path); err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("publish artifact %s: %w", key, err)
	}
	return true, nil
}
