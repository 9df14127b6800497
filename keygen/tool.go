// Package keygen provisions proving keys and verifier contract sources. It
// acquires the external key-generation tool once per run, verifies its
// checksum when one is pinned, and runs it to materialize whatever the
// artifact cache is missing.
package keygen

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/zkgroups/deployer/config"
	"github.com/zkgroups/deployer/log"
	"github.com/zkgroups/deployer/types"
)

// downloadAttempts bounds the tool download retries before the acquisition
// is reported as fatal.
const downloadAttempts = 3

// downloadRetryBase is the initial backoff between download attempts. It is
// a variable so tests can shrink it.
var downloadRetryBase = 2 * time.Second

// AcquisitionError reports a failure to obtain a verified tool binary after
// the bounded number of attempts.
type AcquisitionError struct {
	Attempts int
	Cause    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("failed to acquire key-generation tool after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Cause
}

// Tool is the external key-generation capability. It is an interface so
// tests can substitute a fake and so integrity checks live at a single
// boundary.
type Tool interface {
	// GenerateKeys writes the proving/verifying key material for the given
	// artifact key to outFile.
	GenerateKeys(ctx context.Context, key types.ArtifactKey, outFile string) error
	// ExportVerifier synthesizes Solidity verifier source from the key
	// material in keysFile and writes it to outFile.
	ExportVerifier(ctx context.Context, keysFile, outFile string) error
}

// BinaryTool runs the downloaded tool binary. Acquisition is lazy: the
// first use downloads and verifies the binary, later uses reuse it.
type BinaryTool struct {
	cacheDir string
	release  config.KeygenToolConfig
	client   *http.Client

	once    sync.Once
	binPath string
	onceErr error
}

var _ Tool = (*BinaryTool)(nil)

// NewBinaryTool returns a tool that caches its binary under cacheDir.
func NewBinaryTool(cacheDir string, release config.KeygenToolConfig) *BinaryTool {
	return &BinaryTool{
		cacheDir: cacheDir,
		release:  release,
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
}

// EnsureBinary downloads and verifies the tool binary if it is not already
// cached, and returns its path. Concurrent callers share one download.
func (t *BinaryTool) EnsureBinary(ctx context.Context) (string, error) {
	t.once.Do(func() {
		t.binPath, t.onceErr = t.acquire(ctx)
	})
	return t.binPath, t.onceErr
}

func (t *BinaryTool) acquire(ctx context.Context) (string, error) {
	binPath := filepath.Join(t.cacheDir, config.KeygenBinaryName)
	if info, err := os.Stat(binPath); err == nil && info.Mode().IsRegular() {
		return binPath, nil
	}

	url := t.release.BinaryURL(runtime.GOOS, runtime.GOARCH)
	wantHash, hashPinned := t.release.BinaryHash(runtime.GOOS, runtime.GOARCH)
	if !hashPinned {
		log.Warnw("no checksum pinned for key-generation tool, skipping verification",
			"os", runtime.GOOS, "arch", runtime.GOARCH)
	}

	var lastErr error
	for attempt := 1; attempt <= downloadAttempts; attempt++ {
		if attempt > 1 {
			backoff := downloadRetryBase << (attempt - 2)
			select {
			case <-ctx.Done():
				return "", &AcquisitionError{Attempts: attempt - 1, Cause: ctx.Err()}
			case <-time.After(backoff):
			}
		}
		log.Infow("downloading key-generation tool", "url", url, "attempt", attempt)
		data, err := t.download(ctx, url)
		if err != nil {
			lastErr = err
			log.Warnw("tool download failed", "attempt", attempt, "error", err)
			continue
		}
		if hashPinned {
			sum := sha256.Sum256(data)
			if got := hex.EncodeToString(sum[:]); got != wantHash {
				// a checksum mismatch is not transient, do not retry
				return "", &AcquisitionError{
					Attempts: attempt,
					Cause:    fmt.Errorf("checksum mismatch: got %s, want %s", got, wantHash),
				}
			}
		}
		if err := os.MkdirAll(t.cacheDir, 0o755); err != nil {
			return "", &AcquisitionError{Attempts: attempt, Cause: err}
		}
		if err := os.WriteFile(binPath, data, 0o755); err != nil {
			return "", &AcquisitionError{Attempts: attempt, Cause: err}
		}
		log.Infow("key-generation tool ready", "path", binPath, "size", len(data))
		return binPath, nil
	}
	return "", &AcquisitionError{Attempts: downloadAttempts, Cause: lastErr}
}

func (t *BinaryTool) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %s: %s", resp.Status, body)
	}
	return io.ReadAll(resp.Body)
}

// GenerateKeys runs `<tool> setup` for the given artifact key.
func (t *BinaryTool) GenerateKeys(ctx context.Context, key types.ArtifactKey, outFile string) error {
	bin, err := t.EnsureBinary(ctx)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, bin,
		"setup",
		"--mode", string(key.Mode),
		"--tree-depth", fmt.Sprintf("%d", key.TreeDepth),
		"--batch-size", fmt.Sprintf("%d", key.BatchSize),
		"--output", outFile,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("generate keys for %s: %w: %s", key, err, out)
	}
	return nil
}

// ExportVerifier runs `<tool> export-solidity` on an existing keys file.
func (t *BinaryTool) ExportVerifier(ctx context.Context, keysFile, outFile string) error {
	bin, err := t.EnsureBinary(ctx)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, bin,
		"export-solidity",
		"--keys-file", keysFile,
		"--output", outFile,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("export verifier contract: %w: %s", err, out)
	}
	return nil
}
