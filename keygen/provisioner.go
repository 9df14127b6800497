package keygen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/zkgroups/deployer/artifacts"
	"github.com/zkgroups/deployer/log"
	"github.com/zkgroups/deployer/types"
)

// Provisioner ensures key material and verifier contract sources exist in
// the artifact cache, generating what is missing. Concurrent requests for
// distinct keys run in parallel; requests for the same key are coalesced so
// the tool runs at most once per artifact.
type Provisioner struct {
	cache *artifacts.Cache
	tool  Tool
	group singleflight.Group
}

// NewProvisioner returns a provisioner over the given cache and tool.
func NewProvisioner(cache *artifacts.Cache, tool Tool) *Provisioner {
	return &Provisioner{cache: cache, tool: tool}
}

// EnsureKey returns the path of the key material for the given artifact
// key, generating it if absent from the cache.
func (p *Provisioner) EnsureKey(ctx context.Context, key types.ArtifactKey) (string, error) {
	return p.ensure(ctx, key, artifacts.KindKeys, func(outFile string) error {
		return p.tool.GenerateKeys(ctx, key, outFile)
	})
}

// EnsureVerifierContract returns the path of the Solidity verifier source
// for the given artifact key. A cached contract (including a user-supplied
// override) is returned as-is; otherwise the key material is materialized
// first and the contract is synthesized from it.
func (p *Provisioner) EnsureVerifierContract(ctx context.Context, key types.ArtifactKey) (string, error) {
	return p.ensure(ctx, key, artifacts.KindVerifierContract, func(outFile string) error {
		keysFile, err := p.EnsureKey(ctx, key)
		if err != nil {
			return err
		}
		return p.tool.ExportVerifier(ctx, keysFile, outFile)
	})
}

// ensure is the common cache-or-generate path. generate must write the
// artifact to the file it is given; ensure then publishes it through the
// cache's no-overwrite write.
func (p *Provisioner) ensure(ctx context.Context, key types.ArtifactKey, kind artifacts.Kind, generate func(outFile string) error) (string, error) {
	present, err := p.cache.Has(key, kind)
	if err != nil {
		return "", err
	}
	path := p.cache.PathFor(key, kind)
	if present {
		return path, nil
	}

	flightKey := fmt.Sprintf("%d/%s", kind, key)
	_, err, _ = p.group.Do(flightKey, func() (any, error) {
		// re-check: another caller may have finished while we queued
		present, err := p.cache.Has(key, kind)
		if err != nil || present {
			return nil, err
		}
		tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".gen")
		if err != nil {
			return nil, fmt.Errorf("create temp file for %s: %w", key, err)
		}
		tmpName := tmp.Name()
		if err := tmp.Close(); err != nil {
			return nil, err
		}
		defer func() {
			_ = os.Remove(tmpName)
		}()

		log.Infow("generating artifact", "key", key.String(), "kind", kind.String())
		if err := generate(tmpName); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(tmpName)
		if err != nil {
			return nil, fmt.Errorf("read generated artifact for %s: %w", key, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("tool produced an empty artifact for %s", key)
		}
		wrote, err := p.cache.WriteIfAbsent(key, kind, data)
		if err != nil {
			return nil, err
		}
		if !wrote {
			log.Debugw("artifact appeared concurrently, generated bytes discarded",
				"key", key.String(), "kind", kind.String())
		}
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// EnsureAll provisions the verifier contracts (and, transitively, the key
// material) for every given artifact key, running distinct keys in
// parallel.
func (p *Provisioner) EnsureAll(ctx context.Context, keys []types.ArtifactKey) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		g.Go(func() error {
			_, err := p.EnsureVerifierContract(ctx, key)
			return err
		})
	}
	return g.Wait()
}
