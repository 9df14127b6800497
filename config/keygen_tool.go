package config

import "fmt"

const (
	// DefaultKeygenBaseURL is the base URL for key-generation tool releases.
	DefaultKeygenBaseURL = "https://github.com/worldcoin/semaphore-mtb/releases/download"
	// DefaultKeygenVersion is the release version of the key-generation tool.
	DefaultKeygenVersion = "1.2.1"
	// KeygenBinaryName is the cached filename of the tool binary.
	KeygenBinaryName = "mtb"
)

// KeygenToolConfig describes where the key-generation tool binary is fetched
// from and, when available, the expected sha256 per platform.
type KeygenToolConfig struct {
	BaseURL string
	Version string
	// SHA256 maps "<os>-<arch>" to the hex sha256 of the release binary.
	// Platforms without an entry are downloaded without verification and a
	// warning is logged.
	SHA256 map[string]string
}

// DefaultKeygenTool returns the default tool release configuration. The
// upstream project publishes no checksums, so SHA256 starts empty; operators
// can pin hashes here or via their own config.
func DefaultKeygenTool() KeygenToolConfig {
	return KeygenToolConfig{
		BaseURL: DefaultKeygenBaseURL,
		Version: DefaultKeygenVersion,
		SHA256:  map[string]string{},
	}
}

// BinaryURL returns the release download URL for the given platform.
func (k KeygenToolConfig) BinaryURL(goos, goarch string) string {
	return fmt.Sprintf("%s/%s/mtb-%s-%s", k.BaseURL, k.Version, goos, goarch)
}

// BinaryHash returns the pinned sha256 for the given platform, or false when
// no checksum is published.
func (k KeygenToolConfig) BinaryHash(goos, goarch string) (string, bool) {
	h, ok := k.SHA256[fmt.Sprintf("%s-%s", goos, goarch)]
	return h, ok
}
