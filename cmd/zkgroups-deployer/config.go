package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zkgroups/deployer/internal"
)

const (
	defaultName         = "default"
	defaultConfigFile   = "config.yaml"
	defaultLogLevel     = "info"
	defaultLogOutput    = "stdout"
	defaultDatadir      = ".zkgroups-deployer" // Will be prefixed with user's home directory
	defaultMaxAttempts  = 5
	defaultRetryBackoff = 2 * time.Second
)

// Version is the build version, set at build time with -ldflags
var Version = internal.Version

// Config holds the application configuration
type Config struct {
	Name    string
	Config  string
	Datadir string
	DryRun  bool `mapstructure:"dry-run"`
	Web3    Web3Config
	Log     LogConfig
}

// Web3Config holds Ethereum-related configuration
type Web3Config struct {
	PrivKey      string        `mapstructure:"privkey"`
	Rpc          string        `mapstructure:"rpc"`
	EtherscanKey string        `mapstructure:"etherscan-key"`
	MaxAttempts  int           `mapstructure:"max-attempts"`
	RetryBackoff time.Duration `mapstructure:"retry-backoff"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
}

// DeploymentDir returns the directory holding this deployment's cache,
// state and report.
func (c *Config) DeploymentDir() string {
	return filepath.Join(c.Datadir, c.Name)
}

// loadConfig loads configuration from flags, environment variables, and defaults
func loadConfig() (*Config, error) {
	v := viper.New()

	// Get user's home directory for default datadir
	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
	}
	defaultDatadirPath := filepath.Join(userHomeDir, defaultDatadir)

	v.SetDefault("name", defaultName)
	v.SetDefault("config", defaultConfigFile)
	v.SetDefault("datadir", defaultDatadirPath)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.output", defaultLogOutput)
	v.SetDefault("web3.max-attempts", defaultMaxAttempts)
	v.SetDefault("web3.retry-backoff", defaultRetryBackoff)

	flag.StringP("name", "n", defaultName, "deployment name, scopes the state store and cache")
	flag.StringP("config", "c", defaultConfigFile, "path to the groups configuration file")
	flag.StringP("datadir", "d", defaultDatadirPath, "data directory for cache and deployment state")
	flag.Bool("dry-run", false, "print the deployment plan without touching the chain")
	flag.StringP("web3.privkey", "k", "", "private key to use for the Ethereum account (required)")
	flag.StringP("web3.rpc", "w", "", "web3 rpc endpoint (required)")
	flag.String("web3.etherscan-key", "", "block explorer API key for contract verification")
	flag.Int("web3.max-attempts", defaultMaxAttempts, "max attempts per chain operation on transient errors")
	flag.Duration("web3.retry-backoff", defaultRetryBackoff, "initial backoff between chain retries (doubled per attempt)")
	flag.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error, fatal)")
	flag.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "zkgroups-deployer v%s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: zkgroups-deployer [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available with the same name as flags,\n")
		fmt.Fprintf(os.Stderr, "  except for dashes (-) and dots (.) which are replaced by underscores (_).\n")
		fmt.Fprintf(os.Stderr, "  For example, ZKGROUPS_WEB3_PRIVKEY or ZKGROUPS_DATADIR\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Show the plan for a configuration without deploying\n")
		fmt.Fprintf(os.Stderr, "  zkgroups-deployer --config=groups.yaml --dry-run\n\n")
		fmt.Fprintf(os.Stderr, "  # Deploy (or resume) the \"prod\" deployment\n")
		fmt.Fprintf(os.Stderr, "  zkgroups-deployer --name=prod --config=groups.yaml --web3.rpc=https://rpc.example --web3.privkey=0x123...\n")
	}

	flag.CommandLine.SortFlags = false
	flag.Parse()

	v.SetEnvPrefix("ZKGROUPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flag.CommandLine); err != nil {
		return nil, fmt.Errorf("error binding flags: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}

// validateConfig validates the loaded configuration
func validateConfig(cfg *Config) error {
	if cfg.Name == "" {
		return fmt.Errorf("deployment name cannot be empty")
	}
	if cfg.DryRun {
		return nil
	}
	if cfg.Web3.Rpc == "" {
		return fmt.Errorf("rpc endpoint is required (use --web3.rpc flag or ZKGROUPS_WEB3_RPC environment variable)")
	}
	if cfg.Web3.PrivKey == "" {
		return fmt.Errorf("private key is required (use --web3.privkey flag or ZKGROUPS_WEB3_PRIVKEY environment variable)")
	}
	return nil
}
