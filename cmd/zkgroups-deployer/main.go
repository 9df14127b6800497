package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/zkgroups/deployer/artifacts"
	"github.com/zkgroups/deployer/config"
	"github.com/zkgroups/deployer/deployment"
	"github.com/zkgroups/deployer/keygen"
	"github.com/zkgroups/deployer/log"
	"github.com/zkgroups/deployer/statestore"
	"github.com/zkgroups/deployer/web3"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level, cfg.Log.Output)
	log.Infow("starting zkgroups-deployer", "version", Version)

	if err := validateConfig(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	groups, err := config.Load(cfg.Config)
	if err != nil {
		log.Fatalf("Failed to load groups configuration %s: %v", cfg.Config, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, groups); err != nil {
		log.Fatalf("Deployment failed: %v", err)
	}
}

func run(ctx context.Context, cfg *Config, groups *config.Config) error {
	depDir := cfg.DeploymentDir()
	if err := os.MkdirAll(depDir, 0o755); err != nil {
		return fmt.Errorf("failed to create deployment directory: %w", err)
	}
	cacheDir := filepath.Join(depDir, ".cache")

	log.Infow("opening deployment state",
		"deployment", cfg.Name,
		"dir", depDir,
	)
	store, err := statestore.Open(filepath.Join(depDir, "state"))
	if err != nil {
		var concErr *statestore.ConcurrentDeploymentError
		if errors.As(err, &concErr) {
			return fmt.Errorf("another deployment run for %q is already in progress: %w", cfg.Name, err)
		}
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warnw("failed to close state store", "error", err)
		}
	}()

	cache, err := artifacts.New(cacheDir)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact cache: %w", err)
	}
	tool := keygen.NewBinaryTool(cacheDir, config.DefaultKeygenTool())
	provisioner := keygen.NewProvisioner(cache, tool)

	if cfg.DryRun {
		dep := deployment.New(cfg.Name, groups, provisioner, nil, store)
		return printPlan(dep)
	}

	client, err := web3.Dial(ctx, cfg.Web3.Rpc, cfg.Web3.PrivKey)
	if err != nil {
		return fmt.Errorf("failed to initialize web3 client: %w", err)
	}
	deployer, err := web3.NewDeployer(client, web3.ForgeCreator{}, cache, groups, web3.DeployerOptions{
		ContractsDir:    filepath.Join(depDir, "contracts"),
		RPCURL:          cfg.Web3.Rpc,
		PrivateKey:      cfg.Web3.PrivKey,
		EtherscanAPIKey: cfg.Web3.EtherscanKey,
		MaxAttempts:     cfg.Web3.MaxAttempts,
		RetryBackoff:    cfg.Web3.RetryBackoff,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chain deployer: %w", err)
	}

	dep := deployment.New(cfg.Name, groups, provisioner, deployer, store)
	report, runErr := dep.Run(ctx)
	if report != nil {
		if err := report.Write(depDir); err != nil {
			log.Warnw("failed to write report", "error", err)
		} else {
			log.Infow("report written", "path", filepath.Join(depDir, deployment.ReportFilename))
		}
	}
	return runErr
}

// printPlan shows the step sequence a run would execute.
func printPlan(dep *deployment.Deployment) error {
	plan, err := dep.Plan()
	if err != nil {
		return err
	}
	if plan.IsEmpty() {
		fmt.Println("nothing to do: all steps already completed")
		return nil
	}
	fmt.Printf("deployment plan (%d steps, %d already completed):\n", len(plan.Steps), len(plan.Satisfied))
	for i, step := range plan.Steps {
		fmt.Printf("  %2d. [%s] %s\n", i+1, step.Kind, step.ID)
	}
	return nil
}
