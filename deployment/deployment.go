// Package deployment orchestrates a full run: artifact provisioning, plan
// construction, step execution, and durable progress tracking. A run halts
// on the first failed step; re-running with the same deployment name
// resumes where it stopped.
package deployment

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zkgroups/deployer/config"
	"github.com/zkgroups/deployer/log"
	"github.com/zkgroups/deployer/planner"
	"github.com/zkgroups/deployer/types"
	"github.com/zkgroups/deployer/web3"
)

// ArtifactProvisioner materializes key and verifier-contract artifacts for
// a set of artifact keys.
type ArtifactProvisioner interface {
	EnsureAll(ctx context.Context, keys []types.ArtifactKey) error
}

// StepExecutor performs one plan step on-chain.
type StepExecutor interface {
	Execute(ctx context.Context, step planner.Step, resolve web3.AddressResolver) (common.Address, error)
}

// StateStore is the durable progress record for deployments.
type StateStore interface {
	Load(name string) (*types.DeploymentRecord, error)
	RecordInProgress(name string, stepID types.StepID) error
	RecordCompletion(name string, stepID types.StepID, address common.Address) error
	RecordFailure(name string, stepID types.StepID, cause error) error
}

// Deployment drives one named deployment against a configuration.
type Deployment struct {
	name        string
	cfg         *config.Config
	provisioner ArtifactProvisioner
	executor    StepExecutor
	store       StateStore
}

// New assembles a deployment from its collaborators.
func New(name string, cfg *config.Config, provisioner ArtifactProvisioner,
	executor StepExecutor, store StateStore,
) *Deployment {
	return &Deployment{
		name:        name,
		cfg:         cfg,
		provisioner: provisioner,
		executor:    executor,
		store:       store,
	}
}

// Plan derives the current executable plan without touching the chain. Used
// for dry runs.
func (d *Deployment) Plan() (*planner.Plan, error) {
	record, err := d.store.Load(d.name)
	if err != nil {
		return nil, err
	}
	return planner.BuildPlan(d.cfg, record)
}

// Run provisions all required artifacts, then executes the plan step by
// step. Each outcome is persisted before the next step starts, so an
// interrupt at any point leaves a resumable record. It returns the report
// of everything deployed so far, even on failure.
func (d *Deployment) Run(ctx context.Context) (*Report, error) {
	plan, err := d.Plan()
	if err != nil {
		return nil, err
	}
	if plan.IsEmpty() {
		log.Infow("deployment already complete, nothing to do", "deployment", d.name)
		return d.report()
	}
	log.Infow("deployment plan ready",
		"deployment", d.name,
		"pendingSteps", len(plan.Steps),
		"completedSteps", len(plan.Satisfied),
	)

	if err := d.provisioner.EnsureAll(ctx, pendingArtifactKeys(plan)); err != nil {
		return nil, fmt.Errorf("artifact provisioning failed: %w", err)
	}

	addresses := make(map[types.StepID]common.Address, len(plan.Satisfied))
	for id, addr := range plan.Satisfied {
		addresses[id] = addr
	}
	resolve := func(id types.StepID) (common.Address, bool) {
		addr, ok := addresses[id]
		return addr, ok
	}

	for i, step := range plan.Steps {
		log.Infow("executing step",
			"deployment", d.name,
			"step", string(step.ID),
			"kind", step.Kind.String(),
			"progress", fmt.Sprintf("%d/%d", i+1, len(plan.Steps)),
		)
		if err := d.store.RecordInProgress(d.name, step.ID); err != nil {
			return nil, err
		}
		addr, execErr := d.executor.Execute(ctx, step, resolve)
		if execErr != nil {
			if recErr := d.store.RecordFailure(d.name, step.ID, execErr); recErr != nil {
				log.Errorw(recErr, "could not record step failure")
			}
			log.Errorw(execErr, fmt.Sprintf("step %s failed; completed steps are preserved, re-run %q to resume", step.ID, d.name))
			report, _ := d.report()
			return report, execErr
		}
		if err := d.store.RecordCompletion(d.name, step.ID, addr); err != nil {
			return nil, fmt.Errorf("step %s succeeded at %s but could not be recorded: %w", step.ID, addr.Hex(), err)
		}
		addresses[step.ID] = addr
	}

	log.Infow("deployment complete", "deployment", d.name, "executedSteps", len(plan.Steps))
	return d.report()
}

// pendingArtifactKeys returns the artifact keys of the verifier steps still
// to execute. Artifacts for already-deployed verifiers are not needed.
func pendingArtifactKeys(plan *planner.Plan) []types.ArtifactKey {
	var keys []types.ArtifactKey
	for _, step := range plan.Steps {
		if step.Kind == planner.StepDeployVerifier {
			keys = append(keys, step.Key)
		}
	}
	return keys
}

func (d *Deployment) report() (*Report, error) {
	record, err := d.store.Load(d.name)
	if err != nil {
		return nil, err
	}
	return buildReport(d.cfg, record), nil
}
