// Package planner derives the ordered list of on-chain steps a deployment
// still needs. It holds no durable state of its own: every run recomputes
// the plan from the configuration and the persisted deployment record, so
// re-running the tool converges instead of repeating work.
package planner

import (
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/zkgroups/deployer/config"
	"github.com/zkgroups/deployer/types"
)

// StepKind discriminates the fixed step taxonomy.
type StepKind int

const (
	// StepDeployVerifier puts the verifier contract for one ArtifactKey
	// on-chain.
	StepDeployVerifier StepKind = iota
	// StepRegisterGroup deploys a group's lookup table and wires it to the
	// verifier addresses for every batch size the group supports.
	StepRegisterGroup
	// StepDeployRouter deploys the top-level router referencing all group
	// lookup tables.
	StepDeployRouter
)

func (k StepKind) String() string {
	switch k {
	case StepDeployVerifier:
		return "deploy-verifier"
	case StepRegisterGroup:
		return "register-group"
	case StepDeployRouter:
		return "deploy-router"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Step is one unit of on-chain work. Key is set for verifier steps, Group
// for group registration steps.
type Step struct {
	ID        types.StepID
	Kind      StepKind
	Key       types.ArtifactKey
	Group     types.GroupID
	DependsOn []types.StepID
}

// VerifierStepID returns the stable id of the verifier deployment step for
// an artifact key.
func VerifierStepID(key types.ArtifactKey) types.StepID {
	return types.StepID("verifier/" + key.String())
}

// GroupStepID returns the stable id of a group's registration step.
func GroupStepID(id types.GroupID) types.StepID {
	return types.StepID(fmt.Sprintf("group/%d", id))
}

// RouterStepID is the id of the optional router deployment step.
const RouterStepID = types.StepID("router")

// Plan is an ordered, executable step sequence plus the addresses of steps
// the record already marks completed. Completed steps are omitted from
// Steps but stay available as satisfied dependencies.
type Plan struct {
	Steps     []Step
	Satisfied map[types.StepID]ethcommon.Address
}

// IsEmpty reports whether nothing remains to execute.
func (p *Plan) IsEmpty() bool {
	return len(p.Steps) == 0
}

// StepIDs returns the ids of the executable steps in plan order.
func (p *Plan) StepIDs() []types.StepID {
	ids := make([]types.StepID, len(p.Steps))
	for i, step := range p.Steps {
		ids[i] = step.ID
	}
	return ids
}

// PlanningError reports an internal inconsistency while building a plan. It
// is fatal: it indicates a config or logic problem, not a transient fault.
type PlanningError struct {
	Reason string
}

func (e *PlanningError) Error() string {
	return "planning failed: " + e.Reason
}

// BuildPlan derives the step sequence for the given configuration, skipping
// steps the record already marks completed. Ordering is deterministic:
// verifier steps sorted by artifact key, then group registrations by
// ascending group id, then the router. Two groups sharing an artifact key
// share a single verifier step.
func BuildPlan(cfg *config.Config, record *types.DeploymentRecord) (*Plan, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var all []Step
	for _, key := range cfg.ArtifactKeys() {
		all = append(all, Step{
			ID:   VerifierStepID(key),
			Kind: StepDeployVerifier,
			Key:  key,
		})
	}
	groupIDs := cfg.GroupIDs()
	for _, id := range groupIDs {
		keys := cfg.GroupArtifactKeys(id)
		deps := make([]types.StepID, len(keys))
		for i, key := range keys {
			deps[i] = VerifierStepID(key)
		}
		all = append(all, Step{
			ID:        GroupStepID(id),
			Kind:      StepRegisterGroup,
			Group:     id,
			DependsOn: deps,
		})
	}
	if cfg.Misc.DeployRouter {
		deps := make([]types.StepID, len(groupIDs))
		for i, id := range groupIDs {
			deps[i] = GroupStepID(id)
		}
		all = append(all, Step{
			ID:        RouterStepID,
			Kind:      StepDeployRouter,
			DependsOn: deps,
		})
	}

	ordered, err := topoSort(all)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Satisfied: map[types.StepID]ethcommon.Address{}}
	for _, step := range ordered {
		if addr, ok := record.CompletedAddress(step.ID); ok {
			plan.Satisfied[step.ID] = addr
			continue
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan, nil
}

// topoSort orders steps so every step follows its dependencies, keeping the
// input order among steps whose dependencies are met (Kahn's algorithm with
// a stable frontier). The step taxonomy is a fixed two-level DAG, but a
// cycle is still checked for and reported as a PlanningError.
func topoSort(steps []Step) ([]Step, error) {
	indegree := make(map[types.StepID]int, len(steps))
	dependents := make(map[types.StepID][]types.StepID, len(steps))
	byID := make(map[types.StepID]Step, len(steps))
	for _, step := range steps {
		if _, dup := byID[step.ID]; dup {
			return nil, &PlanningError{Reason: fmt.Sprintf("duplicate step id %q", step.ID)}
		}
		byID[step.ID] = step
		indegree[step.ID] = 0
	}
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, &PlanningError{
					Reason: fmt.Sprintf("step %q depends on unknown step %q", step.ID, dep),
				}
			}
			indegree[step.ID]++
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	ordered := make([]Step, 0, len(steps))
	done := map[types.StepID]bool{}
	for len(ordered) < len(steps) {
		progressed := false
		for _, step := range steps {
			if done[step.ID] || indegree[step.ID] > 0 {
				continue
			}
			done[step.ID] = true
			ordered = append(ordered, step)
			for _, dep := range dependents[step.ID] {
				indegree[dep]--
			}
			progressed = true
		}
		if !progressed {
			return nil, &PlanningError{Reason: "dependency cycle detected"}
		}
	}
	return ordered, nil
}
