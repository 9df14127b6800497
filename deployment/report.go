package deployment

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/zkgroups/deployer/config"
	"github.com/zkgroups/deployer/planner"
	"github.com/zkgroups/deployer/types"
)

// ReportFilename is the report file written into the deployment directory.
const ReportFilename = "report.yaml"

// Report summarizes what a deployment has put on-chain so far. It is a
// human-readable artifact; the state store remains the source of truth.
type Report struct {
	RunID       string    `yaml:"run_id"`
	Deployment  string    `yaml:"deployment"`
	GeneratedAt time.Time `yaml:"generated_at"`

	// Verifiers maps artifact keys (mode/depth/batch) to deployed
	// verifier addresses.
	Verifiers map[string]string `yaml:"verifiers,omitempty"`
	// Groups maps group ids to their dispatcher addresses.
	Groups map[types.GroupID]string `yaml:"groups,omitempty"`
	Router string                   `yaml:"router,omitempty"`

	// Failed lists steps in a failed state with their recorded causes.
	Failed map[string]string `yaml:"failed,omitempty"`
}

func buildReport(cfg *config.Config, record *types.DeploymentRecord) *Report {
	report := &Report{
		RunID:       uuid.New().String(),
		Deployment:  record.Name,
		GeneratedAt: time.Now().UTC(),
		Verifiers:   map[string]string{},
		Groups:      map[types.GroupID]string{},
		Failed:      map[string]string{},
	}
	for _, key := range cfg.ArtifactKeys() {
		if addr, ok := record.CompletedAddress(planner.VerifierStepID(key)); ok {
			report.Verifiers[key.String()] = addr.Hex()
		}
	}
	for _, id := range cfg.GroupIDs() {
		if addr, ok := record.CompletedAddress(planner.GroupStepID(id)); ok {
			report.Groups[id] = addr.Hex()
		}
	}
	if addr, ok := record.CompletedAddress(planner.RouterStepID); ok {
		report.Router = addr.Hex()
	}
	for id, rec := range record.Steps {
		if rec.Status == types.StepStatusFailed {
			report.Failed[string(id)] = rec.Error
		}
	}
	return report
}

// Write stores the report as YAML inside dir.
func (r *Report) Write(dir string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("could not encode report: %w", err)
	}
	path := filepath.Join(dir, ReportFilename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("could not write report: %w", err)
	}
	return nil
}
