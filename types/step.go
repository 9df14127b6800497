package types

import (
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// StepID identifies one unit of on-chain work within a deployment. IDs are
// stable across runs so that persisted records from earlier runs match the
// steps a fresh plan derives from the same configuration.
type StepID string

// StepStatus is the lifecycle state of a deployment step.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
)

// StepRecord is the persisted outcome of a single step.
type StepRecord struct {
	Status    StepStatus        `cbor:"1,keyasint" json:"status"`
	Address   ethcommon.Address `cbor:"2,keyasint" json:"address,omitempty"`
	Error     string            `cbor:"3,keyasint" json:"error,omitempty"`
	UpdatedAt time.Time         `cbor:"4,keyasint" json:"updatedAt"`
}

// DeploymentRecord is the durable per-deployment state: which steps have
// reached a terminal status and, for completed ones, the resulting address.
// It is the sole source of truth for what is already on-chain.
type DeploymentRecord struct {
	Name  string                `cbor:"1,keyasint" json:"name"`
	Steps map[StepID]StepRecord `cbor:"2,keyasint" json:"steps"`
}

// NewDeploymentRecord returns an empty record for the given deployment name.
func NewDeploymentRecord(name string) *DeploymentRecord {
	return &DeploymentRecord{Name: name, Steps: map[StepID]StepRecord{}}
}

// IsCompleted reports whether the given step has already completed.
func (r *DeploymentRecord) IsCompleted(id StepID) bool {
	if r == nil {
		return false
	}
	return r.Steps[id].Status == StepStatusCompleted
}

// CompletedAddress returns the deployed address for a completed step.
func (r *DeploymentRecord) CompletedAddress(id StepID) (ethcommon.Address, bool) {
	if r == nil {
		return ethcommon.Address{}, false
	}
	rec, ok := r.Steps[id]
	if !ok || rec.Status != StepStatusCompleted {
		return ethcommon.Address{}, false
	}
	return rec.Address, true
}
