// Package pipeline exposes the small slice of the CRM's lead pipeline the
// signing workflow needs: advancing a lead to the "signed" stage matching the
// contract type once a document completes. Lead CRUD itself lives elsewhere.
package pipeline

import (
	"context"
	"sync"
)

// Stage is a pipeline step, ordered. A lead only ever moves forward.
type Stage struct {
	Order int
	Name  string
}

// Stage catalog. Orders mirror the production pipeline layout.
var (
	StageNew          = Stage{Order: 1, Name: "New"}
	StageContractSent = Stage{Order: 2, Name: "Contract sent"}
	StageBuyerSigned  = Stage{Order: 3, Name: "Buyer signed"}
	StageSellerSigned = Stage{Order: 4, Name: "Seller signed"}
	StageLawyerSigned = Stage{Order: 5, Name: "Lawyer signed"}
)

// StageForContractType maps a document contract type to its signed stage.
func StageForContractType(contractType string) (Stage, bool) {
	switch contractType {
	case "buyer":
		return StageBuyerSigned, true
	case "seller":
		return StageSellerSigned, true
	case "lawyer":
		return StageLawyerSigned, true
	}
	return Stage{}, false
}

// Advancer moves a lead forward in the pipeline when a contract is signed.
type Advancer interface {
	// AdvanceOnSigned advances the lead to the stage matching contractType.
	// Returns true when the lead moved; false when it was already at or past
	// the target stage, or the contract type has no stage mapping.
	AdvanceOnSigned(ctx context.Context, leadID int64, contractType string) (bool, error)
}

// Memory is an in-process Advancer, the default wiring for tests and for
// deployments where the CRM consumes stage changes from the audit stream.
type Memory struct {
	mu     sync.Mutex
	stages map[int64]Stage
}

// NewMemory creates an empty in-memory pipeline.
func NewMemory() *Memory {
	return &Memory{stages: make(map[int64]Stage)}
}

func (m *Memory) AdvanceOnSigned(ctx context.Context, leadID int64, contractType string) (bool, error) {
	target, ok := StageForContractType(contractType)
	if !ok {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.stages[leadID]
	if exists && current.Order >= target.Order {
		return false, nil
	}
	m.stages[leadID] = target
	return true, nil
}

// StageOf returns the lead's current stage.
func (m *Memory) StageOf(leadID int64) (Stage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stages[leadID]
	return s, ok
}
