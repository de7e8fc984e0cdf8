// Package model defines the source-of-record rows read by the cycle engine
// and the report rows it produces.
package model

import "time"

// StageInstance is one process-stage record (sales or delivery) for an owner.
type StageInstance struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	EntityID  string    `json:"entity_id,omitempty"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// Document is a form or file attached to exactly one stage instance.
type Document struct {
	ID              string            `json:"id"`
	StageInstanceID string            `json:"stage_instance_id"`
	DocType         string            `json:"doc_type"`
	Name            string            `json:"name,omitempty"`
	Status          string            `json:"status,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Attr returns the named attribute, or "" when absent.
func (d Document) Attr(key string) string {
	if d.Attributes == nil {
		return ""
	}
	return d.Attributes[key]
}

// ApprovalEvent is emitted each time a document transitions into a status.
// Only events of the configured approval kind count as approvals.
type ApprovalEvent struct {
	DocID     string    `json:"doc_id"`
	OwnerID   string    `json:"owner_id,omitempty"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// ReferenceRecord is a proposal or catalog entry joined by a free-text code.
type ReferenceRecord struct {
	ReferenceID string            `json:"reference_id"`
	Size        string            `json:"size,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Contract links a proposal reference to an owner.
type Contract struct {
	ID          string `json:"id"`
	ReferenceID string `json:"reference_id"`
	OwnerID     string `json:"owner_id"`
	Active      bool   `json:"active"`
}

// PriorState is a historical installation/project state.
type PriorState struct {
	EntityID   string    `json:"entity_id"`
	ContractID string    `json:"contract_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Size       string    `json:"size,omitempty"`
}

// VisitRecord is a scheduled field visit owned by some stage instance.
type VisitRecord struct {
	OwningInstanceID string    `json:"owning_instance_id"`
	ServiceTag       string    `json:"service_tag,omitempty"`
	StartTime        time.Time `json:"start_time"`
}

// OwnerContainer carries account-level attributes such as the assignee.
type OwnerContainer struct {
	OwnerID    string            `json:"owner_id"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Snapshot is an immutable read of every source table for one run.
type Snapshot struct {
	TakenAt     time.Time         `json:"taken_at"`
	Stages      []StageInstance   `json:"stages"`
	Documents   []Document        `json:"documents"`
	Approvals   []ApprovalEvent   `json:"approvals"`
	References  []ReferenceRecord `json:"references"`
	Contracts   []Contract        `json:"contracts"`
	PriorStates []PriorState      `json:"prior_states"`
	Visits      []VisitRecord     `json:"visits"`
	Owners      []OwnerContainer  `json:"owners"`
}
