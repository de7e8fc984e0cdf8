package model

import (
	"sort"
	"time"
)

// MilestoneSet maps a milestone name to its first approval time.
// A missing key means the milestone has not been reached.
type MilestoneSet map[string]time.Time

// Get returns the milestone time or nil.
func (m MilestoneSet) Get(name string) *time.Time {
	t, ok := m[name]
	if !ok {
		return nil
	}
	return &t
}

// Names returns the reached milestone names in sorted order.
func (m MilestoneSet) Names() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Cycle is one report row: a primary stage instance plus everything
// correlated to it.
type Cycle struct {
	PrimaryInstanceID string    `json:"primary_instance_id"`
	OwnerID           string    `json:"owner_id"`
	EntityID          string    `json:"entity_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`

	SecondaryInstanceID string     `json:"secondary_instance_id,omitempty"`
	SecondaryCreatedAt  *time.Time `json:"secondary_created_at,omitempty"`

	Milestones MilestoneSet `json:"milestones"`

	Interested      bool       `json:"interested"`
	InterestStatus  string     `json:"interest_status,omitempty"`
	NotInterestedAt *time.Time `json:"not_interested_at,omitempty"`
	Terminated      bool       `json:"terminated"`
	TerminatedAt    *time.Time `json:"terminated_at,omitempty"`

	ReferenceID   string   `json:"reference_id,omitempty"`
	ReferenceSize *float64 `json:"reference_size,omitempty"`

	ContractID     string `json:"contract_id,omitempty"`
	ContractActive *bool  `json:"contract_active,omitempty"`

	VisitStart *time.Time `json:"visit_start,omitempty"`

	PreviousSize *float64 `json:"previous_size,omitempty"`
	NewSize      *float64 `json:"new_size,omitempty"`
	SizeDelta    *float64 `json:"size_delta,omitempty"`

	Assignee string   `json:"assignee,omitempty"`
	Issues   []string `json:"issues,omitempty"`
}

// Open reports whether no secondary instance has been correlated yet.
func (c Cycle) Open() bool {
	return c.SecondaryInstanceID == ""
}
