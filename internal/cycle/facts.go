package cycle

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/salescycle/internal/model"
)

// Facts holds the read-only auxiliary lookups used by Merge.
type Facts struct {
	contracts map[contractKey][]model.Contract
	prior     map[string][]model.PriorState
	visits    map[string][]model.VisitRecord
	owners    map[string]model.OwnerContainer
	priorKey  PriorStateKey
}

type contractKey struct {
	referenceID string
	ownerID     string
}

// NewFacts indexes the auxiliary tables of a snapshot. Visits are resolved to
// owners through the full stage table and filtered by the rules' service tag.
func NewFacts(snap *model.Snapshot, r Rules) *Facts {
	f := &Facts{
		contracts: make(map[contractKey][]model.Contract),
		prior:     make(map[string][]model.PriorState),
		visits:    make(map[string][]model.VisitRecord),
		owners:    make(map[string]model.OwnerContainer, len(snap.Owners)),
		priorKey:  r.PriorStateKey,
	}

	for _, c := range snap.Contracts {
		k := contractKey{referenceID: strings.TrimSpace(c.ReferenceID), ownerID: c.OwnerID}
		f.contracts[k] = append(f.contracts[k], c)
	}
	for k, cs := range f.contracts {
		// Active first, then smallest ID.
		sort.Slice(cs, func(i, j int) bool {
			if cs[i].Active != cs[j].Active {
				return cs[i].Active
			}
			return cs[i].ID < cs[j].ID
		})
		f.contracts[k] = cs
	}

	for _, ps := range snap.PriorStates {
		key := ps.EntityID
		if r.PriorStateKey == PriorStateByContract {
			key = ps.ContractID
		}
		if key == "" {
			continue
		}
		f.prior[key] = append(f.prior[key], ps)
	}
	for _, states := range f.prior {
		sort.Slice(states, func(i, j int) bool {
			if !states[i].CreatedAt.Equal(states[j].CreatedAt) {
				return states[i].CreatedAt.Before(states[j].CreatedAt)
			}
			if states[i].ContractID != states[j].ContractID {
				return states[i].ContractID < states[j].ContractID
			}
			return states[i].Size < states[j].Size
		})
	}

	instanceOwner := make(map[string]string, len(snap.Stages))
	for _, s := range snap.Stages {
		instanceOwner[s.ID] = s.OwnerID
	}
	for _, v := range snap.Visits {
		if r.VisitServiceTag != "" && v.ServiceTag != r.VisitServiceTag {
			continue
		}
		owner, ok := instanceOwner[v.OwningInstanceID]
		if !ok {
			continue
		}
		f.visits[owner] = append(f.visits[owner], v)
	}
	for _, vs := range f.visits {
		sort.Slice(vs, func(i, j int) bool {
			if !vs[i].StartTime.Equal(vs[j].StartTime) {
				return vs[i].StartTime.Before(vs[j].StartTime)
			}
			return vs[i].OwningInstanceID < vs[j].OwningInstanceID
		})
	}

	for _, o := range snap.Owners {
		f.owners[o.OwnerID] = o
	}
	return f
}

// Contract returns the contract for a reference code and owner, preferring
// active contracts.
func (f *Facts) Contract(referenceID, ownerID string) (model.Contract, bool) {
	cs := f.contracts[contractKey{referenceID: referenceID, ownerID: ownerID}]
	if len(cs) == 0 {
		return model.Contract{}, false
	}
	return cs[0], true
}

// PriorStateBefore returns the most recent prior state for key created
// strictly before t.
func (f *Facts) PriorStateBefore(key string, t time.Time) (model.PriorState, bool) {
	states := f.prior[key]
	idx := sort.Search(len(states), func(i int) bool {
		return !states[i].CreatedAt.Before(t)
	})
	if idx == 0 {
		return model.PriorState{}, false
	}
	return states[idx-1], true
}

// FirstVisitBetween returns the earliest visit for owner starting strictly
// after lower and, when upper is non-nil, strictly before upper.
func (f *Facts) FirstVisitBetween(ownerID string, lower time.Time, upper *time.Time) (model.VisitRecord, bool) {
	for _, v := range f.visits[ownerID] {
		if !v.StartTime.After(lower) {
			continue
		}
		if upper != nil && !v.StartTime.Before(*upper) {
			// Sorted by start, nothing later can qualify.
			break
		}
		return v, true
	}
	return model.VisitRecord{}, false
}

// Owner returns the owner container for id.
func (f *Facts) Owner(id string) (model.OwnerContainer, bool) {
	o, ok := f.owners[id]
	return o, ok
}

// ParseSize parses a capacity attribute. Blank input yields nil without error.
// Both "7.5" and "7,5" are accepted.
func ParseSize(raw string) (*float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", ".")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "cycle: parse size %q", raw)
	}
	return &v, nil
}
