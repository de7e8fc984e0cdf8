package cycle

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/salescycle/internal/model"
)

// Merge builds the cycle row for a primary instance and its optional
// correlated secondary. For every milestone the secondary value wins when
// present, the primary value is the fallback.
func Merge(p PrimaryMilestones, s *SecondaryMilestones, f *Facts, r Rules) model.Cycle {
	c := model.Cycle{
		PrimaryInstanceID: p.Instance.ID,
		OwnerID:           p.Instance.OwnerID,
		EntityID:          p.Instance.EntityID,
		CreatedAt:         p.Instance.CreatedAt,
		Milestones:        make(model.MilestoneSet),
		Interested:        p.Interested,
		InterestStatus:    p.InterestStatus,
		NotInterestedAt:   p.NotInterestedAt,
		ReferenceID:       p.ReferenceID,
	}

	var secondary model.MilestoneSet
	var secondaryDesign string
	if s != nil {
		c.SecondaryInstanceID = s.Instance.ID
		created := s.Instance.CreatedAt
		c.SecondaryCreatedAt = &created
		c.TerminatedAt = s.TerminatedAt
		c.Terminated = s.TerminatedAt != nil
		secondary = s.Milestones
		secondaryDesign = s.DesignSize
	}

	for _, m := range r.Milestones {
		var fromSecondary, fromPrimary *time.Time
		if m.Secondary {
			fromSecondary = secondary.Get(m.Name)
		}
		if m.Primary {
			fromPrimary = p.Milestones.Get(m.Name)
		}
		if v := Coalesce(fromSecondary, fromPrimary); v != nil {
			c.Milestones[m.Name] = *v
		}
	}

	if p.ReferenceCount > 1 {
		c.Issues = append(c.Issues, fmt.Sprintf("ambiguous reference id: %s", p.ReferenceID))
	}

	linkContract(&c, f)
	linkVisit(&c, f)
	resolveSizes(&c, p, secondaryDesign, f, r)

	if o, ok := f.Owner(c.OwnerID); ok && r.AssigneeAttr != "" {
		c.Assignee = o.Attributes[r.AssigneeAttr]
	}

	for _, issue := range c.Issues {
		zap.L().Warn("cycle: record issue",
			zap.String("primary_instance_id", c.PrimaryInstanceID),
			zap.String("issue", issue),
		)
	}
	return c
}

func linkContract(c *model.Cycle, f *Facts) {
	if c.ReferenceID == "" {
		return
	}
	contract, ok := f.Contract(c.ReferenceID, c.OwnerID)
	if !ok {
		return
	}
	active := contract.Active
	c.ContractID = contract.ID
	c.ContractActive = &active
}

// linkVisit attaches the earliest visit starting strictly after signing and
// strictly before validation, or completion when validation is unresolved.
func linkVisit(c *model.Cycle, f *Facts) {
	signing := c.Milestones.Get(MilestoneSigning)
	if signing == nil {
		return
	}
	upper := Coalesce(c.Milestones.Get(MilestoneValidation), c.Milestones.Get(MilestoneCompletion))
	if v, ok := f.FirstVisitBetween(c.OwnerID, *signing, upper); ok {
		start := v.StartTime
		c.VisitStart = &start
	}
}

// resolveSizes computes new size minus the last known size before the cycle
// was created. A parse failure nulls the delta and records an issue.
func resolveSizes(c *model.Cycle, p PrimaryMilestones, secondaryDesign string, f *Facts, r Rules) {
	var refSize string
	if p.Reference != nil {
		if v, err := ParseSize(p.Reference.Size); err != nil {
			c.Issues = append(c.Issues, fmt.Sprintf("unparseable reference size: %q", p.Reference.Size))
		} else {
			c.ReferenceSize = v
			refSize = p.Reference.Size
		}
	}

	newRaw := CoalesceString(secondaryDesign, p.DesignSize, refSize)
	newSize, err := ParseSize(newRaw)
	if err != nil {
		c.Issues = append(c.Issues, fmt.Sprintf("unparseable design size: %q", newRaw))
		return
	}
	c.NewSize = newSize

	key := c.EntityID
	if r.PriorStateKey == PriorStateByContract {
		key = c.ContractID
	}
	previous := 0.0
	if key != "" {
		if ps, ok := f.PriorStateBefore(key, c.CreatedAt); ok {
			v, err := ParseSize(ps.Size)
			if err != nil {
				c.Issues = append(c.Issues, fmt.Sprintf("unparseable previous size: %q", ps.Size))
				return
			}
			if v != nil {
				c.PreviousSize = v
				previous = *v
			}
		}
	}

	if newSize != nil {
		delta := *newSize - previous
		c.SizeDelta = &delta
	}
}

// Collapse keeps exactly one row per primary instance. Candidates are ranked
// by earliest secondary creation (uncorrelated rows last), then earliest
// visit start (rows without a visit last), then secondary ID. The result is
// ordered by (CreatedAt, PrimaryInstanceID).
func Collapse(rows []model.Cycle) []model.Cycle {
	sorted := append([]model.Cycle(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.PrimaryInstanceID != b.PrimaryInstanceID {
			return a.PrimaryInstanceID < b.PrimaryInstanceID
		}
		if c := compareOptionalTime(a.SecondaryCreatedAt, b.SecondaryCreatedAt); c != 0 {
			return c < 0
		}
		if c := compareOptionalTime(a.VisitStart, b.VisitStart); c != 0 {
			return c < 0
		}
		return a.SecondaryInstanceID < b.SecondaryInstanceID
	})

	out := make([]model.Cycle, 0, len(sorted))
	for i, row := range sorted {
		if i > 0 && row.PrimaryInstanceID == sorted[i-1].PrimaryInstanceID {
			continue
		}
		out = append(out, row)
	}
	SortCycles(out)
	return out
}

// SortCycles orders rows by (CreatedAt, PrimaryInstanceID).
func SortCycles(rows []model.Cycle) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].PrimaryInstanceID < rows[j].PrimaryInstanceID
	})
}

// compareOptionalTime orders non-nil times ascending before nil.
func compareOptionalTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.Before(*b):
		return -1
	case b.Before(*a):
		return 1
	default:
		return 0
	}
}
