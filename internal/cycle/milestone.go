package cycle

import (
	"sort"
	"strings"
	"time"

	"github.com/sells-group/salescycle/internal/model"
)

// referenceSeparator joins reference codes when an instance carries more than
// one. Its presence in a report cell marks an ambiguous identifier.
const referenceSeparator = ", "

// PrimaryMilestones is the extraction result for one primary-stage instance.
type PrimaryMilestones struct {
	Instance        model.StageInstance
	Milestones      model.MilestoneSet
	Interest        InterestAnswer
	Interested      bool
	InterestStatus  string
	NotInterestedAt *time.Time
	ReferenceID     string
	ReferenceCount  int
	Reference       *model.ReferenceRecord
	DesignSize      string
}

// SecondaryMilestones is the extraction result for one correlated
// secondary-stage instance.
type SecondaryMilestones struct {
	Instance     model.StageInstance
	PrimaryID    string
	Milestones   model.MilestoneSet
	TerminatedAt *time.Time
	DesignSize   string
}

// docsByType groups documents by type, each bucket ordered by (CreatedAt, ID).
func docsByType(docs []model.Document) map[string][]model.Document {
	out := make(map[string][]model.Document)
	for _, d := range docs {
		out[d.DocType] = append(out[d.DocType], d)
	}
	for _, bucket := range out {
		sortDocuments(bucket)
	}
	return out
}

func sortDocuments(docs []model.Document) {
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
}

// firstApproval returns the earliest approval time across docs.
func firstApproval(docs []model.Document, approvals map[string]time.Time) (time.Time, bool) {
	var (
		best  time.Time
		found bool
	)
	for _, d := range docs {
		at, ok := approvals[d.ID]
		if !ok {
			continue
		}
		if !found || at.Before(best) {
			best, found = at, true
		}
	}
	return best, found
}

// extractMilestones reduces each enabled milestone to its first approval.
func extractMilestones(byType map[string][]model.Document, approvals map[string]time.Time, rules []MilestoneRule, enabled func(MilestoneRule) bool) model.MilestoneSet {
	set := make(model.MilestoneSet)
	for _, m := range rules {
		if !enabled(m) {
			continue
		}
		var docs []model.Document
		for _, t := range m.DocTypes {
			docs = append(docs, byType[t]...)
		}
		if at, ok := firstApproval(docs, approvals); ok {
			set[m.Name] = at
		}
	}
	return set
}

// firstAttr returns the trimmed attribute of the earliest document that
// carries a non-blank value.
func firstAttr(docs []model.Document, key string) string {
	for _, d := range docs {
		if v := strings.TrimSpace(d.Attr(key)); v != "" {
			return v
		}
	}
	return ""
}

// ExtractPrimary resolves milestones, interest, reference and design data for
// a primary-stage instance. docs must be the documents attached to inst.
func ExtractPrimary(inst model.StageInstance, docs []model.Document, approvals map[string]time.Time, refs map[string]model.ReferenceRecord, r Rules) PrimaryMilestones {
	byType := docsByType(docs)
	out := PrimaryMilestones{
		Instance:   inst,
		Milestones: extractMilestones(byType, approvals, r.Milestones, func(m MilestoneRule) bool { return m.Primary }),
	}

	interestDocs := byType[r.InterestDocType]
	answers := make([]InterestAnswer, 0, len(interestDocs))
	for _, d := range interestDocs {
		answers = append(answers, r.Interest.Interpret(d.Attr(r.InterestAttr)))
	}
	out.Interest = combineAnswers(answers)
	out.Interested = r.Interest.Interested(out.Interest)
	if len(interestDocs) > 0 {
		out.InterestStatus = interestDocs[0].Status
	}
	if !out.Interested {
		out.NotInterestedAt = out.Milestones.Get(MilestoneInterest)
	}

	var codes []string
	seen := make(map[string]bool)
	for _, d := range byType[r.ReferenceDocType] {
		v := strings.TrimSpace(d.Attr(r.ReferenceAttr))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		codes = append(codes, v)
	}
	out.ReferenceCount = len(codes)
	out.ReferenceID = strings.Join(codes, referenceSeparator)
	if out.ReferenceCount == 1 {
		if ref, ok := refs[out.ReferenceID]; ok {
			out.Reference = &ref
		}
	}

	out.DesignSize = firstAttr(byType[r.DesignDocType], r.DesignSizeAttr)
	return out
}

// ExtractSecondary resolves the secondary-enabled milestones and the
// termination milestone for a correlated secondary-stage instance.
// Termination is keyed by document name rather than type.
func ExtractSecondary(inst model.StageInstance, primaryID string, docs []model.Document, approvals map[string]time.Time, r Rules) SecondaryMilestones {
	byType := docsByType(docs)
	out := SecondaryMilestones{
		Instance:   inst,
		PrimaryID:  primaryID,
		Milestones: extractMilestones(byType, approvals, r.Milestones, func(m MilestoneRule) bool { return m.Secondary }),
		DesignSize: firstAttr(byType[r.DesignDocType], r.DesignSizeAttr),
	}

	if r.TerminationDocName != "" {
		want := normalizeToken(r.TerminationDocName)
		var termination []model.Document
		for _, d := range docs {
			if normalizeToken(d.Name) == want {
				termination = append(termination, d)
			}
		}
		if at, ok := firstApproval(termination, approvals); ok {
			out.TerminatedAt = &at
		}
	}
	return out
}
