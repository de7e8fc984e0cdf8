// Package cycle correlates primary (sales) and secondary (delivery) stage
// instances into one sales cycle per primary instance and resolves each
// cycle's milestone dates from document approval history.
package cycle

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/salescycle/internal/config"
)

// Milestone names the engine depends on directly.
const (
	MilestoneInterest      = "interest"
	MilestoneSigning       = "signing"
	MilestoneScheduling    = "scheduling"
	MilestoneValidation    = "validation"
	MilestoneCompletion    = "completion"
	MilestoneDocumentation = "documentation"
)

// PriorStateKey selects how previous installation state is looked up.
type PriorStateKey string

const (
	PriorStateByEntity   PriorStateKey = "entity"
	PriorStateByContract PriorStateKey = "contract"
)

// MilestoneRule maps a milestone to the document types whose first approval
// reaches it, and to the stages that may carry those documents.
type MilestoneRule struct {
	Name      string
	DocTypes  []string
	Primary   bool
	Secondary bool
}

// Rules holds every tag and attribute name the engine reads.
type Rules struct {
	PrimaryStageType      string
	SecondaryStageType    string
	ProductOfInterest     string
	DocumentationDocType  string
	DocumentationTypeAttr string
	ApprovalKind          string
	InterestDocType       string
	InterestAttr          string
	Interest              InterestPolicy
	ReferenceDocType      string
	ReferenceAttr         string
	DesignDocType         string
	DesignSizeAttr        string
	TerminationDocName    string
	VisitServiceTag       string
	AssigneeAttr          string
	PriorStateKey         PriorStateKey
	Milestones            []MilestoneRule
}

// DefaultMilestones returns the standard six-step process.
func DefaultMilestones() []MilestoneRule {
	return []MilestoneRule{
		{Name: MilestoneInterest, DocTypes: []string{"interest"}, Primary: true},
		{Name: MilestoneSigning, DocTypes: []string{"signing"}, Primary: true, Secondary: true},
		{Name: MilestoneScheduling, DocTypes: []string{"scheduling"}, Primary: true, Secondary: true},
		{Name: MilestoneValidation, DocTypes: []string{"validation"}, Primary: true, Secondary: true},
		{Name: MilestoneCompletion, DocTypes: []string{"completion"}, Primary: true, Secondary: true},
		{Name: MilestoneDocumentation, DocTypes: []string{"documentation"}, Primary: true},
	}
}

// DefaultRules returns the rules used when no configuration overrides them.
func DefaultRules() Rules {
	return Rules{
		PrimaryStageType:      "sales",
		SecondaryStageType:    "delivery",
		ProductOfInterest:     "solar",
		DocumentationDocType:  "documentation",
		DocumentationTypeAttr: "type",
		ApprovalKind:          "document_approval",
		InterestDocType:       "interest",
		InterestAttr:          "customerInterested",
		Interest:              NewInterestPolicy([]string{"no", "nao"}, true),
		ReferenceDocType:      "signing",
		ReferenceAttr:         "proposalCode",
		DesignDocType:         "design",
		DesignSizeAttr:        "size",
		TerminationDocName:    "termination",
		VisitServiceTag:       "site_visit",
		AssigneeAttr:          "assignee",
		PriorStateKey:         PriorStateByEntity,
		Milestones:            DefaultMilestones(),
	}
}

// RulesFromConfig overlays configured values on DefaultRules.
func RulesFromConfig(cfg config.CycleConfig) Rules {
	r := DefaultRules()
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&r.PrimaryStageType, cfg.PrimaryStageType)
	set(&r.SecondaryStageType, cfg.SecondaryStageType)
	set(&r.ProductOfInterest, cfg.ProductOfInterest)
	set(&r.DocumentationDocType, cfg.DocumentationDocType)
	set(&r.DocumentationTypeAttr, cfg.DocumentationTypeAttr)
	set(&r.ApprovalKind, cfg.ApprovalKind)
	set(&r.InterestDocType, cfg.InterestDocType)
	set(&r.InterestAttr, cfg.InterestAttr)
	set(&r.ReferenceDocType, cfg.ReferenceDocType)
	set(&r.ReferenceAttr, cfg.ReferenceAttr)
	set(&r.DesignDocType, cfg.DesignDocType)
	set(&r.DesignSizeAttr, cfg.DesignSizeAttr)
	set(&r.TerminationDocName, cfg.TerminationDocName)
	set(&r.AssigneeAttr, cfg.AssigneeAttr)
	// Empty matches every visit.
	r.VisitServiceTag = cfg.VisitServiceTag
	if cfg.PriorStateKey != "" {
		r.PriorStateKey = PriorStateKey(cfg.PriorStateKey)
	}
	if len(cfg.NegativeValues) > 0 {
		r.Interest = NewInterestPolicy(cfg.NegativeValues, cfg.AbsentMeansInterested)
	} else {
		r.Interest.AbsentMeansInterested = cfg.AbsentMeansInterested
	}

	if len(cfg.Milestones) > 0 {
		r.Milestones = make([]MilestoneRule, 0, len(cfg.Milestones))
		for _, m := range cfg.Milestones {
			r.Milestones = append(r.Milestones, MilestoneRule{
				Name:      m.Name,
				DocTypes:  append([]string(nil), m.DocTypes...),
				Primary:   m.Primary,
				Secondary: m.Secondary,
			})
		}
	}
	return r
}

// Validate rejects rule sets the engine cannot evaluate.
func (r Rules) Validate() error {
	if r.PrimaryStageType == "" || r.SecondaryStageType == "" {
		return eris.New("cycle: primary and secondary stage types are required")
	}
	if r.PrimaryStageType == r.SecondaryStageType {
		return eris.Errorf("cycle: primary and secondary stage types must differ (both %q)", r.PrimaryStageType)
	}
	if r.ApprovalKind == "" {
		return eris.New("cycle: approval kind is required")
	}
	switch r.PriorStateKey {
	case PriorStateByEntity, PriorStateByContract:
	default:
		return eris.Errorf("cycle: unknown prior state key %q", r.PriorStateKey)
	}

	seen := make(map[string]bool, len(r.Milestones))
	for _, m := range r.Milestones {
		if m.Name == "" {
			return eris.New("cycle: milestone name is required")
		}
		if seen[m.Name] {
			return eris.Errorf("cycle: duplicate milestone %q", m.Name)
		}
		seen[m.Name] = true
		if len(m.DocTypes) == 0 {
			return eris.Errorf("cycle: milestone %q has no document types", m.Name)
		}
		if !m.Primary && !m.Secondary {
			return eris.Errorf("cycle: milestone %q is enabled for neither stage", m.Name)
		}
	}
	for _, name := range []string{MilestoneSigning, MilestoneValidation, MilestoneCompletion} {
		if !seen[name] {
			return eris.Errorf("cycle: milestone %q is required for visit windowing", name)
		}
	}
	return nil
}

// MilestoneNames returns the configured milestone names in rule order.
func (r Rules) MilestoneNames() []string {
	names := make([]string, len(r.Milestones))
	for i, m := range r.Milestones {
		names[i] = m.Name
	}
	return names
}
