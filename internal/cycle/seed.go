package cycle

import (
	"sort"

	"github.com/sells-group/salescycle/internal/model"
)

// SelectSeeds returns the primary-stage instances whose documentation record
// declares the product of interest, ordered by (CreatedAt, ID). Instances with
// no such record are out of scope and silently skipped.
func SelectSeeds(stages []model.StageInstance, docs []model.Document, r Rules) []model.StageInstance {
	product := normalizeToken(r.ProductOfInterest)
	inScope := make(map[string]bool)
	for _, d := range docs {
		if d.DocType != r.DocumentationDocType {
			continue
		}
		if normalizeToken(d.Attr(r.DocumentationTypeAttr)) == product {
			inScope[d.StageInstanceID] = true
		}
	}

	seen := make(map[string]bool)
	var seeds []model.StageInstance
	for _, s := range stages {
		if s.Type != r.PrimaryStageType || !inScope[s.ID] || seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		seeds = append(seeds, s)
	}
	sortInstances(seeds)
	return seeds
}

// sortInstances orders stage instances by (CreatedAt, ID).
func sortInstances(xs []model.StageInstance) {
	sort.Slice(xs, func(i, j int) bool {
		if !xs[i].CreatedAt.Equal(xs[j].CreatedAt) {
			return xs[i].CreatedAt.Before(xs[j].CreatedAt)
		}
		return xs[i].ID < xs[j].ID
	})
}
