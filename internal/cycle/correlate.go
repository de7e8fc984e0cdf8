package cycle

import (
	"sort"

	"github.com/sells-group/salescycle/internal/model"
)

// Correlation links a secondary-stage instance to the primary-stage instance
// it continues.
type Correlation struct {
	Secondary model.StageInstance
	PrimaryID string
}

// Correlate links each secondary instance to the same-owner primary instance
// with the greatest CreatedAt strictly before the secondary's CreatedAt.
// Equal primary creation times resolve to the smallest ID. Secondaries with no
// eligible primary are returned in dropped. Both results are ordered by
// secondary (CreatedAt, ID).
func Correlate(primaries, secondaries []model.StageInstance) (linked []Correlation, dropped []model.StageInstance) {
	byOwner := make(map[string][]model.StageInstance)
	for _, p := range primaries {
		byOwner[p.OwnerID] = append(byOwner[p.OwnerID], p)
	}
	for _, ps := range byOwner {
		// Ascending time, descending ID so the last eligible entry is the
		// smallest ID among equal times.
		sort.Slice(ps, func(i, j int) bool {
			if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
				return ps[i].CreatedAt.Before(ps[j].CreatedAt)
			}
			return ps[i].ID > ps[j].ID
		})
	}

	secs := append([]model.StageInstance(nil), secondaries...)
	sortInstances(secs)

	for _, s := range secs {
		ps := byOwner[s.OwnerID]
		// First primary not strictly before s.
		idx := sort.Search(len(ps), func(i int) bool {
			return !ps[i].CreatedAt.Before(s.CreatedAt)
		})
		if idx == 0 {
			dropped = append(dropped, s)
			continue
		}
		linked = append(linked, Correlation{Secondary: s, PrimaryID: ps[idx-1].ID})
	}
	return linked, dropped
}

// DedupFirstCreated keeps, per primary, only the earliest-created secondary
// (ties by ID). It returns the kept links in secondary (CreatedAt, ID) order
// and the number removed.
func DedupFirstCreated(links []Correlation) ([]Correlation, int) {
	sorted := append([]Correlation(nil), links...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Secondary, sorted[j].Secondary
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	claimed := make(map[string]bool, len(sorted))
	kept := make([]Correlation, 0, len(sorted))
	for _, l := range sorted {
		if claimed[l.PrimaryID] {
			continue
		}
		claimed[l.PrimaryID] = true
		kept = append(kept, l)
	}
	return kept, len(sorted) - len(kept)
}
