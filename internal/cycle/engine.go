package cycle

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/salescycle/internal/model"
)

// Engine runs the full read-correlate-aggregate pass over a snapshot.
type Engine struct {
	rules       Rules
	concurrency int
}

// NewEngine creates an Engine. concurrency bounds the number of owner
// partitions processed at once; values below 1 mean 1.
func NewEngine(rules Rules, concurrency int) (*Engine, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{rules: rules, concurrency: concurrency}, nil
}

// Rules returns the engine's rule set.
func (e *Engine) Rules() Rules {
	return e.rules
}

// partition holds one owner's share of the snapshot.
type partition struct {
	ownerID     string
	primaries   []model.StageInstance
	secondaries []model.StageInstance
}

type partitionResult struct {
	cycles []model.Cycle
	stats  model.RunStats
}

// Run produces exactly one cycle per in-scope primary instance, ordered by
// (CreatedAt, PrimaryInstanceID). The snapshot is never modified. Only
// context cancellation makes Run fail; per-record problems are reported in
// Cycle.Issues.
func (e *Engine) Run(ctx context.Context, snap *model.Snapshot) ([]model.Cycle, *model.RunStats, error) {
	log := zap.L().With(zap.String("component", "cycle.engine"))
	start := time.Now()
	r := e.rules

	seeds := SelectSeeds(snap.Stages, snap.Documents, r)

	seedOwners := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		seedOwners[s.OwnerID] = true
	}
	var secondaries []model.StageInstance
	for _, s := range snap.Stages {
		if s.Type == r.SecondaryStageType && seedOwners[s.OwnerID] {
			secondaries = append(secondaries, s)
		}
	}

	scoped := make(map[string]bool, len(seeds)+len(secondaries))
	for _, s := range seeds {
		scoped[s.ID] = true
	}
	for _, s := range secondaries {
		scoped[s.ID] = true
	}
	docs := make(map[string][]model.Document)
	docIDs := make(map[string]struct{})
	for _, d := range snap.Documents {
		if !scoped[d.StageInstanceID] {
			continue
		}
		docs[d.StageInstanceID] = append(docs[d.StageInstanceID], d)
		docIDs[d.ID] = struct{}{}
	}

	approvals := ResolveApprovals(docIDs, snap.Approvals, r.ApprovalKind)

	refs := make(map[string]model.ReferenceRecord, len(snap.References))
	for _, ref := range snap.References {
		refs[ref.ReferenceID] = ref
	}
	facts := NewFacts(snap, r)

	parts := partitionByOwner(seeds, secondaries)
	results := make([]partitionResult, len(parts))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, p := range parts {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			results[i] = e.runPartition(p, docs, approvals, refs, facts, log)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, eris.Wrap(err, "cycle: run")
	}

	stats := &model.RunStats{}
	var cycles []model.Cycle
	for _, res := range results {
		cycles = append(cycles, res.cycles...)
		stats.Primaries += res.stats.Primaries
		stats.Secondaries += res.stats.Secondaries
		stats.Correlated += res.stats.Correlated
		stats.Uncorrelated += res.stats.Uncorrelated
		stats.Deduplicated += res.stats.Deduplicated
		stats.OpenCycles += res.stats.OpenCycles
		stats.RecordsWithIssues += res.stats.RecordsWithIssues
	}
	SortCycles(cycles)

	log.Info("cycle: run complete",
		zap.Int("owners", len(parts)),
		zap.Int("cycles", len(cycles)),
		zap.Int("correlated", stats.Correlated),
		zap.Int("uncorrelated", stats.Uncorrelated),
		zap.Int("deduplicated", stats.Deduplicated),
		zap.Int("open_cycles", stats.OpenCycles),
		zap.Int("records_with_issues", stats.RecordsWithIssues),
		zap.Duration("elapsed", time.Since(start)),
	)
	return cycles, stats, nil
}

func (e *Engine) runPartition(p partition, docs map[string][]model.Document, approvals map[string]time.Time, refs map[string]model.ReferenceRecord, facts *Facts, log *zap.Logger) partitionResult {
	r := e.rules
	res := partitionResult{stats: model.RunStats{
		Primaries:   len(p.primaries),
		Secondaries: len(p.secondaries),
	}}

	linked, dropped := Correlate(p.primaries, p.secondaries)
	for _, s := range dropped {
		log.Debug("cycle: secondary has no preceding primary",
			zap.String("owner_id", p.ownerID),
			zap.String("secondary_instance_id", s.ID),
			zap.Time("created_at", s.CreatedAt),
		)
	}
	kept, removed := DedupFirstCreated(linked)
	res.stats.Uncorrelated = len(dropped)
	res.stats.Deduplicated = removed
	res.stats.Correlated = len(kept)

	byPrimary := make(map[string][]SecondaryMilestones, len(kept))
	for _, l := range kept {
		sm := ExtractSecondary(l.Secondary, l.PrimaryID, docs[l.Secondary.ID], approvals, r)
		byPrimary[l.PrimaryID] = append(byPrimary[l.PrimaryID], sm)
	}

	rows := make([]model.Cycle, 0, len(p.primaries))
	for _, prim := range p.primaries {
		pm := ExtractPrimary(prim, docs[prim.ID], approvals, refs, r)
		candidates := byPrimary[prim.ID]
		if len(candidates) == 0 {
			rows = append(rows, Merge(pm, nil, facts, r))
			continue
		}
		for i := range candidates {
			rows = append(rows, Merge(pm, &candidates[i], facts, r))
		}
	}

	res.cycles = Collapse(rows)
	for _, c := range res.cycles {
		if c.Open() {
			res.stats.OpenCycles++
		}
		if len(c.Issues) > 0 {
			res.stats.RecordsWithIssues++
		}
	}
	return res
}

// partitionByOwner groups instances by owner, ordered by owner ID.
func partitionByOwner(primaries, secondaries []model.StageInstance) []partition {
	idx := make(map[string]int)
	var parts []partition
	get := func(owner string) *partition {
		i, ok := idx[owner]
		if !ok {
			i = len(parts)
			idx[owner] = i
			parts = append(parts, partition{ownerID: owner})
		}
		return &parts[i]
	}
	for _, p := range primaries {
		part := get(p.OwnerID)
		part.primaries = append(part.primaries, p)
	}
	for _, s := range secondaries {
		part := get(s.OwnerID)
		part.secondaries = append(part.secondaries, s)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].ownerID < parts[j].ownerID })
	return parts
}
