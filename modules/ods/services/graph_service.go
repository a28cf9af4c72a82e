package services

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
)

// EdgeReader is the read side of the store the closure engine walks. Every
// method takes a set of codes and answers in one query.
type EdgeReader interface {
	SuccessorsOf(ctx context.Context, codes []string) (map[string][]string, error)
	PredecessorsOf(ctx context.Context, codes []string) (map[string][]string, error)
	ActiveStatus(ctx context.Context, codes []string) (map[string]bool, error)
	ChildrenOf(ctx context.Context, parents []string, relTypes []string) (map[string][]string, error)
	FilterChildren(ctx context.Context, codes []string, filter organisation.ChildFilter) ([]string, error)
}

// GraphService computes closures over succession and relationship edges.
// Batch forms load one shared subgraph for all seeds, so the number of
// queries depends on graph depth and not on how many codes are asked for.
type GraphService struct {
	edges EdgeReader
	log   *logrus.Entry
}

func NewGraphService(edges EdgeReader, log *logrus.Entry) *GraphService {
	return &GraphService{edges: edges, log: componentLogger(log, "ods.graph")}
}

// reportCycle logs and counts once per seed whose walk ran into a cycle.
func (s *GraphService) reportCycle(ctx context.Context, algorithm, seed string, cycleAt []string) {
	if len(cycleAt) == 0 {
		return
	}
	graphCycles.Inc()
	loggerFor(ctx, s.log).WithFields(logrus.Fields{
		"algorithm": algorithm,
		"code":      seed,
		"cycle_at":  cycleAt,
	}).Warn("cycle in organisation graph")
}

func (s *GraphService) closure(ctx context.Context, algorithm string, seeds []string, next adjacencyFunc) (map[string][]string, error) {
	seeds = normalizeSeeds(seeds)
	out := make(map[string][]string, len(seeds))
	if len(seeds) == 0 {
		return out, nil
	}

	g, _, err := loadSubgraph(ctx, seeds, next)
	if err != nil {
		return nil, err
	}
	for _, seed := range seeds {
		reached, cycleAt := g.reach(seed)
		s.reportCycle(ctx, algorithm, seed, cycleAt)
		out[seed] = sortedSet(reached)
	}
	return out, nil
}

// AllSuccessorsBatch returns the transitive successors of every code.
func (s *GraphService) AllSuccessorsBatch(ctx context.Context, codes []string) (map[string][]string, error) {
	recordTraversal("all_successors", true)
	return s.closure(ctx, "all_successors", codes, s.edges.SuccessorsOf)
}

func (s *GraphService) AllSuccessors(ctx context.Context, code string) ([]string, error) {
	recordTraversal("all_successors", false)
	out, err := s.closure(ctx, "all_successors", []string{code}, s.edges.SuccessorsOf)
	return single(out, code), err
}

// AllPredecessorsBatch returns the transitive predecessors of every code.
func (s *GraphService) AllPredecessorsBatch(ctx context.Context, codes []string) (map[string][]string, error) {
	recordTraversal("all_predecessors", true)
	return s.closure(ctx, "all_predecessors", codes, s.edges.PredecessorsOf)
}

func (s *GraphService) AllPredecessors(ctx context.Context, code string) ([]string, error) {
	recordTraversal("all_predecessors", false)
	out, err := s.closure(ctx, "all_predecessors", []string{code}, s.edges.PredecessorsOf)
	return single(out, code), err
}

// ActiveSuccessorsBatch resolves every code to its active frontier: an active
// code resolves to itself, an inactive one to the active organisations its
// successor chains end in. Unknown codes and inactive dead ends resolve to
// nothing. Expansion stops at active organisations.
func (s *GraphService) ActiveSuccessorsBatch(ctx context.Context, codes []string) (map[string][]string, error) {
	recordTraversal("active_successors", true)
	return s.activeSuccessors(ctx, codes)
}

func (s *GraphService) ActiveSuccessors(ctx context.Context, code string) ([]string, error) {
	recordTraversal("active_successors", false)
	out, err := s.activeSuccessors(ctx, []string{code})
	return single(out, code), err
}

func (s *GraphService) activeSuccessors(ctx context.Context, codes []string) (map[string][]string, error) {
	seeds := normalizeSeeds(codes)
	out := make(map[string][]string, len(seeds))
	if len(seeds) == 0 {
		return out, nil
	}

	status := map[string]bool{}
	next := func(ctx context.Context, level []string) (map[string][]string, error) {
		st, err := s.edges.ActiveStatus(ctx, level)
		if err != nil {
			return nil, err
		}
		inactive := make([]string, 0, len(level))
		for _, c := range level {
			active, known := st[c]
			if !known {
				continue
			}
			status[c] = active
			if !active {
				inactive = append(inactive, c)
			}
		}
		if len(inactive) == 0 {
			return map[string][]string{}, nil
		}
		return s.edges.SuccessorsOf(ctx, inactive)
	}

	g, _, err := loadSubgraph(ctx, seeds, next)
	if err != nil {
		return nil, err
	}

	for _, seed := range seeds {
		active, known := status[seed]
		switch {
		case !known:
			out[seed] = []string{}
		case active:
			out[seed] = []string{seed}
		default:
			reached, cycleAt := g.reach(seed)
			s.reportCycle(ctx, "active_successors", seed, cycleAt)
			frontier := map[string]struct{}{}
			for c := range reached {
				if status[c] {
					frontier[c] = struct{}{}
				}
			}
			out[seed] = sortedSet(frontier)
		}
	}
	return out, nil
}

// EquivalentOrgCodesBatch returns, per code, the code with all its successors
// and predecessors. The result depends on the starting code.
func (s *GraphService) EquivalentOrgCodesBatch(ctx context.Context, codes []string) (map[string][]string, error) {
	recordTraversal("equivalent", true)
	return s.equivalent(ctx, codes)
}

func (s *GraphService) EquivalentOrgCodes(ctx context.Context, code string) ([]string, error) {
	recordTraversal("equivalent", false)
	out, err := s.equivalent(ctx, []string{code})
	return single(out, code), err
}

func (s *GraphService) equivalent(ctx context.Context, codes []string) (map[string][]string, error) {
	succ, err := s.closure(ctx, "all_successors", codes, s.edges.SuccessorsOf)
	if err != nil {
		return nil, err
	}
	pred, err := s.closure(ctx, "all_predecessors", codes, s.edges.PredecessorsOf)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(succ))
	for seed := range succ {
		set := map[string]struct{}{seed: {}}
		for _, c := range succ[seed] {
			set[c] = struct{}{}
		}
		for _, c := range pred[seed] {
			set[c] = struct{}{}
		}
		out[seed] = sortedSet(set)
	}
	return out, nil
}

// AllEquivalentOrgCodesBatch returns, per code, every code connected to it by
// succession in either direction. Any member of one chain yields the same set.
func (s *GraphService) AllEquivalentOrgCodesBatch(ctx context.Context, codes []string) (map[string][]string, error) {
	recordTraversal("all_equivalent", true)
	return s.allEquivalent(ctx, codes)
}

func (s *GraphService) AllEquivalentOrgCodes(ctx context.Context, code string) ([]string, error) {
	recordTraversal("all_equivalent", false)
	out, err := s.allEquivalent(ctx, []string{code})
	return single(out, code), err
}

func (s *GraphService) allEquivalent(ctx context.Context, codes []string) (map[string][]string, error) {
	seeds := normalizeSeeds(codes)
	out := make(map[string][]string, len(seeds))
	if len(seeds) == 0 {
		return out, nil
	}

	both := func(ctx context.Context, level []string) (map[string][]string, error) {
		succ, err := s.edges.SuccessorsOf(ctx, level)
		if err != nil {
			return nil, err
		}
		pred, err := s.edges.PredecessorsOf(ctx, level)
		if err != nil {
			return nil, err
		}
		for c, ps := range pred {
			succ[c] = append(succ[c], ps...)
		}
		return succ, nil
	}

	g, _, err := loadSubgraph(ctx, seeds, both)
	if err != nil {
		return nil, err
	}
	for _, seed := range seeds {
		// Every undirected edge reads as a back-edge here; that is not a cycle.
		reached, _ := g.reach(seed)
		reached[seed] = struct{}{}
		out[seed] = sortedSet(reached)
	}
	return out, nil
}

// ChildOrgsBatch returns the direct children of each parent, filtered by
// relationship type and optionally by the child's active flag and roles.
func (s *GraphService) ChildOrgsBatch(ctx context.Context, parents []string, filter organisation.ChildFilter) (map[string][]string, error) {
	recordTraversal("child_orgs", true)
	return s.childOrgs(ctx, parents, filter)
}

func (s *GraphService) ChildOrgs(ctx context.Context, parent string, filter organisation.ChildFilter) ([]string, error) {
	recordTraversal("child_orgs", false)
	out, err := s.childOrgs(ctx, []string{parent}, filter)
	return single(out, parent), err
}

func (s *GraphService) childOrgs(ctx context.Context, parents []string, filter organisation.ChildFilter) (map[string][]string, error) {
	parents = normalizeSeeds(parents)
	out := make(map[string][]string, len(parents))
	if len(parents) == 0 {
		return out, nil
	}

	children, err := s.edges.ChildrenOf(ctx, parents, filter.RelationshipTypes)
	if err != nil {
		return nil, err
	}

	keep := func(string) bool { return true }
	if filter.Active != nil || len(filter.RoleTypes) > 0 {
		var all []string
		for _, cs := range children {
			all = append(all, cs...)
		}
		kept, err := s.edges.FilterChildren(ctx, normalizeSeeds(all), filter)
		if err != nil {
			return nil, err
		}
		allowed := make(map[string]struct{}, len(kept))
		for _, c := range kept {
			allowed[c] = struct{}{}
		}
		keep = func(c string) bool {
			_, ok := allowed[c]
			return ok
		}
	}

	for _, p := range parents {
		set := map[string]struct{}{}
		for _, c := range children[p] {
			if keep(c) {
				set[c] = struct{}{}
			}
		}
		out[p] = sortedSet(set)
	}
	return out, nil
}

// AllChildOrgsBatch returns the transitive children of each parent over the
// given relationship types (all types when empty).
func (s *GraphService) AllChildOrgsBatch(ctx context.Context, parents []string, relTypes []string) (map[string][]string, error) {
	recordTraversal("all_child_orgs", true)
	return s.closure(ctx, "all_child_orgs", parents, s.childrenAdjacency(relTypes))
}

func (s *GraphService) AllChildOrgs(ctx context.Context, parent string, relTypes []string) ([]string, error) {
	recordTraversal("all_child_orgs", false)
	out, err := s.closure(ctx, "all_child_orgs", []string{parent}, s.childrenAdjacency(relTypes))
	return single(out, parent), err
}

func (s *GraphService) childrenAdjacency(relTypes []string) adjacencyFunc {
	types := append([]string(nil), relTypes...)
	sort.Strings(types)
	return func(ctx context.Context, codes []string) (map[string][]string, error) {
		return s.edges.ChildrenOf(ctx, codes, types)
	}
}

func single(out map[string][]string, code string) []string {
	if v, ok := out[code]; ok {
		return v
	}
	return []string{}
}
