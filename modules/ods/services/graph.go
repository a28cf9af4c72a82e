package services

import (
	"context"
	"sort"
)

// adjacencyFunc returns the out-edges of each code in one round trip.
type adjacencyFunc func(ctx context.Context, codes []string) (map[string][]string, error)

// subgraph is the part of an edge set reachable from some seeds.
type subgraph map[string][]string

// loadSubgraph follows edges level by level from seeds. Each level costs one
// call to next, and every code is expanded at most once, so cycles terminate.
func loadSubgraph(ctx context.Context, seeds []string, next adjacencyFunc) (subgraph, int, error) {
	g := subgraph{}
	loaded := map[string]struct{}{}
	frontier := seeds
	levels := 0

	for len(frontier) > 0 {
		pending := make([]string, 0, len(frontier))
		for _, c := range frontier {
			if _, ok := loaded[c]; ok {
				continue
			}
			loaded[c] = struct{}{}
			pending = append(pending, c)
		}
		if len(pending) == 0 {
			break
		}

		edges, err := next(ctx, pending)
		if err != nil {
			return nil, levels, err
		}
		levels++

		var nextFrontier []string
		for _, c := range pending {
			targets := edges[c]
			g[c] = targets
			for _, t := range targets {
				if _, ok := loaded[t]; !ok {
					nextFrontier = append(nextFrontier, t)
				}
			}
		}
		frontier = nextFrontier
	}
	return g, levels, nil
}

// reach returns every code reachable from seed, seed itself excluded, and
// the codes where the walk ran back into a code still on its current path.
// Any cycle reachable from seed shows up there, not only cycles through seed.
func (g subgraph) reach(seed string) (map[string]struct{}, []string) {
	const (
		visiting = 1
		done     = 2
	)
	type frame struct {
		code string
		next int
	}

	state := map[string]int{seed: visiting}
	reached := map[string]struct{}{}
	var cycleAt []string
	stack := []frame{{code: seed}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		targets := g[top.code]
		if top.next == len(targets) {
			state[top.code] = done
			stack = stack[:len(stack)-1]
			continue
		}
		t := targets[top.next]
		top.next++

		switch state[t] {
		case visiting:
			cycleAt = append(cycleAt, t)
		case done:
		default:
			state[t] = visiting
			if t != seed {
				reached[t] = struct{}{}
			}
			stack = append(stack, frame{code: t})
		}
	}
	return reached, cycleAt
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func normalizeSeeds(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
