package services

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
)

type memEdge struct{ source, relType, target string }

// memEdges is an in-memory EdgeReader that counts round trips.
type memEdges struct {
	mu        sync.Mutex
	calls     int
	active    map[string]bool
	roles     map[string][]string
	succ      map[string][]string
	relations []memEdge
}

func newMemEdges() *memEdges {
	return &memEdges{active: map[string]bool{}, roles: map[string][]string{}, succ: map[string][]string{}}
}

func (m *memEdges) org(code string, active bool, roles ...string) *memEdges {
	m.active[code] = active
	m.roles[code] = roles
	return m
}

func (m *memEdges) succession(pred, succ string) *memEdges {
	m.succ[pred] = append(m.succ[pred], succ)
	return m
}

func (m *memEdges) relate(source, relType, target string) *memEdges {
	m.relations = append(m.relations, memEdge{source, relType, target})
	return m
}

func (m *memEdges) tick() {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
}

func (m *memEdges) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *memEdges) SuccessorsOf(_ context.Context, codes []string) (map[string][]string, error) {
	m.tick()
	out := map[string][]string{}
	for _, c := range codes {
		if s := m.succ[c]; len(s) > 0 {
			out[c] = append([]string(nil), s...)
		}
	}
	return out, nil
}

func (m *memEdges) PredecessorsOf(_ context.Context, codes []string) (map[string][]string, error) {
	m.tick()
	want := toSet(codes)
	out := map[string][]string{}
	for pred, succs := range m.succ {
		for _, s := range succs {
			if _, ok := want[s]; ok {
				out[s] = append(out[s], pred)
			}
		}
	}
	return out, nil
}

func (m *memEdges) ActiveStatus(_ context.Context, codes []string) (map[string]bool, error) {
	m.tick()
	out := map[string]bool{}
	for _, c := range codes {
		if a, ok := m.active[c]; ok {
			out[c] = a
		}
	}
	return out, nil
}

func (m *memEdges) ChildrenOf(_ context.Context, parents []string, relTypes []string) (map[string][]string, error) {
	m.tick()
	want := toSet(parents)
	types := toSet(relTypes)
	out := map[string][]string{}
	for _, e := range m.relations {
		if _, ok := want[e.target]; !ok {
			continue
		}
		if _, ok := types[e.relType]; len(types) > 0 && !ok {
			continue
		}
		out[e.target] = append(out[e.target], e.source)
	}
	return out, nil
}

func (m *memEdges) FilterChildren(_ context.Context, codes []string, f organisation.ChildFilter) ([]string, error) {
	m.tick()
	var out []string
	for _, c := range codes {
		active, known := m.active[c]
		if !known {
			continue
		}
		if f.Active != nil && *f.Active != active {
			continue
		}
		if len(f.RoleTypes) > 0 && !hasAny(m.roles[c], f.RoleTypes) {
			continue
		}
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func toSet(codes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		out[c] = struct{}{}
	}
	return out
}

func hasAny(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

// scenarioEdges mirrors the release fixture: RWMBV -> RWM -> 7A4, with a site
// and a practice attached to 7A4.
func scenarioEdges() *memEdges {
	return newMemEdges().
		org("7A4", true, "RO144").
		org("RWM", false, "RO197").
		org("RWMBV", false, "RO197").
		org("7A4BV", true, "RO198").
		org("W97001", true, "RO177", "RO76").
		succession("RWMBV", "RWM").
		succession("RWM", "7A4").
		relate("7A4BV", "RE6", "7A4").
		relate("W97001", "RE4", "7A4")
}

func TestActiveSuccessors_Chain(t *testing.T) {
	edges := newMemEdges().
		org("A", false).org("B", false).org("C", true).
		succession("A", "B").succession("B", "C")
	g := NewGraphService(edges, nil)
	ctx := context.Background()

	for _, code := range []string{"A", "B"} {
		got, err := g.ActiveSuccessors(ctx, code)
		require.NoError(t, err)
		require.Equal(t, []string{"C"}, got, code)
	}

	got, err := g.ActiveSuccessors(ctx, "C")
	require.NoError(t, err)
	require.Equal(t, []string{"C"}, got)

	got, err = g.ActiveSuccessors(ctx, "UNKNOWN")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestActiveSuccessors_FanOutAndDeadEnds(t *testing.T) {
	edges := newMemEdges().
		org("A", false).org("B1", true).org("B2", false).org("B3", true).org("D", false).
		succession("A", "B1").succession("A", "B2").succession("B2", "B3").succession("A", "D").
		succession("A", "REFONLY")
	g := NewGraphService(edges, nil)

	got, err := g.ActiveSuccessors(context.Background(), "A")
	require.NoError(t, err)
	require.Equal(t, []string{"B1", "B3"}, got)
}

func TestScenario_ClosuresOverReleaseFixture(t *testing.T) {
	g := NewGraphService(scenarioEdges(), nil)
	ctx := context.Background()

	got, err := g.ActiveSuccessors(ctx, "RWM")
	require.NoError(t, err)
	require.Equal(t, []string{"7A4"}, got)

	eqRWM, err := g.EquivalentOrgCodes(ctx, "RWM")
	require.NoError(t, err)
	eq7A4, err := g.EquivalentOrgCodes(ctx, "7A4")
	require.NoError(t, err)
	require.Subset(t, eqRWM, []string{"RWM", "7A4"})
	require.Subset(t, eq7A4, []string{"RWM", "7A4"})

	allRWM, err := g.AllEquivalentOrgCodes(ctx, "RWM")
	require.NoError(t, err)
	all7A4, err := g.AllEquivalentOrgCodes(ctx, "7A4")
	require.NoError(t, err)
	require.Equal(t, []string{"7A4", "RWM", "RWMBV"}, allRWM)
	require.Equal(t, allRWM, all7A4)

	preds, err := g.AllPredecessors(ctx, "7A4")
	require.NoError(t, err)
	require.Equal(t, []string{"RWM", "RWMBV"}, preds)

	succs, err := g.AllSuccessors(ctx, "RWMBV")
	require.NoError(t, err)
	require.Equal(t, []string{"7A4", "RWM"}, succs)
}

func TestEquivalentOrgCodes_DependsOnStart(t *testing.T) {
	// X -> M <- Y: from X, Y is neither a successor nor a predecessor.
	edges := newMemEdges().
		org("X", false).org("Y", false).org("M", true).
		succession("X", "M").succession("Y", "M")
	g := NewGraphService(edges, nil)
	ctx := context.Background()

	fromX, err := g.EquivalentOrgCodes(ctx, "X")
	require.NoError(t, err)
	require.Equal(t, []string{"M", "X"}, fromX)

	fromM, err := g.EquivalentOrgCodes(ctx, "M")
	require.NoError(t, err)
	require.Equal(t, []string{"M", "X", "Y"}, fromM)

	allX, err := g.AllEquivalentOrgCodes(ctx, "X")
	require.NoError(t, err)
	allY, err := g.AllEquivalentOrgCodes(ctx, "Y")
	require.NoError(t, err)
	require.Equal(t, []string{"M", "X", "Y"}, allX)
	require.Equal(t, allX, allY)
}

func TestAllEquivalentOrgCodes_BranchingGraphIsWholeComponent(t *testing.T) {
	// X -> Z <- Y -> W: W is only reachable from X through Y.
	edges := newMemEdges().
		org("X", false).org("Y", false).org("Z", true).org("W", true).
		succession("X", "Z").succession("Y", "Z").succession("Y", "W")
	g := NewGraphService(edges, nil)
	ctx := context.Background()

	want := []string{"W", "X", "Y", "Z"}
	for _, code := range want {
		got, err := g.AllEquivalentOrgCodes(ctx, code)
		require.NoError(t, err)
		require.Equal(t, want, got, code)
	}
}

func randomSuccessionGraph(seed int64, n int) (*memEdges, []string) {
	rng := rand.New(rand.NewSource(seed))
	edges := newMemEdges()
	codes := make([]string, n)
	for i := range codes {
		codes[i] = fmt.Sprintf("O%03d", i)
		edges.org(codes[i], rng.Intn(3) == 0)
	}
	// Edges only point forward, so the graph is a DAG.
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if rng.Intn(n) < 2 {
				edges.succession(codes[i], codes[j])
			}
		}
	}
	return edges, codes
}

func TestBatchAgreesWithSingle(t *testing.T) {
	edges, codes := randomSuccessionGraph(42, 60)
	g := NewGraphService(edges, nil)
	ctx := context.Background()

	batchActive, err := g.ActiveSuccessorsBatch(ctx, codes)
	require.NoError(t, err)
	batchAllEq, err := g.AllEquivalentOrgCodesBatch(ctx, codes)
	require.NoError(t, err)
	batchSucc, err := g.AllSuccessorsBatch(ctx, codes)
	require.NoError(t, err)
	batchEq, err := g.EquivalentOrgCodesBatch(ctx, codes)
	require.NoError(t, err)

	for _, c := range codes {
		one, err := g.ActiveSuccessors(ctx, c)
		require.NoError(t, err)
		require.Equal(t, one, batchActive[c], c)

		allEq, err := g.AllEquivalentOrgCodes(ctx, c)
		require.NoError(t, err)
		require.Equal(t, allEq, batchAllEq[c], c)

		succ, err := g.AllSuccessors(ctx, c)
		require.NoError(t, err)
		require.Equal(t, succ, batchSucc[c], c)

		eq, err := g.EquivalentOrgCodes(ctx, c)
		require.NoError(t, err)
		require.Equal(t, eq, batchEq[c], c)
	}

	// The same component yields the same set from every member.
	for _, c := range codes {
		for _, member := range batchAllEq[c] {
			require.Equal(t, batchAllEq[c], batchAllEq[member])
		}
	}
}

func TestActiveSuccessorsBatch_QueryCountDependsOnDepthOnly(t *testing.T) {
	// 50 independent chains of length 3: P_i -> Q_i -> R_i, R_i active.
	edges := newMemEdges()
	var seeds []string
	for i := 0; i < 50; i++ {
		p, q, r := fmt.Sprintf("P%d", i), fmt.Sprintf("Q%d", i), fmt.Sprintf("R%d", i)
		edges.org(p, false).org(q, false).org(r, true).succession(p, q).succession(q, r)
		seeds = append(seeds, p)
	}
	g := NewGraphService(edges, nil)

	out, err := g.ActiveSuccessorsBatch(context.Background(), seeds)
	require.NoError(t, err)
	require.Len(t, out, 50)
	require.Equal(t, []string{"R7"}, out["P7"])

	// Three levels, each one status query plus one successor query at most.
	require.LessOrEqual(t, edges.Calls(), 6)
}

func TestClosures_TerminateOnCycles(t *testing.T) {
	edges := newMemEdges().
		org("A", false).org("B", false).org("C", true).
		succession("A", "B").succession("B", "A").succession("B", "C")
	g := NewGraphService(edges, nil)
	ctx := context.Background()

	before := testutil.ToFloat64(graphCycles)

	active, err := g.ActiveSuccessors(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, []string{"C"}, active)

	succ, err := g.AllSuccessors(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, []string{"B", "C"}, succ)

	preds, err := g.AllPredecessors(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, []string{"B"}, preds)

	allEq, err := g.AllEquivalentOrgCodes(ctx, "C")
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C"}, allEq)

	require.GreaterOrEqual(t, testutil.ToFloat64(graphCycles)-before, float64(3))
}

func TestChildOrgs_Filters(t *testing.T) {
	edges := scenarioEdges().org("OLD1", false, "RO76").relate("OLD1", "RE4", "7A4")
	g := NewGraphService(edges, nil)
	ctx := context.Background()

	all, err := g.ChildOrgs(ctx, "7A4", organisation.ChildFilter{})
	require.NoError(t, err)
	require.Equal(t, []string{"7A4BV", "OLD1", "W97001"}, all)

	operated, err := g.ChildOrgs(ctx, "7A4", organisation.ChildFilter{RelationshipTypes: []string{"RE6"}})
	require.NoError(t, err)
	require.Equal(t, []string{"7A4BV"}, operated)

	active := true
	gps, err := g.ChildOrgs(ctx, "7A4", organisation.ChildFilter{Active: &active, RoleTypes: []string{"RO76"}})
	require.NoError(t, err)
	require.Equal(t, []string{"W97001"}, gps)

	batch, err := g.ChildOrgsBatch(ctx, []string{"7A4", "RWM"}, organisation.ChildFilter{})
	require.NoError(t, err)
	require.Equal(t, all, batch["7A4"])
	require.Empty(t, batch["RWM"])
}

func TestAllChildOrgs_Transitive(t *testing.T) {
	edges := newMemEdges().
		org("ICB", true).org("PCN", true).org("GP1", true).org("GP2", true).
		relate("PCN", "RE4", "ICB").
		relate("GP1", "RE8", "PCN").
		relate("GP2", "RE8", "PCN").
		relate("ICB", "RE4", "GP2") // bad data closing a loop
	g := NewGraphService(edges, nil)
	ctx := context.Background()

	got, err := g.AllChildOrgs(ctx, "ICB", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"GP1", "GP2", "PCN"}, got)

	onlyRE4, err := g.AllChildOrgs(ctx, "ICB", []string{"RE4"})
	require.NoError(t, err)
	require.Equal(t, []string{"PCN"}, onlyRE4)

	batch, err := g.AllChildOrgsBatch(ctx, []string{"ICB", "PCN"}, nil)
	require.NoError(t, err)
	require.Equal(t, got, batch["ICB"])
	require.Equal(t, []string{"GP1", "GP2", "ICB"}, batch["PCN"])
}

func TestLoadSubgraph_CountsLevels(t *testing.T) {
	edges := newMemEdges().succession("A", "B").succession("B", "C").succession("C", "A")
	g, levels, err := loadSubgraph(context.Background(), []string{"A"}, edges.SuccessorsOf)
	require.NoError(t, err)
	require.Equal(t, 3, levels)
	require.Equal(t, []string{"B"}, g["A"])

	reached, cycleAt := g.reach("A")
	require.Equal(t, []string{"A"}, cycleAt)
	require.Equal(t, []string{"B", "C"}, sortedSet(reached))
}

func TestReach_DiamondIsNotACycle(t *testing.T) {
	g := subgraph{"A": {"B", "C"}, "B": {"D"}, "C": {"D"}, "D": nil}
	reached, cycleAt := g.reach("A")
	require.Empty(t, cycleAt)
	require.Equal(t, []string{"B", "C", "D"}, sortedSet(reached))
}

func TestClosures_ReportCyclesAwayFromSeed(t *testing.T) {
	edges := newMemEdges().
		org("X", false).org("A", false).org("B", false).
		succession("X", "A").succession("A", "B").succession("B", "A")
	g := NewGraphService(edges, nil)
	ctx := context.Background()

	before := testutil.ToFloat64(graphCycles)

	succ, err := g.AllSuccessors(ctx, "X")
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, succ)
	require.Equal(t, before+1, testutil.ToFloat64(graphCycles))

	active, err := g.ActiveSuccessors(ctx, "X")
	require.NoError(t, err)
	require.Empty(t, active)
	require.Equal(t, before+2, testutil.ToFloat64(graphCycles))
}
