// Package affinity derives sibling groups from workload names and spreads
// each group evenly across the hosts of a cluster.
package affinity

import (
	"sort"

	"github.com/limiquantix/rebalancer/internal/domain"
	"github.com/limiquantix/rebalancer/internal/inventory"
)

// SiblingPrefix strips the trailing run of ASCII digits from a workload name.
// It returns false when the name has no trailing digits or consists only of
// digits; such workloads form singleton groups and are exempt from
// anti-affinity.
func SiblingPrefix(name string) (string, bool) {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	if i == len(name) || i == 0 {
		return "", false
	}
	return name[:i], true
}

// Group is a sibling group with at least two movable members.
type Group struct {
	Prefix  string
	Members []string // workload IDs, sorted
}

// Groups returns the sibling groups of a model sorted by prefix. Pinned
// workloads are not members of any group.
func Groups(m *inventory.Model) []Group {
	byPrefix := make(map[string][]string)
	for _, w := range m.Workloads() {
		if w.Pinned {
			continue
		}
		prefix, ok := SiblingPrefix(w.Name)
		if !ok {
			continue
		}
		byPrefix[prefix] = append(byPrefix[prefix], w.ID)
	}

	var groups []Group
	for prefix, members := range byPrefix {
		if len(members) < 2 {
			continue
		}
		groups = append(groups, Group{Prefix: prefix, Members: members})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Prefix < groups[j].Prefix })
	return groups
}

// Counts returns the number of group members per host, aligned with
// Model.Hosts(). Hosts without members count as zero.
func Counts(s *inventory.State, g Group) []int {
	m := s.Model()
	counts := make([]int, len(m.Hosts()))
	for _, id := range g.Members {
		host, _ := s.HostOf(id)
		if hi, ok := m.HostIndex(host); ok {
			counts[hi]++
		}
	}
	return counts
}

// Spread returns max(counts) - min(counts).
func Spread(counts []int) int {
	if len(counts) == 0 {
		return 0
	}
	lo, hi := counts[0], counts[0]
	for _, c := range counts[1:] {
		if c < lo {
			lo = c
		}
		if c > hi {
			hi = c
		}
	}
	return hi - lo
}

// Result is the outcome of anti-affinity planning.
type Result struct {
	Moves  []domain.Move
	Groups []domain.GroupStatus
}

// Moved returns the IDs of the workloads relocated by the result.
func (r Result) Moved() map[string]bool {
	out := make(map[string]bool, len(r.Moves))
	for _, mv := range r.Moves {
		out[mv.WorkloadID] = true
	}
	return out
}

// Plan spreads every sibling group until its member counts differ by at most
// one across all hosts, applying each move to s as it is proposed. A workload
// is moved at most once. Groups that cannot reach that bound without
// overcommitting a host are reported as NO_IMPROVEMENT_POSSIBLE.
func Plan(s *inventory.State) Result {
	var res Result
	moved := make(map[string]bool)

	for _, g := range Groups(s.Model()) {
		counts := Counts(s, g)
		status := domain.GroupStatus{
			Prefix:        g.Prefix,
			Members:       len(g.Members),
			InitialSpread: Spread(counts),
		}

		for Spread(counts) > 1 {
			mv, ok := nextMove(s, g, counts, moved)
			if !ok {
				break
			}
			before := Spread(counts)
			if err := s.Apply(mv.WorkloadID, mv.TargetHostID); err != nil {
				break
			}
			src, _ := s.Model().HostIndex(mv.SourceHostID)
			dst, _ := s.Model().HostIndex(mv.TargetHostID)
			counts[src]--
			counts[dst]++
			moved[mv.WorkloadID] = true

			mv.Gap = float64(before)
			mv.GapAfter = float64(Spread(counts))
			res.Moves = append(res.Moves, mv)
		}

		status.FinalSpread = Spread(counts)
		switch {
		case status.InitialSpread <= 1:
			status.Status = domain.StatusBalanced
		case status.FinalSpread <= 1:
			status.Status = domain.StatusResolved
		default:
			status.Status = domain.StatusNoImprovementPossible
		}
		res.Groups = append(res.Groups, status)
	}

	return res
}

// nextMove picks one member on a maximum-count host and a target host whose
// count is at least two below the maximum. The preferred pair is the
// lowest-ID maximum host, its lowest-ID unmoved member, and the lowest-ID
// minimum host; when that target has no room the next candidates are tried in
// (count, ID) order. Every such move strictly lowers the sum of squared
// counts, so the loop in Plan terminates.
func nextMove(s *inventory.State, g Group, counts []int, moved map[string]bool) (domain.Move, bool) {
	hosts := s.Model().Hosts()

	maxCount := 0
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}

	var targets []int
	for i, c := range counts {
		if c <= maxCount-2 {
			targets = append(targets, i)
		}
	}
	sort.SliceStable(targets, func(a, b int) bool { return counts[targets[a]] < counts[targets[b]] })

	members := make(map[string]bool, len(g.Members))
	for _, id := range g.Members {
		members[id] = true
	}

	for si, c := range counts {
		if c != maxCount {
			continue
		}
		for _, w := range s.WorkloadsOn(hosts[si].ID) {
			if !members[w.ID] || moved[w.ID] {
				continue
			}
			for _, ti := range targets {
				if !s.Fits(w.ID, hosts[ti].ID) {
					continue
				}
				return domain.Move{
					WorkloadID:   w.ID,
					WorkloadName: w.Name,
					SourceHostID: hosts[si].ID,
					TargetHostID: hosts[ti].ID,
					Origin:       domain.OriginAntiAffinity,
					Group:        g.Prefix,
				}, true
			}
		}
	}
	return domain.Move{}, false
}

// Guard rejects balancing moves that would unbalance a sibling group.
// A nil Guard allows every move.
type Guard struct {
	groups  []Group
	groupOf map[string]int
}

// NewGuard builds a guard over the given groups.
func NewGuard(groups []Group) *Guard {
	g := &Guard{groups: groups, groupOf: make(map[string]int)}
	for i, grp := range groups {
		for _, id := range grp.Members {
			g.groupOf[id] = i
		}
	}
	return g
}

// Allows reports whether moving workloadID to hostID keeps its group spread
// at most max(1, current spread).
func (g *Guard) Allows(s *inventory.State, workloadID, hostID string) bool {
	if g == nil {
		return true
	}
	gi, ok := g.groupOf[workloadID]
	if !ok {
		return true
	}
	m := s.Model()
	source, _ := s.HostOf(workloadID)
	src, ok1 := m.HostIndex(source)
	dst, ok2 := m.HostIndex(hostID)
	if !ok1 || !ok2 {
		return false
	}

	counts := Counts(s, g.groups[gi])
	limit := Spread(counts)
	if limit < 1 {
		limit = 1
	}
	counts[src]--
	counts[dst]++
	return Spread(counts) <= limit
}
