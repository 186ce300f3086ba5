package plan

import (
	"fmt"
)

// ----------------------------------------------------------------------------
// Limit pushdown
//
// Fuses every Limit stage with the plan's single source: the tightest
// limit in the tree becomes the source's row-read cap and the Limit
// nodes are spliced out. Safe because a limit neither reorders nor
// deduplicates, so reading at most min(k...) rows at the source yields
// exactly the rows the unoptimized plan would have produced.
//
// Current limitation, surfaced as ErrUnsupportedPlanShape rather than
// a silent fallback: trees with more than one source (joins) need a
// per-branch pushdown rule and are rejected.
// ----------------------------------------------------------------------------

// PushDownLimit rewrites (tree, root) into an equivalent plan with all
// Limit stages fused into the source's read cap. Running it twice is
// the same as running it once.
func PushDownLimit(
	t *Tree,
	root NodeID,
) (*Tree, NodeID, error) {
	limits := DFS(t, root, func(s *Stage) bool { return s.Type == StageLimit })
	sources := DFS(t, root, func(s *Stage) bool { return s.Type == StageInMemorySource })

	if len(sources) != 1 {
		return nil, 0, fmt.Errorf(
			"%w: limit pushdown supports exactly one source node, found %d",
			ErrUnsupportedPlanShape, len(sources),
		)
	}
	sourceID := sources[0]

	if len(limits) == 0 {
		return t, root, nil
	}

	min := t.nodes[limits[0]].Limit.N
	for _, id := range limits[1:] {
		if n := t.nodes[id].Limit.N; n < min {
			min = n
		}
	}

	out, newRoot := t, root
	for _, id := range limits {
		var err error
		out, newRoot, err = out.spliceOut(id, newRoot)
		if err != nil {
			return nil, 0, err
		}
	}

	// an already-pushed cap stays dominant if it is tighter
	out = out.clone()
	src := *out.nodes[sourceID].Source
	if src.ReadLimit < 0 || min < src.ReadLimit {
		src.ReadLimit = min
	}
	out.nodes[sourceID].Source = &src

	return out, newRoot, nil
}
