package taskqueue

// assignWaves computes each task's wave as the length of its longest
// dependency chain to a leaf, and detects cycles via Kahn's algorithm
// — in-degree counting plus a ready queue, extended here to also
// compute wave depth rather than just validate the root set.
func assignWaves(specs []TaskSpec) (map[string]int, error) {
	byID := make(map[string]TaskSpec, len(specs))
	for _, s := range specs {
		byID[s.ID] = s
	}

	inDegree := make(map[string]int, len(specs))
	children := make(map[string][]string, len(specs))
	for _, s := range specs {
		if _, ok := inDegree[s.ID]; !ok {
			inDegree[s.ID] = 0
		}
		for _, dep := range s.Dependencies {
			if _, exists := byID[dep]; !exists {
				return nil, &ErrInvariantViolation{Reason: "task " + s.ID + " depends on unknown task " + dep}
			}
			inDegree[s.ID]++
			children[dep] = append(children[dep], s.ID)
		}
	}

	wave := make(map[string]int, len(specs))
	queue := make([]string, 0, len(specs))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
			wave[id] = 0
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, child := range children[id] {
			if wave[id]+1 > wave[child] {
				wave[child] = wave[id] + 1
			}
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if visited != len(specs) {
		return nil, &ErrCycle{Cycle: remainingIDs(inDegree)}
	}

	return wave, nil
}

func remainingIDs(inDegree map[string]int) []string {
	var ids []string
	for id, deg := range inDegree {
		if deg > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}
