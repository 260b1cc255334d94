package fsm

import "github.com/lk2023060901/resumable-upload/internal/upload/types"

// Path returns the shortest path from start to goal, both ends included.
// It returns nil when goal cannot be reached. Successors are visited in the
// table's declared order, so ties always resolve the same way.
func Path(t *Table, start, goal types.State) []types.State {
	queue := [][]types.State{{start}}
	visited := map[types.State]bool{}

	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]

		state := path[len(path)-1]
		if state == goal {
			return path
		}
		if visited[state] {
			continue
		}
		visited[state] = true

		for _, next := range t.edges[state] {
			if visited[next] {
				continue
			}
			extended := make([]types.State, len(path), len(path)+1)
			copy(extended, path)
			queue = append(queue, append(extended, next))
		}
	}

	return nil
}

// NextAction returns the first transition on the shortest path from current
// to goal. ok is false when current already equals goal or goal is unreachable.
func NextAction(t *Table, current, goal types.State) (types.State, bool) {
	path := Path(t, current, goal)
	if len(path) <= 1 {
		return "", false
	}
	return path[1], true
}
