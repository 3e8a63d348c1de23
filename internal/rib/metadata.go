package rib

import "sort"

// computeRouteMetadata derives, for every distinct route name present in
// internal.routes, the best path plus alternatives. It is a pure function
// recomputed on every commit, never persisted, per spec §3.
func computeRouteMetadata(routes []InternalRoute) map[string]RouteMetadata {
	byName := map[string][]InternalRoute{}
	for _, r := range routes {
		byName[r.Name] = append(byName[r.Name], r)
	}

	out := make(map[string]RouteMetadata, len(byName))
	for name, candidates := range byName {
		if len(candidates) == 0 {
			continue
		}
		if len(candidates) == 1 {
			out[name] = RouteMetadata{
				BestPath:        candidates[0],
				Alternatives:    nil,
				SelectionReason: "only candidate",
			}
			continue
		}

		sorted := append([]InternalRoute(nil), candidates...)
		sort.SliceStable(sorted, func(i, j int) bool {
			if len(sorted[i].NodePath) != len(sorted[j].NodePath) {
				return len(sorted[i].NodePath) < len(sorted[j].NodePath)
			}
			return sorted[i].PeerName < sorted[j].PeerName
		})

		out[name] = RouteMetadata{
			BestPath:        sorted[0],
			Alternatives:    sorted[1:],
			SelectionReason: "shortest nodePath",
		}
	}
	return out
}
