package store

import (
	"fmt"
	"sort"
)

// Cycles returns the circular include groups in the stored graph: sets of
// files that transitively include each other, plus files that include
// themselves directly. Each group is sorted by path and groups are ordered
// by their first path.
func (s *Store) Cycles() ([][]string, error) {
	rows, err := s.db.Query(
		`WITH RECURSIVE
		edge(src, dst) AS (
			SELECT DISTINCT f.path, i.target_path FROM inclusions i JOIN files f ON f.id = i.file_id
			WHERE i.target_path IS NOT NULL
		),
		reach(src, dst) AS (
			SELECT src, dst FROM edge
			UNION
			SELECT r.src, e.dst FROM reach r JOIN edge e ON e.src = r.dst
		)
		SELECT src, dst FROM reach r
		WHERE src = dst OR EXISTS (SELECT 1 FROM reach b WHERE b.src = r.dst AND b.dst = r.src)`,
	)
	if err != nil {
		return nil, fmt.Errorf("cycles: %w", err)
	}
	defer rows.Close()

	members := make(map[string]map[string]bool)
	for rows.Next() {
		var src, dst string
		if err := rows.Scan(&src, &dst); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		if members[src] == nil {
			members[src] = map[string]bool{src: true}
		}
		members[src][dst] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cycles: %w", err)
	}

	// Mutual reachability is an equivalence, so each member maps to the
	// same set; keep one group per smallest path.
	seen := make(map[string]bool)
	var groups [][]string
	for src, set := range members {
		if seen[src] {
			continue
		}
		group := make([]string, 0, len(set))
		for p := range set {
			group = append(group, p)
			seen[p] = true
		}
		sort.Strings(group)
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups, nil
}
