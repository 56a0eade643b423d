package evidence

import "sort"

// Reduce collapses records to one per (student, standard): the most recent date
// wins and ties keep the lowest score. Records whose student or standard is not in
// scope are dropped. A nil scope slice disables that filter. Output is sorted by
// student then standard.
func Reduce(records []Record, students, standards []string) ([]Record, Report) {
	rep := Report{Input: len(records)}
	enrolled := setOf(students)
	inScope := setOf(standards)

	type key struct{ student, standard string }
	best := make(map[key]Record, len(records))
	for _, r := range records {
		if enrolled != nil && !enrolled[r.StudentID] {
			rep.Unenrolled++
			continue
		}
		if inScope != nil && !inScope[r.StandardID] {
			rep.OutOfScope++
			continue
		}
		k := key{r.StudentID, r.StandardID}
		cur, ok := best[k]
		if !ok {
			best[k] = r
			continue
		}
		rep.Superseded++
		if supersedes(r, cur) {
			best[k] = r
		}
	}

	out := make([]Record, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StudentID != out[j].StudentID {
			return out[i].StudentID < out[j].StudentID
		}
		return out[i].StandardID < out[j].StandardID
	})
	rep.Kept = len(out)
	return out, rep
}

// supersedes reports whether r replaces cur: later date, or same date and weaker score.
func supersedes(r, cur Record) bool {
	if r.Date.After(cur.Date) {
		return true
	}
	return r.Date.Equal(cur.Date) && r.Score < cur.Score
}

func setOf(ids []string) map[string]bool {
	if ids == nil {
		return nil
	}
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
