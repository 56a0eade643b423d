package evidence

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/danielpatrickdp/knowledge-state/internal/mastery"
)

// #region profiles
// Profiles partitions students by which of vertices they have measured. Students
// with nothing measured over vertices form a profile with an empty Measured set.
// Profiles are ordered by their first student.
func (s *State) Profiles(vertices []int) []Profile {
	vs := sortedCopy(vertices)
	index := make(map[string]int)
	var out []Profile

	key := make([]byte, len(vs))
	for row := range s.students {
		for i, v := range vs {
			if s.Category(row, v) == mastery.Unmeasured {
				key[i] = '0'
			} else {
				key[i] = '1'
			}
		}
		k := string(key)
		at, ok := index[k]
		if !ok {
			var measured []int
			for i, v := range vs {
				if key[i] == '1' {
					measured = append(measured, v)
				}
			}
			at = len(out)
			index[k] = at
			out = append(out, Profile{Key: k, Vertices: vs, Measured: measured})
		}
		out[at].Students = append(out[at].Students, row)
	}
	return out
}

// #endregion profiles

// #region states
// States partitions a profile's students by their observed categories on the
// profile's measured vertices. Students in one group have identical evidence.
func (s *State) States(p Profile) []Group {
	index := make(map[string]int)
	var out []Group

	var b strings.Builder
	for _, row := range p.Students {
		b.Reset()
		b.WriteString(p.Key)
		b.WriteByte('|')
		for i, v := range p.Measured {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Itoa(s.Category(row, v)))
		}
		k := b.String()
		at, ok := index[k]
		if !ok {
			ev := make(map[int]int, len(p.Measured))
			for _, v := range p.Measured {
				ev[v] = s.Category(row, v)
			}
			at = len(out)
			index[k] = at
			out = append(out, Group{Key: k, ID: xxhash.Sum64String(k), Evidence: ev})
		}
		out[at].Students = append(out[at].Students, row)
	}
	return out
}

// Groups runs profile grouping then state grouping over vertices.
func (s *State) Groups(vertices []int) []Group {
	var out []Group
	for _, p := range s.Profiles(vertices) {
		out = append(out, s.States(p)...)
	}
	return out
}

// #endregion states
