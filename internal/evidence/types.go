package evidence

import "time"

// #region record
// Record is one observed measurement of a student against a learning standard.
type Record struct {
	StudentID   string    `json:"student_id" yaml:"student_id"`
	StandardID  string    `json:"standard_id" yaml:"standard_id"`
	Score       float64   `json:"score" yaml:"score"`
	Date        time.Time `json:"date" yaml:"date"`
	WorkProduct string    `json:"work_product,omitempty" yaml:"work_product,omitempty"`
}

// #endregion record

// #region report
// Report counts what Reduce kept and why the rest was dropped.
type Report struct {
	Input      int `json:"input"`
	Kept       int `json:"kept"`
	Superseded int `json:"superseded"`
	OutOfScope int `json:"out_of_scope"`
	Unenrolled int `json:"unenrolled"`
}

// #endregion report

// #region groups
// Profile is a set of students sharing the same measured support over a vertex set.
type Profile struct {
	Key      string // one byte per vertex: '1' measured, '0' not
	Vertices []int  // vertex set the profile was computed over
	Measured []int  // measured subset, ascending
	Students []int  // state rows, ascending
}

// Group is a set of students within a profile sharing identical observed
// categories. It is the unit of network query deduplication.
type Group struct {
	Key      string      // profile key + observed categories
	ID       uint64      // xxhash of Key, for diagnostics
	Evidence map[int]int // vertex -> category
	Students []int       // state rows, ascending
}

// #endregion groups
