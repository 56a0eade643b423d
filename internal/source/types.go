package source

import (
	"context"
	"errors"
	"time"

	"github.com/danielpatrickdp/knowledge-state/internal/cpt"
	"github.com/danielpatrickdp/knowledge-state/internal/evidence"
	"github.com/danielpatrickdp/knowledge-state/internal/graph"
	"github.com/danielpatrickdp/knowledge-state/internal/mastery"
)

// ErrNoEnrollment is returned when a course has no students in scope.
var ErrNoEnrollment = errors.New("no enrollment")

// #region batch
// Batch is everything one (tenant, course) inference run consumes.
type Batch struct {
	TenantID   string             `json:"tenant_id" yaml:"tenant_id"`
	CourseID   string             `json:"course_id" yaml:"course_id"`
	AsOf       time.Time          `json:"as_of" yaml:"as_of"`
	Students   []string           `json:"students" yaml:"students"`
	Standards  []string           `json:"standards" yaml:"standards"`
	Records    []evidence.Record  `json:"records" yaml:"records"`
	Edges      []graph.Edge       `json:"edges" yaml:"edges"`
	CPT        []cpt.Row          `json:"cpt" yaml:"cpt"`
	Categories []mastery.Category `json:"categories" yaml:"categories"`
}

// #endregion batch

// #region source
// Source loads batches. Implementations own their storage.
type Source interface {
	Load(ctx context.Context, tenantID, courseID string) (Batch, error)
}

// #endregion source
