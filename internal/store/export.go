package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/mockboard/internal/model"
)

// ExportAllResults builds export-ready results for every evaluated session.
// Sessions that were never evaluated are skipped.
func (s *Store) ExportAllResults(ctx context.Context) ([]model.SessionResult, error) {
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	results := []model.SessionResult{}
	for _, sess := range sessions {
		r, err := s.GetResult(ctx, sess.ID)
		if err != nil {
			return nil, fmt.Errorf("get result %s: %w", sess.ID, err)
		}
		if r == nil {
			continue
		}
		results = append(results, model.SessionResult{
			SessionID:   sess.ID,
			StudentName: sess.StudentName,
			Mode:        sess.Mode,
			Subject:     sess.Subject,
			Status:      sess.Status,
			StartedAt:   sess.StartedAt,
			EndedAt:     sess.EndedAt,
			Result:      *r,
		})
	}
	return results, nil
}
