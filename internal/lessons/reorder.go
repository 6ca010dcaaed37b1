package lessons

import (
	"context"
	"fmt"
	"sort"

	"lessoncast/internal/models"
	"lessoncast/internal/services"
	"lessoncast/internal/tracing"
)

// OrderAssignment is the new position of one line
type OrderAssignment struct {
	LineID int64 `json:"line_id"`
	Order  int   `json:"order"`
}

// PlanReorder maps the requested id sequence to 1-based positions. orderedIDs must name
// every current line exactly once and nothing else.
func PlanReorder(current []models.Line, orderedIDs []int64) ([]OrderAssignment, error) {
	known := make(map[int64]bool, len(current))
	for _, line := range current {
		known[line.ID] = true
	}

	seen := make(map[int64]bool, len(orderedIDs))
	setErr := &LineSetError{}
	for _, id := range orderedIDs {
		if seen[id] {
			setErr.Duplicate = append(setErr.Duplicate, id)
			continue
		}
		seen[id] = true
		if !known[id] {
			setErr.Unknown = append(setErr.Unknown, id)
		}
	}
	for id := range known {
		if !seen[id] {
			setErr.Missing = append(setErr.Missing, id)
		}
	}
	if len(setErr.Missing)+len(setErr.Unknown)+len(setErr.Duplicate) > 0 {
		sort.Slice(setErr.Missing, func(i, j int) bool { return setErr.Missing[i] < setErr.Missing[j] })
		return nil, setErr
	}

	plan := make([]OrderAssignment, len(orderedIDs))
	for i, id := range orderedIDs {
		plan[i] = OrderAssignment{LineID: id, Order: i + 1}
	}
	return plan, nil
}

// ReorderLines rewrites the order of every line in a lesson in one transaction
func (s *Service) ReorderLines(ctx context.Context, lessonID int64, orderedIDs []int64) (err error) {
	ctx, span := tracing.Start(ctx, "lessons.ReorderLines", tracing.LessonTracingAttrs("lesson.reorder", lessonID)...)
	defer span.End()
	defer func() {
		if err != nil {
			tracing.SetSpanError(ctx, err)
			s.metrics.ObserveReorder(reorderResultLabel(err))
			return
		}
		s.metrics.ObserveReorder("success")
	}()

	err = s.repo.Transaction(ctx, func(tx *services.Repository) error {
		exists, err := tx.LessonExists(ctx, lessonID)
		if err != nil {
			return fmt.Errorf("failed to load lesson %d: %w", lessonID, err)
		}
		if !exists {
			return fmt.Errorf("lesson %d: %w", lessonID, ErrLessonNotFound)
		}

		lines, err := tx.GetLinesByLesson(ctx, lessonID)
		if err != nil {
			return err
		}

		plan, err := PlanReorder(lines, orderedIDs)
		if err != nil {
			return err
		}

		for _, a := range plan {
			if err := tx.SetLineOrder(ctx, lessonID, a.LineID, a.Order); err != nil {
				return fmt.Errorf("failed to move line %d to position %d: %w", a.LineID, a.Order, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().Int64("lesson_id", lessonID).Int("lines", len(orderedIDs)).Msg("Lesson lines reordered")
	return nil
}

// reorderResultLabel maps a reorder error to the metrics label
func reorderResultLabel(err error) string {
	if IsValidationError(err) {
		return "rejected"
	}
	return "error"
}
