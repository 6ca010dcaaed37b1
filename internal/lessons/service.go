package lessons

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"lessoncast/internal/clipstore"
	"lessoncast/internal/metrics"
	"lessoncast/internal/models"
	"lessoncast/internal/services"
)

// DefaultAcceptedFormats are the clip extensions accepted for line uploads
var DefaultAcceptedFormats = []string{"mp3", "wav", "ogg"}

// Service manages lessons and their lines
type Service struct {
	repo     *services.Repository
	store    *clipstore.Store
	accepted map[string]bool
	metrics  *metrics.Metrics
	logger   *zerolog.Logger
}

// NewService creates a lesson service. m and logger may be nil.
func NewService(repo *services.Repository, store *clipstore.Store, acceptedFormats []string, m *metrics.Metrics, logger *zerolog.Logger) *Service {
	if len(acceptedFormats) == 0 {
		acceptedFormats = DefaultAcceptedFormats
	}
	accepted := make(map[string]bool, len(acceptedFormats))
	for _, f := range acceptedFormats {
		accepted[strings.ToLower(strings.TrimPrefix(f, "."))] = true
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{
		repo:     repo,
		store:    store,
		accepted: accepted,
		metrics:  m,
		logger:   logger,
	}
}

// LineUpdate holds the editable fields of a line. Nil fields are left unchanged.
type LineUpdate struct {
	Text       *string `json:"text"`
	Order      *int    `json:"order"`
	BreakAfter *bool   `json:"break_after"`
}

func (s *Service) CreateLesson(ctx context.Context, title string) (*models.Lesson, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	lesson := &models.Lesson{Title: title}
	if err := s.repo.CreateLesson(ctx, lesson); err != nil {
		return nil, fmt.Errorf("failed to create lesson: %w", err)
	}
	s.logger.Info().Int64("lesson_id", lesson.ID).Msg("Lesson created")
	return lesson, nil
}

func (s *Service) ListLessons(ctx context.Context) ([]models.Lesson, error) {
	return s.repo.ListLessons(ctx)
}

// GetLesson returns the lesson with its song and its lines in play order
func (s *Service) GetLesson(ctx context.Context, lessonID int64) (*models.Lesson, error) {
	lesson, err := s.repo.GetLessonByID(ctx, lessonID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lesson %d: %w", lessonID, ErrLessonNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load lesson %d: %w", lessonID, err)
	}

	lines, err := s.repo.GetLinesByLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	lesson.Lines = lines
	return lesson, nil
}

// DeleteLesson removes a lesson and its lines, then their clips. The lesson's song is kept.
func (s *Service) DeleteLesson(ctx context.Context, lessonID int64) error {
	lines, err := s.repo.GetLinesByLesson(ctx, lessonID)
	if err != nil {
		return err
	}

	err = s.repo.DeleteLesson(ctx, lessonID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("lesson %d: %w", lessonID, ErrLessonNotFound)
	}
	if err != nil {
		return err
	}

	for _, line := range lines {
		if !line.HasAudio() {
			continue
		}
		if err := s.store.Remove(line.AudioFile); err != nil {
			s.logger.Warn().Err(err).Int64("line_id", line.ID).Str("path", line.AudioFile).Msg("Failed to remove clip of deleted line")
		}
	}
	s.logger.Info().Int64("lesson_id", lessonID).Int("lines", len(lines)).Msg("Lesson deleted")
	return nil
}

// AddLine appends a placeholder line after the lesson's last line
func (s *Service) AddLine(ctx context.Context, lessonID int64) (*models.Line, error) {
	var line *models.Line
	err := s.repo.Transaction(ctx, func(tx *services.Repository) error {
		exists, err := tx.LessonExists(ctx, lessonID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("lesson %d: %w", lessonID, ErrLessonNotFound)
		}

		next, err := tx.NextLineOrder(ctx, lessonID)
		if err != nil {
			return fmt.Errorf("failed to compute line order: %w", err)
		}

		line = &models.Line{
			LessonID: lessonID,
			Text:     models.PlaceholderLineText,
			Order:    next,
		}
		return tx.CreateLine(ctx, line)
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

func (s *Service) GetLine(ctx context.Context, lineID int64) (*models.Line, error) {
	line, err := s.repo.GetLineByID(ctx, lineID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("line %d: %w", lineID, ErrLineNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load line %d: %w", lineID, err)
	}
	return line, nil
}

// UpdateLine edits a line's text, order or break flag
func (s *Service) UpdateLine(ctx context.Context, lineID int64, update LineUpdate) (*models.Line, error) {
	updates := map[string]interface{}{}
	if update.Text != nil {
		text := strings.TrimSpace(*update.Text)
		if text == "" {
			return nil, fmt.Errorf("%w: text is required", ErrInvalidInput)
		}
		updates["text"] = text
	}
	if update.Order != nil {
		updates["sort_order"] = *update.Order
	}
	if update.BreakAfter != nil {
		updates["break_after"] = *update.BreakAfter
	}

	if len(updates) > 0 {
		err := s.repo.UpdateLine(ctx, lineID, updates)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("line %d: %w", lineID, ErrLineNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update line %d: %w", lineID, err)
		}
	}
	return s.GetLine(ctx, lineID)
}
