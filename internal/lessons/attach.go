package lessons

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"lessoncast/internal/clipstore"
	"lessoncast/internal/models"
)

// AttachLineAudio stores an uploaded clip at the line's canonical path and records it.
// The previous clip survives any failure. Clips previously attached under another
// name are removed once the new path is recorded.
func (s *Service) AttachLineAudio(ctx context.Context, lineID int64, data []byte, filename string) (*models.Line, error) {
	ext := clipstore.Ext(filename)
	if !s.accepted[ext] {
		s.metrics.ObserveClipUpload("other", "rejected")
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filename)
	}
	if len(data) == 0 {
		s.metrics.ObserveClipUpload(ext, "rejected")
		return nil, fmt.Errorf("%w: uploaded file is empty", ErrInvalidInput)
	}

	line, err := s.GetLine(ctx, lineID)
	if err != nil {
		return nil, err
	}

	dest := clipstore.LinePath(line.LessonID, line.ID, ext)
	log := s.logger.With().Int64("lesson_id", line.LessonID).Int64("line_id", line.ID).Str("path", dest).Logger()

	staged, err := s.store.Stage(dest, data)
	if err != nil {
		s.metrics.ObserveClipUpload(ext, "error")
		return nil, fmt.Errorf("failed to store clip for line %d: %w", line.ID, err)
	}
	if err := staged.Promote(); err != nil {
		if derr := staged.Discard(); derr != nil {
			log.Error().Err(derr).Msg("Failed to discard staged clip")
		}
		s.metrics.ObserveClipUpload(ext, "error")
		return nil, fmt.Errorf("failed to store clip for line %d: %w", line.ID, err)
	}

	if err := s.repo.SetLineAudioFile(ctx, line.ID, dest); err != nil {
		if derr := staged.Discard(); derr != nil {
			log.Error().Err(derr).Msg("Failed to restore clip after database error")
		}
		s.metrics.ObserveClipUpload(ext, "error")
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("line %d: %w", line.ID, ErrLineNotFound)
		}
		return nil, fmt.Errorf("failed to record clip for line %d: %w", line.ID, err)
	}
	if err := staged.Finalize(); err != nil {
		log.Warn().Err(err).Msg("Failed to remove replaced clip backup")
	}

	previous := line.AudioFile
	for format := range s.accepted {
		if format == ext {
			continue
		}
		sibling := clipstore.LinePath(line.LessonID, line.ID, format)
		if err := s.store.Remove(sibling); err != nil {
			log.Warn().Err(err).Str("stale", sibling).Msg("Failed to remove superseded clip")
		}
		if sibling == previous {
			previous = ""
		}
	}
	if previous != "" && previous != dest {
		if err := s.store.Remove(previous); err != nil {
			log.Warn().Err(err).Str("stale", previous).Msg("Failed to remove superseded clip")
		}
	}

	s.metrics.ObserveClipUpload(ext, "success")
	log.Info().Int("bytes", len(data)).Msg("Line audio attached")

	line.AudioFile = dest
	return line, nil
}
