package lessons

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"lessoncast/internal/audio"
	"lessoncast/internal/clipstore"
	"lessoncast/internal/metrics"
	"lessoncast/internal/models"
	"lessoncast/internal/services"
	"lessoncast/internal/tracing"
)

// Codec is the audio work the build pipeline delegates
type Codec interface {
	Decode(ctx context.Context, data []byte, format string) (*audio.Segment, error)
	Concat(segments ...*audio.Segment) (*audio.Segment, error)
	Silence(d time.Duration, like *audio.Segment) *audio.Segment
	Encode(ctx context.Context, seg *audio.Segment, format string) ([]byte, error)
}

// BuildOptions configures the build pipeline
type BuildOptions struct {
	ExportFormat      string
	MinClipBytes      int64
	DefaultArtist     string
	DefaultPlaylistID int64
}

// DefaultBuildOptions returns the options used when none are configured
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		ExportFormat:      audio.FormatMP3,
		MinClipBytes:      1000,
		DefaultArtist:     "System",
		DefaultPlaylistID: 1,
	}
}

// PlannedClip is one validated clip in build order
type PlannedClip struct {
	LineID     int64  `json:"line_id"`
	Path       string `json:"path"`
	Format     string `json:"format"`
	Bytes      int64  `json:"bytes"`
	BreakAfter bool   `json:"break_after"`
}

// BuildPlan is the validated clip sequence for a lesson
type BuildPlan struct {
	LessonID     int64         `json:"lesson_id"`
	Clips        []PlannedClip `json:"clips"`
	SkippedLines []int64       `json:"skipped_lines"`
}

// BuildResult describes a successful build
type BuildResult struct {
	LessonID  int64         `json:"lesson_id"`
	SongID    int64         `json:"song_id"`
	AudioFile string        `json:"audio_file"`
	Created   bool          `json:"created"`
	Segments  int           `json:"segments"`
	Silences  int           `json:"silences"`
	Duration  time.Duration `json:"duration_ns"`
	Bytes     int           `json:"bytes"`
}

// Builder compiles a lesson's line clips into one exported song
type Builder struct {
	repo    *services.Repository
	store   *clipstore.Store
	codec   Codec
	opts    BuildOptions
	metrics *metrics.Metrics
	logger  *zerolog.Logger
}

// NewBuilder creates a builder. m and logger may be nil.
func NewBuilder(repo *services.Repository, store *clipstore.Store, codec Codec, opts BuildOptions, m *metrics.Metrics, logger *zerolog.Logger) *Builder {
	defaults := DefaultBuildOptions()
	if opts.ExportFormat == "" {
		opts.ExportFormat = defaults.ExportFormat
	}
	if opts.MinClipBytes <= 0 {
		opts.MinClipBytes = defaults.MinClipBytes
	}
	if opts.DefaultArtist == "" {
		opts.DefaultArtist = defaults.DefaultArtist
	}
	if opts.DefaultPlaylistID <= 0 {
		opts.DefaultPlaylistID = defaults.DefaultPlaylistID
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Builder{
		repo:    repo,
		store:   store,
		codec:   codec,
		opts:    opts,
		metrics: m,
		logger:  logger,
	}
}

// Plan loads a lesson and validates every clip it references without decoding anything
func (b *Builder) Plan(ctx context.Context, lessonID int64) (*BuildPlan, error) {
	lesson, err := b.loadLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	lines, err := b.repo.GetLinesByLesson(ctx, lesson.ID)
	if err != nil {
		return nil, err
	}
	return b.plan(lesson.ID, lines)
}

// Build produces the lesson's export and points the lesson's song at it.
// On any error the previous song reference and export file are left untouched.
func (b *Builder) Build(ctx context.Context, lessonID int64) (result *BuildResult, err error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "lessons.Build", tracing.LessonTracingAttrs("lesson.build", lessonID)...)
	defer span.End()

	log := b.logger.With().Int64("lesson_id", lessonID).Logger()
	defer func() {
		label := BuildResultLabel(err)
		if result != nil {
			b.metrics.ObserveBuild(label, time.Since(start), result.Segments, result.Bytes)
			return
		}
		b.metrics.ObserveBuild(label, time.Since(start), 0, 0)
		tracing.SetSpanError(ctx, err)
		if IsValidationError(err) {
			log.Warn().Err(err).Msg("Lesson build rejected")
		} else {
			log.Error().Err(err).Msg("Lesson build failed")
		}
	}()

	lesson, err := b.loadLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	lines, err := b.repo.GetLinesByLesson(ctx, lesson.ID)
	if err != nil {
		return nil, err
	}

	plan, err := b.plan(lesson.ID, lines)
	if err != nil {
		return nil, err
	}

	mix, silences, err := b.mix(ctx, plan)
	if err != nil {
		return nil, err
	}

	data, err := b.codec.Encode(ctx, mix, b.opts.ExportFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode lesson %d as %s: %w", lesson.ID, b.opts.ExportFormat, err)
	}

	exportPath := clipstore.ExportPath(lesson.ID, b.opts.ExportFormat)
	staged, err := b.store.Stage(exportPath, data)
	if err != nil {
		return nil, fmt.Errorf("failed to stage lesson export: %w", err)
	}

	result = &BuildResult{
		LessonID:  lesson.ID,
		AudioFile: exportPath,
		Segments:  len(plan.Clips),
		Silences:  silences,
		Duration:  mix.Duration(),
		Bytes:     len(data),
	}

	err = b.repo.Transaction(ctx, func(tx *services.Repository) error {
		songID, created, err := b.attachSong(ctx, tx, lesson, exportPath)
		if err != nil {
			return err
		}
		result.SongID = songID
		result.Created = created
		return staged.Promote()
	})
	if err != nil {
		if derr := staged.Discard(); derr != nil {
			log.Error().Err(derr).Str("path", exportPath).Msg("Failed to restore previous lesson export")
		}
		return nil, fmt.Errorf("failed to publish lesson export: %w", err)
	}

	if ferr := staged.Finalize(); ferr != nil {
		log.Warn().Err(ferr).Str("path", exportPath).Msg("Failed to remove backup of previous export")
	}

	span.SetAttributes(
		attribute.Int64("song.id", result.SongID),
		attribute.Int("build.segments", result.Segments),
		attribute.Int("build.bytes", result.Bytes),
	)
	log.Info().
		Int64("song_id", result.SongID).
		Bool("created", result.Created).
		Int("segments", result.Segments).
		Int("silences", result.Silences).
		Dur("duration", result.Duration).
		Str("path", exportPath).
		Msg("Lesson built")

	return result, nil
}

func (b *Builder) loadLesson(ctx context.Context, lessonID int64) (*models.Lesson, error) {
	lesson, err := b.repo.GetLessonByID(ctx, lessonID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lesson %d: %w", lessonID, ErrLessonNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load lesson %d: %w", lessonID, err)
	}
	return lesson, nil
}

// plan walks the lines in order and validates each referenced clip.
// It stops at the first bad clip.
func (b *Builder) plan(lessonID int64, lines []models.Line) (*BuildPlan, error) {
	models.SortLines(lines)

	plan := &BuildPlan{LessonID: lessonID, Clips: []PlannedClip{}, SkippedLines: []int64{}}
	for _, line := range lines {
		if !line.HasAudio() {
			plan.SkippedLines = append(plan.SkippedLines, line.ID)
			continue
		}

		exists, err := b.store.Exists(line.AudioFile)
		if err != nil {
			return nil, &ClipError{Kind: MissingClip, LineID: line.ID, Path: line.AudioFile, Err: err}
		}
		if !exists {
			return nil, &ClipError{Kind: MissingClip, LineID: line.ID, Path: line.AudioFile}
		}

		size, err := b.store.Size(line.AudioFile)
		if err != nil {
			return nil, &ClipError{Kind: MissingClip, LineID: line.ID, Path: line.AudioFile, Err: err}
		}
		if size < b.opts.MinClipBytes {
			return nil, &ClipError{
				Kind:   CorruptClip,
				LineID: line.ID,
				Path:   line.AudioFile,
				Err:    fmt.Errorf("%d bytes is below the %d byte minimum", size, b.opts.MinClipBytes),
			}
		}

		plan.Clips = append(plan.Clips, PlannedClip{
			LineID:     line.ID,
			Path:       line.AudioFile,
			Format:     clipstore.Ext(line.AudioFile),
			Bytes:      size,
			BreakAfter: line.BreakAfter,
		})
	}

	if len(plan.Clips) == 0 {
		return nil, fmt.Errorf("lesson %d: %w", lessonID, ErrNoContent)
	}
	return plan, nil
}

// mix decodes the planned clips and joins them, inserting a silence as long as
// the preceding clip after every line marked with a break
func (b *Builder) mix(ctx context.Context, plan *BuildPlan) (*audio.Segment, int, error) {
	segments := make([]*audio.Segment, 0, len(plan.Clips)*2)
	silences := 0

	for _, clip := range plan.Clips {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		data, err := b.store.Read(clip.Path)
		if err != nil {
			return nil, 0, &ClipError{Kind: MissingClip, LineID: clip.LineID, Path: clip.Path, Err: err}
		}

		seg, err := b.codec.Decode(ctx, data, clip.Format)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			return nil, 0, &ClipError{Kind: CorruptClip, LineID: clip.LineID, Path: clip.Path, Err: err}
		}
		segments = append(segments, seg)

		if clip.BreakAfter {
			segments = append(segments, b.codec.Silence(seg.Duration(), seg))
			silences++
		}
		tracing.AddEvent(ctx, "clip.decoded",
			attribute.Int64("line.id", clip.LineID),
			attribute.Bool("line.break_after", clip.BreakAfter),
		)
	}

	mix, err := b.codec.Concat(segments...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to concatenate clips: %w", err)
	}
	return mix, silences, nil
}

// attachSong repoints the lesson's song at the export, creating the song on first build
func (b *Builder) attachSong(ctx context.Context, tx *services.Repository, lesson *models.Lesson, exportPath string) (int64, bool, error) {
	if lesson.SongID != nil {
		err := tx.UpdateSongAudioFile(ctx, *lesson.SongID, exportPath)
		if err == nil {
			return *lesson.SongID, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, fmt.Errorf("failed to update song %d: %w", *lesson.SongID, err)
		}
	}

	song := &models.Song{
		Title:      lesson.Title,
		Artist:     b.opts.DefaultArtist,
		PlaylistID: b.opts.DefaultPlaylistID,
		AudioFile:  exportPath,
	}
	if err := tx.CreateSong(ctx, song); err != nil {
		return 0, false, fmt.Errorf("failed to create song: %w", err)
	}
	if err := tx.LinkLessonSong(ctx, lesson.ID, song.ID); err != nil {
		return 0, false, fmt.Errorf("failed to link song %d to lesson %d: %w", song.ID, lesson.ID, err)
	}
	return song.ID, true, nil
}
