package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"lessoncast/internal/jobs"
	"lessoncast/internal/lessons"
	"lessoncast/internal/lock"
	"lessoncast/internal/models"
	"lessoncast/internal/utils"
)

// LessonHandler serves the lesson admin endpoints
type LessonHandler struct {
	service   *lessons.Service
	builder   *lessons.Builder
	locker    lock.Locker
	lockTTL   time.Duration
	enqueuer  jobs.Enqueuer
	inspector jobs.TaskInspector
	queue     string
	uniqueTTL time.Duration
	logger    *zerolog.Logger
}

// LessonHandlerConfig carries the lesson handler's dependencies
type LessonHandlerConfig struct {
	Service  *lessons.Service
	Builder  *lessons.Builder
	Locker   lock.Locker
	LockTTL  time.Duration
	Enqueuer jobs.Enqueuer // nil disables ?async=true
	// Inspector clears archived builds so a failed lesson can be queued again
	Inspector jobs.TaskInspector
	Queue     string
	// UniqueTTL bounds how long a queued build blocks another enqueue
	UniqueTTL time.Duration
	Logger    *zerolog.Logger
}

// NewLessonHandler creates a new lesson handler
func NewLessonHandler(cfg LessonHandlerConfig) *LessonHandler {
	if cfg.Locker == nil {
		cfg.Locker = lock.NewLocalLocker()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.Logger == nil {
		nop := zerolog.Nop()
		cfg.Logger = &nop
	}
	return &LessonHandler{
		service:   cfg.Service,
		builder:   cfg.Builder,
		locker:    cfg.Locker,
		lockTTL:   cfg.LockTTL,
		enqueuer:  cfg.Enqueuer,
		inspector: cfg.Inspector,
		queue:     cfg.Queue,
		uniqueTTL: cfg.UniqueTTL,
		logger:    cfg.Logger,
	}
}

type createLessonRequest struct {
	Title string `json:"title"`
}

type reorderRequest struct {
	OrderedLineIDs []int64 `json:"ordered_line_ids"`
}

type enqueueResponse struct {
	LessonID int64  `json:"lesson_id"`
	TaskID   string `json:"task_id"`
	Queue    string `json:"queue"`
}

func paramID(c *fiber.Ctx, name string) (int64, bool) {
	id, err := c.ParamsInt(name)
	if err != nil || id <= 0 {
		return 0, false
	}
	return int64(id), true
}

// withLessonLock runs fn while holding the lesson's lock
func (h *LessonHandler) withLessonLock(ctx context.Context, lessonID int64, fn func() error) error {
	release, err := h.locker.Acquire(ctx, lock.LessonKey(lessonID), h.lockTTL)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// ListLessons returns every lesson
func (h *LessonHandler) ListLessons(c *fiber.Ctx) error {
	list, err := h.service.ListLessons(c.UserContext())
	if err != nil {
		return sendLessonError(c, h.logger, err, "Failed to fetch lessons")
	}
	return c.JSON(list)
}

// CreateLesson adds an empty lesson
func (h *LessonHandler) CreateLesson(c *fiber.Ctx) error {
	var req createLessonRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, http.StatusBadRequest, "Invalid request body")
	}
	lesson, err := h.service.CreateLesson(c.UserContext(), req.Title)
	if err != nil {
		return sendLessonError(c, h.logger, err, "Failed to create lesson")
	}
	return c.Status(fiber.StatusCreated).JSON(lesson)
}

// GetLesson returns a lesson with its sorted lines and song
func (h *LessonHandler) GetLesson(c *fiber.Ctx) error {
	lessonID, ok := paramID(c, "id")
	if !ok {
		return utils.SendError(c, http.StatusBadRequest, "Invalid lesson ID")
	}
	lesson, err := h.service.GetLesson(c.UserContext(), lessonID)
	if err != nil {
		return sendLessonError(c, h.logger, err, "Failed to fetch lesson")
	}
	return c.JSON(lesson)
}

// DeleteLesson removes a lesson and its lines
func (h *LessonHandler) DeleteLesson(c *fiber.Ctx) error {
	ctx := c.UserContext()
	lessonID, ok := paramID(c, "id")
	if !ok {
		return utils.SendError(c, http.StatusBadRequest, "Invalid lesson ID")
	}
	err := h.withLessonLock(ctx, lessonID, func() error {
		return h.service.DeleteLesson(ctx, lessonID)
	})
	if err != nil {
		return sendLessonError(c, h.logger, err, "Failed to delete lesson")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AddLine appends a placeholder line to the lesson
func (h *LessonHandler) AddLine(c *fiber.Ctx) error {
	ctx := c.UserContext()
	lessonID, ok := paramID(c, "id")
	if !ok {
		return utils.SendError(c, http.StatusBadRequest, "Invalid lesson ID")
	}
	var line *models.Line
	err := h.withLessonLock(ctx, lessonID, func() error {
		var err error
		line, err = h.service.AddLine(ctx, lessonID)
		return err
	})
	if err != nil {
		return sendLessonError(c, h.logger, err, "Failed to add line")
	}
	return c.Status(fiber.StatusCreated).JSON(line)
}

// UpdateLine edits a line's text, order or break flag
func (h *LessonHandler) UpdateLine(c *fiber.Ctx) error {
	ctx := c.UserContext()
	lineID, ok := paramID(c, "id")
	if !ok {
		return utils.SendError(c, http.StatusBadRequest, "Invalid line ID")
	}
	var req lessons.LineUpdate
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, http.StatusBadRequest, "Invalid request body")
	}

	line, err := h.service.GetLine(ctx, lineID)
	if err != nil {
		return sendLessonError(c, h.logger, err, "Failed to fetch line")
	}
	err = h.withLessonLock(ctx, line.LessonID, func() error {
		line, err = h.service.UpdateLine(ctx, lineID, req)
		return err
	})
	if err != nil {
		return sendLessonError(c, h.logger, err, "Failed to update line")
	}
	return c.JSON(line)
}

// AttachLineAudio stores an uploaded clip for a line
func (h *LessonHandler) AttachLineAudio(c *fiber.Ctx) error {
	ctx := c.UserContext()
	lineID, ok := paramID(c, "id")
	if !ok {
		return utils.SendError(c, http.StatusBadRequest, "Invalid line ID")
	}

	fileHeader, err := c.FormFile("audio_file")
	if err != nil || fileHeader.Filename == "" {
		return utils.SendValidationError(c, "audio_file", "no audio file provided")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return utils.SendInternalServerError(c, "Failed to read upload")
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return utils.SendInternalServerError(c, "Failed to read upload")
	}

	line, err := h.service.GetLine(ctx, lineID)
	if err != nil {
		return sendLessonError(c, h.logger, err, "Failed to fetch line")
	}
	err = h.withLessonLock(ctx, line.LessonID, func() error {
		line, err = h.service.AttachLineAudio(ctx, lineID, data, fileHeader.Filename)
		return err
	})
	if err != nil {
		return sendLessonError(c, h.logger, err, "Failed to attach line audio")
	}
	return c.JSON(line)
}

// ReorderLines applies a full ordering of the lesson's lines
func (h *LessonHandler) ReorderLines(c *fiber.Ctx) error {
	ctx := c.UserContext()
	lessonID, ok := paramID(c, "id")
	if !ok {
		return utils.SendError(c, http.StatusBadRequest, "Invalid lesson ID")
	}
	var req reorderRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, http.StatusBadRequest, "Invalid request body")
	}

	err := h.withLessonLock(ctx, lessonID, func() error {
		return h.service.ReorderLines(ctx, lessonID, req.OrderedLineIDs)
	})
	if err != nil {
		return sendLessonError(c, h.logger, err, "Failed to reorder lines")
	}

	lesson, err := h.service.GetLesson(ctx, lessonID)
	if err != nil {
		return sendLessonError(c, h.logger, err, "Failed to fetch lesson")
	}
	return c.JSON(lesson)
}

// PlanBuild reports which clips a build would use without writing anything
func (h *LessonHandler) PlanBuild(c *fiber.Ctx) error {
	lessonID, ok := paramID(c, "id")
	if !ok {
		return utils.SendError(c, http.StatusBadRequest, "Invalid lesson ID")
	}
	plan, err := h.builder.Plan(c.UserContext(), lessonID)
	if err != nil {
		return sendLessonError(c, h.logger, err, "Failed to plan lesson build")
	}
	return c.JSON(plan)
}

// BuildLesson compiles the lesson audio, or queues it with ?async=true
func (h *LessonHandler) BuildLesson(c *fiber.Ctx) error {
	ctx := c.UserContext()
	lessonID, ok := paramID(c, "id")
	if !ok {
		return utils.SendError(c, http.StatusBadRequest, "Invalid lesson ID")
	}

	if c.QueryBool("async") {
		return h.enqueueBuild(c, lessonID)
	}

	var result *lessons.BuildResult
	err := h.withLessonLock(ctx, lessonID, func() error {
		var err error
		result, err = h.builder.Build(ctx, lessonID)
		return err
	})
	if err != nil {
		return sendLessonError(c, h.logger, err, "Failed to build lesson audio")
	}
	return c.JSON(result)
}

func (h *LessonHandler) enqueueBuild(c *fiber.Ctx, lessonID int64) error {
	ctx := c.UserContext()
	if h.enqueuer == nil {
		return utils.SendErrorResponse(c, http.StatusServiceUnavailable,
			"Background builds unavailable", "Redis is not configured")
	}
	if _, err := h.service.GetLesson(ctx, lessonID); err != nil {
		return sendLessonError(c, h.logger, err, "Failed to fetch lesson")
	}

	info, err := jobs.EnqueueLessonBuild(ctx, h.enqueuer, h.inspector, lessonID, h.queue, h.uniqueTTL)
	if err != nil {
		return sendLessonError(c, h.logger, err, "Failed to queue lesson build")
	}

	h.logger.Info().Int64("lesson_id", lessonID).Str("task_id", info.ID).Msg("Lesson build queued")
	return c.Status(fiber.StatusAccepted).JSON(enqueueResponse{
		LessonID: lessonID,
		TaskID:   info.ID,
		Queue:    info.Queue,
	})
}
