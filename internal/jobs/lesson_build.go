package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"lessoncast/internal/lessons"
	"lessoncast/internal/lock"
	"lessoncast/internal/logging"
	"lessoncast/internal/tracing"
)

// Job types for Asynq
const (
	TypeLessonBuild = "lesson:build"
)

// DefaultQueue is used when no queue is configured
const DefaultQueue = "lessons"

// LessonBuildPayload represents the payload for lesson build jobs
type LessonBuildPayload struct {
	LessonID int64 `json:"lesson_id"`
}

// Enqueuer is the part of *asynq.Client the API needs
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskInspector is the part of *asynq.Inspector used to clear finished builds
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
}

// BuildRunner runs one lesson build
type BuildRunner interface {
	Build(ctx context.Context, lessonID int64) (*lessons.BuildResult, error)
}

// ErrAlreadyQueued is returned when a build for the lesson is already pending
var ErrAlreadyQueued = errors.New("lesson build already queued")

// NewLessonBuildTask creates a lesson build task. Builds never retry automatically.
func NewLessonBuildTask(lessonID int64) (*asynq.Task, error) {
	payload, err := json.Marshal(LessonBuildPayload{LessonID: lessonID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lesson build payload: %w", err)
	}
	return asynq.NewTask(TypeLessonBuild, payload, asynq.MaxRetry(0)), nil
}

// LessonBuildTaskID is the dedup key of a lesson's build task
func LessonBuildTaskID(lessonID int64) string {
	return fmt.Sprintf("lesson.build:%d", lessonID)
}

// EnqueueLessonBuild queues a background build, at most one pending per lesson.
// A failed build stays archived under the lesson's task ID; when inspector is set
// that task is deleted so the lesson can be queued again.
func EnqueueLessonBuild(ctx context.Context, client Enqueuer, inspector TaskInspector, lessonID int64, queue string, uniqueTTL time.Duration) (*asynq.TaskInfo, error) {
	task, err := NewLessonBuildTask(lessonID)
	if err != nil {
		return nil, err
	}
	if queue == "" {
		queue = DefaultQueue
	}
	if uniqueTTL <= 0 {
		uniqueTTL = 10 * time.Minute
	}

	taskID := LessonBuildTaskID(lessonID)
	opts := []asynq.Option{
		asynq.Queue(queue),
		asynq.TaskID(taskID),
		asynq.Unique(uniqueTTL),
		asynq.Timeout(10 * time.Minute),
	}
	info, err := client.EnqueueContext(ctx, task, opts...)
	if isDuplicate(err) && inspector != nil {
		cleared, cerr := clearFinishedBuild(inspector, queue, taskID)
		if cerr != nil {
			return nil, fmt.Errorf("failed to inspect lesson build %s: %w", taskID, cerr)
		}
		if cleared {
			info, err = client.EnqueueContext(ctx, task, opts...)
		}
	}
	if err != nil {
		if isDuplicate(err) {
			return nil, fmt.Errorf("%w: lesson %d", ErrAlreadyQueued, lessonID)
		}
		return nil, fmt.Errorf("failed to enqueue lesson build: %w", err)
	}
	return info, nil
}

func isDuplicate(err error) bool {
	return errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict)
}

// clearFinishedBuild deletes the task if it already ran, which also drops its unique lock
func clearFinishedBuild(inspector TaskInspector, queue, taskID string) (bool, error) {
	info, err := inspector.GetTaskInfo(queue, taskID)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if info.State != asynq.TaskStateArchived && info.State != asynq.TaskStateCompleted {
		return false, nil
	}
	if err := inspector.DeleteTask(queue, taskID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return false, err
	}
	return true, nil
}

// TaskHandler runs queued lesson builds under the per-lesson lock
type TaskHandler struct {
	builder BuildRunner
	locker  lock.Locker
	lockTTL time.Duration
	logger  *logging.Logger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(builder BuildRunner, locker lock.Locker, lockTTL time.Duration, logger *logging.Logger) *TaskHandler {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &TaskHandler{builder: builder, locker: locker, lockTTL: lockTTL, logger: logger}
}

// Register adds the handler's task types to mux
func (h *TaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeLessonBuild, h.HandleLessonBuild)
}

// HandleLessonBuild processes lesson build jobs
func (h *TaskHandler) HandleLessonBuild(ctx context.Context, t *asynq.Task) (err error) {
	start := time.Now()
	taskID, _ := asynq.GetTaskID(ctx)
	queue, _ := asynq.GetQueueName(ctx)

	ctx, span := tracing.Start(ctx, "jobs.HandleLessonBuild",
		tracing.JobProcessingTracingAttrs(taskID, queue, TypeLessonBuild)...)
	defer func() {
		if err != nil {
			tracing.SetSpanError(ctx, err)
		}
		span.End()
		h.logger.LogJobProcessing(queue, TypeLessonBuild, time.Since(start), err)
	}()

	var p LessonBuildPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal lesson build payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.LessonID <= 0 {
		return fmt.Errorf("invalid lesson id %d: %w", p.LessonID, asynq.SkipRetry)
	}

	release, err := h.locker.Acquire(ctx, lock.LessonKey(p.LessonID), h.lockTTL)
	if err != nil {
		return fmt.Errorf("lesson %d: %w", p.LessonID, err)
	}
	defer release()

	result, err := h.builder.Build(ctx, p.LessonID)
	if err != nil {
		if lessons.IsValidationError(err) {
			return fmt.Errorf("lesson %d build rejected: %w: %w", p.LessonID, err, asynq.SkipRetry)
		}
		return fmt.Errorf("lesson %d build failed: %w", p.LessonID, err)
	}

	h.logger.WithContext(ctx).Info().
		Int64("lesson_id", result.LessonID).
		Int64("song_id", result.SongID).
		Str("path", result.AudioFile).
		Msg("Queued lesson build completed")
	return nil
}
