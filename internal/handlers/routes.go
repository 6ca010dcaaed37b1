package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"lessoncast/internal/clipstore"
	"lessoncast/internal/metrics"
	"lessoncast/internal/middleware"
	"lessoncast/internal/services"
)

// Dependencies wires the route handlers
type Dependencies struct {
	Repo    *services.Repository
	Store   *clipstore.Store
	Lessons LessonHandlerConfig
	Metrics *metrics.Metrics
	Logger  *zerolog.Logger
	// BuildLimiter throttles build requests per lesson; nil disables it
	BuildLimiter *middleware.KeyedRateLimiter
}

// RegisterRoutes mounts the public API and the lesson admin API on app
func RegisterRoutes(app *fiber.App, deps Dependencies) {
	if deps.Logger == nil {
		nop := zerolog.Nop()
		deps.Logger = &nop
	}
	if deps.Lessons.Logger == nil {
		deps.Lessons.Logger = deps.Logger
	}

	playlists := NewPlaylistHandler(deps.Repo, deps.Store, deps.Logger)
	songs := NewSongHandler(deps.Repo, deps.Store, deps.Metrics, deps.Logger)
	lessonHandler := NewLessonHandler(deps.Lessons)

	api := app.Group("/api")
	api.Get("/playlists", playlists.GetPlaylists)
	api.Get("/playlists/:id/songs", playlists.GetPlaylistSongs)
	api.Post("/playlists/:id/songs", playlists.UploadSong)
	api.Get("/songs/:id/audio", songs.StreamAudio)
	api.Post("/songs/:id/play", songs.RecordPlay)
	api.Get("/songs/:id/plays", songs.GetPlayCount)

	admin := app.Group("/admin")
	admin.Get("/lessons", lessonHandler.ListLessons)
	admin.Post("/lessons", lessonHandler.CreateLesson)
	admin.Get("/lessons/:id", lessonHandler.GetLesson)
	admin.Delete("/lessons/:id", lessonHandler.DeleteLesson)
	admin.Post("/lessons/:id/lines", lessonHandler.AddLine)
	admin.Post("/lessons/:id/reorder", lessonHandler.ReorderLines)
	admin.Get("/lessons/:id/plan", lessonHandler.PlanBuild)

	buildHandlers := []fiber.Handler{lessonHandler.BuildLesson}
	if deps.BuildLimiter != nil {
		buildHandlers = append([]fiber.Handler{
			deps.BuildLimiter.Handler("id", "Too many builds for this lesson. Please try again later."),
		}, buildHandlers...)
	}
	admin.Post("/lessons/:id/build", buildHandlers...)

	admin.Patch("/lines/:id", lessonHandler.UpdateLine)
	admin.Put("/lines/:id/audio", lessonHandler.AttachLineAudio)
}
