package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"lessoncast/internal/audio"
	"lessoncast/internal/clipstore"
	"lessoncast/internal/lessons"
	"lessoncast/internal/lock"
	"lessoncast/internal/metrics"
	"lessoncast/internal/middleware"
	"lessoncast/internal/models"
	"lessoncast/internal/services"
	"lessoncast/internal/test"
	"lessoncast/internal/utils"
)

type stubEnqueuer struct {
	calls int
	err   error
}

func (s *stubEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &asynq.TaskInfo{ID: "lesson.build:1", Queue: "lessons", Type: task.Type()}, nil
}

type testEnv struct {
	app      *fiber.App
	db       *gorm.DB
	repo     *services.Repository
	store    *clipstore.Store
	codec    *audio.Codec
	locker   *lock.LocalLocker
	enqueuer *stubEnqueuer
}

type envOption func(*Dependencies)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	db := test.GetTestDB(t)
	store, err := clipstore.New(t.TempDir())
	require.NoError(t, err)

	repo := services.NewRepository(db)
	codec := audio.NewCodec(audio.Options{})
	m := metrics.NewMetrics(prometheus.NewRegistry())
	buildOpts := lessons.DefaultBuildOptions()
	buildOpts.ExportFormat = audio.FormatWAV

	env := &testEnv{
		db:       db,
		repo:     repo,
		store:    store,
		codec:    codec,
		locker:   lock.NewLocalLocker(),
		enqueuer: &stubEnqueuer{},
	}

	deps := Dependencies{
		Repo:    repo,
		Store:   store,
		Metrics: m,
		Lessons: LessonHandlerConfig{
			Service:  lessons.NewService(repo, store, nil, m, nil),
			Builder:  lessons.NewBuilder(repo, store, codec, buildOpts, m, nil),
			Locker:   env.locker,
			Enqueuer: env.enqueuer,
			LockTTL:  time.Minute,
		},
	}
	for _, opt := range opts {
		opt(&deps)
	}

	env.app = fiber.New(fiber.Config{ErrorHandler: utils.ErrorHandler})
	RegisterRoutes(env.app, deps)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.send(t, req)
}

func (e *testEnv) send(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func multipartRequest(t *testing.T, method, path, field, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if field != "" {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

// wavClip returns a mono 8 kHz WAV of n frames at a constant level
func (e *testEnv) wavClip(t *testing.T, frames, level int) []byte {
	t.Helper()
	samples := make([]int, frames)
	for i := range samples {
		samples[i] = level
	}
	seg, err := audio.NewSegment(8000, 1, samples)
	require.NoError(t, err)
	data, err := e.codec.Encode(context.Background(), seg, audio.FormatWAV)
	require.NoError(t, err)
	return data
}

func noLogger() *zerolog.Logger {
	nop := zerolog.Nop()
	return &nop
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, v), string(data))
}

func TestErrorMapping(t *testing.T) {
	app := fiber.New()
	nop := noLogger()
	app.Get("/:case", func(c *fiber.Ctx) error {
		errs := map[string]error{
			"missing":  &lessons.ClipError{Kind: lessons.MissingClip, LineID: 4, Path: "lines/lesson_1/line_4.wav"},
			"set":      &lessons.LineSetError{Missing: []int64{2}},
			"empty":    lessons.ErrNoContent,
			"lesson":   lessons.ErrLessonNotFound,
			"line":     lessons.ErrLineNotFound,
			"format":   lessons.ErrUnsupportedFormat,
			"input":    lessons.ErrInvalidInput,
			"locked":   lock.ErrLocked,
			"internal": errors.New("disk on fire"),
			"wrapped":  errors.Join(errors.New("ctx"), lessons.ErrLessonNotFound),
		}
		return sendLessonError(c, nop, errs[c.Params("case")], "Something failed")
	})

	expect := map[string]int{
		"missing":  422,
		"set":      422,
		"empty":    422,
		"lesson":   404,
		"line":     404,
		"format":   415,
		"input":    400,
		"locked":   409,
		"internal": 500,
		"wrapped":  404,
	}
	for name, code := range expect {
		resp, err := app.Test(httptest.NewRequest("GET", "/"+name, nil))
		require.NoError(t, err)
		assert.Equal(t, code, resp.StatusCode, name)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/missing", nil))
	require.NoError(t, err)
	var body utils.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(4), body.LineID)
	assert.Equal(t, "lines/lesson_1/line_4.wav", body.Path)
	assert.Equal(t, "missing_clip", body.Kind)

	resp, err = app.Test(httptest.NewRequest("GET", "/internal", nil))
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Something failed", body.Details)
	assert.NotContains(t, body.Error, "disk")
}

func TestPlaylistEndpoints(t *testing.T) {
	env := newTestEnv(t)
	playlist := test.CreatePlaylist(t, env.db, "Chill Vibes")
	test.CreateSong(t, env.db, "Ocean Waves", playlist.ID, "songs/seed/ocean-waves.wav")

	resp, body := env.do(t, "GET", "/api/playlists", nil)
	assert.Equal(t, 200, resp.StatusCode)
	var playlists []models.Playlist
	decodeJSON(t, body, &playlists)
	require.Len(t, playlists, 1)
	assert.Equal(t, "Chill Vibes", playlists[0].Title)

	resp, body = env.do(t, "GET", "/api/playlists/1/songs", nil)
	assert.Equal(t, 200, resp.StatusCode)
	var songs []models.Song
	decodeJSON(t, body, &songs)
	require.Len(t, songs, 1)
	assert.Equal(t, "Ocean Waves", songs[0].Title)

	resp, _ = env.do(t, "GET", "/api/playlists/abc/songs", nil)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestUploadSongAndStream(t *testing.T) {
	env := newTestEnv(t)
	playlist := test.CreatePlaylist(t, env.db, "Road Trip")
	clip := env.wavClip(t, 800, 100)

	req := multipartRequest(t, "POST", "/api/playlists/1/songs", "audio", "Highway.wav", clip,
		map[string]string{"title": "Highway Cruising", "artist": "Road Warriors"})
	resp, body := env.send(t, req)
	require.Equal(t, 201, resp.StatusCode, string(body))

	var song models.Song
	decodeJSON(t, body, &song)
	assert.Equal(t, playlist.ID, song.PlaylistID)
	assert.Contains(t, song.AudioFile, "songs/uploads/")
	assert.Contains(t, song.AudioFile, "Highway.wav")

	resp, body = env.do(t, "GET", "/api/songs/1/audio", nil)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
	assert.Equal(t, clip, body)

	resp, _ = env.do(t, "GET", "/api/songs/99/audio", nil)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestUploadSongValidation(t *testing.T) {
	env := newTestEnv(t)
	test.CreatePlaylist(t, env.db, "Road Trip")

	req := multipartRequest(t, "POST", "/api/playlists/1/songs", "", "", nil, map[string]string{"title": "t", "artist": "a"})
	resp, _ := env.send(t, req)
	assert.Equal(t, 400, resp.StatusCode)

	req = multipartRequest(t, "POST", "/api/playlists/1/songs", "audio", "x.mp3", []byte("data"), map[string]string{"title": "t"})
	resp, _ = env.send(t, req)
	assert.Equal(t, 400, resp.StatusCode)

	req = multipartRequest(t, "POST", "/api/playlists/9/songs", "audio", "x.mp3", []byte("data"), map[string]string{"title": "t", "artist": "a"})
	resp, _ = env.send(t, req)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestStreamAudio_MissingFile(t *testing.T) {
	env := newTestEnv(t)
	playlist := test.CreatePlaylist(t, env.db, "Gaps")
	test.CreateSong(t, env.db, "No Path", playlist.ID, "")
	test.CreateSong(t, env.db, "Gone", playlist.ID, "songs/seed/gone.wav")

	for _, path := range []string{"/api/songs/1/audio", "/api/songs/2/audio"} {
		resp, _ := env.do(t, "GET", path, nil)
		assert.Equal(t, 404, resp.StatusCode, path)
	}
}

func TestPlayHistory(t *testing.T) {
	env := newTestEnv(t)
	playlist := test.CreatePlaylist(t, env.db, "Study")
	song := test.CreateSong(t, env.db, "Deep Focus", playlist.ID, "songs/seed/deep-focus.wav")
	user := test.CreateUser(t, env.db, "john@example.com")

	resp, _ := env.do(t, "POST", "/api/songs/1/play", nil)
	assert.Equal(t, 401, resp.StatusCode)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/api/songs/1/play", nil)
		req.Header.Set(UserIDHeader, "1")
		resp, _ = env.send(t, req)
		assert.Equal(t, 200, resp.StatusCode)
	}

	req := httptest.NewRequest("POST", "/api/songs/1/play", nil)
	req.Header.Set(UserIDHeader, "42")
	resp, _ = env.send(t, req)
	assert.Equal(t, 401, resp.StatusCode)

	resp, body := env.do(t, "GET", "/api/songs/1/plays", nil)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "2", string(body))

	count, err := env.repo.CountPlays(context.Background(), song.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, int64(1), user.ID)
}

func TestLessonAdminFlow(t *testing.T) {
	env := newTestEnv(t)
	test.CreatePlaylist(t, env.db, "Lessons")

	resp, body := env.do(t, "POST", "/admin/lessons", map[string]string{"title": "At the market"})
	require.Equal(t, 201, resp.StatusCode, string(body))
	var lesson models.Lesson
	decodeJSON(t, body, &lesson)

	var lines []models.Line
	for i := 0; i < 3; i++ {
		resp, body = env.do(t, "POST", "/admin/lessons/1/lines", nil)
		require.Equal(t, 201, resp.StatusCode, string(body))
		var line models.Line
		decodeJSON(t, body, &line)
		assert.Equal(t, i+1, line.Order)
		lines = append(lines, line)
	}

	// reorder to [3,1,2] and give line 1 a break
	resp, body = env.do(t, "POST", "/admin/lessons/1/reorder",
		map[string][]int64{"ordered_line_ids": {lines[2].ID, lines[0].ID, lines[1].ID}})
	require.Equal(t, 200, resp.StatusCode, string(body))
	decodeJSON(t, body, &lesson)
	assert.Equal(t, []int64{lines[2].ID, lines[0].ID, lines[1].ID},
		[]int64{lesson.Lines[0].ID, lesson.Lines[1].ID, lesson.Lines[2].ID})

	resp, body = env.do(t, "PATCH", "/admin/lines/1", map[string]interface{}{"text": "Hola", "break_after": true})
	require.Equal(t, 200, resp.StatusCode, string(body))
	var updated models.Line
	decodeJSON(t, body, &updated)
	assert.Equal(t, "Hola", updated.Text)
	assert.True(t, updated.BreakAfter)

	frames := []int{1000, 2000, 3000}
	for i, line := range lines {
		req := multipartRequest(t, "PUT", "/admin/lines/"+itoa(line.ID)+"/audio", "audio_file", "take.wav",
			env.wavClip(t, frames[i], 10*(i+1)), nil)
		resp, body = env.send(t, req)
		require.Equal(t, 200, resp.StatusCode, string(body))
	}

	resp, body = env.do(t, "GET", "/admin/lessons/1/plan", nil)
	require.Equal(t, 200, resp.StatusCode, string(body))
	var plan lessons.BuildPlan
	decodeJSON(t, body, &plan)
	require.Len(t, plan.Clips, 3)
	assert.Equal(t, lines[2].ID, plan.Clips[0].LineID)

	resp, body = env.do(t, "POST", "/admin/lessons/1/build", nil)
	require.Equal(t, 200, resp.StatusCode, string(body))
	var result lessons.BuildResult
	decodeJSON(t, body, &result)
	assert.True(t, result.Created)
	assert.Equal(t, clipstore.ExportPath(1, "wav"), result.AudioFile)
	assert.Equal(t, 3, result.Segments)
	assert.Equal(t, 1, result.Silences)
	// 3000 + 1000 + 1000 silence + 2000 frames at 8 kHz
	assert.Equal(t, 7000*time.Second/8000, result.Duration)

	resp, body = env.do(t, "GET", "/api/songs/"+itoa(result.SongID)+"/audio", nil)
	require.Equal(t, 200, resp.StatusCode)
	seg, err := env.codec.Decode(context.Background(), body, audio.FormatWAV)
	require.NoError(t, err)
	assert.Equal(t, 7000, seg.Frames())

	resp, _ = env.do(t, "DELETE", "/admin/lessons/1", nil)
	assert.Equal(t, 204, resp.StatusCode)
	resp, _ = env.do(t, "GET", "/admin/lessons/1", nil)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestBuildLesson_ValidationResponses(t *testing.T) {
	env := newTestEnv(t)
	lesson := test.CreateLesson(t, env.db, "Empty")

	resp, body := env.do(t, "POST", "/admin/lessons/1/build", nil)
	assert.Equal(t, 422, resp.StatusCode)
	var errBody utils.ErrorResponse
	decodeJSON(t, body, &errBody)
	assert.Equal(t, "no_content", errBody.Kind)

	line := test.CreateLine(t, env.db, lesson.ID, 1, clipstore.LinePath(lesson.ID, 1, "wav"), false)
	require.NoError(t, env.store.Write(line.AudioFile, make([]byte, 400)))

	resp, body = env.do(t, "POST", "/admin/lessons/1/build", nil)
	assert.Equal(t, 422, resp.StatusCode)
	decodeJSON(t, body, &errBody)
	assert.Equal(t, "corrupt_clip", errBody.Kind)
	assert.Equal(t, line.ID, errBody.LineID)
	assert.Equal(t, line.AudioFile, errBody.Path)

	ok, err := env.store.Exists(clipstore.ExportPath(lesson.ID, "wav"))
	require.NoError(t, err)
	assert.False(t, ok)

	resp, _ = env.do(t, "POST", "/admin/lessons/42/build", nil)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestReorder_InvalidSet(t *testing.T) {
	env := newTestEnv(t)
	lesson := test.CreateLesson(t, env.db, "Reorder")
	a := test.CreateLine(t, env.db, lesson.ID, 1, "", false)
	test.CreateLine(t, env.db, lesson.ID, 2, "", false)

	resp, body := env.do(t, "POST", "/admin/lessons/1/reorder", map[string][]int64{"ordered_line_ids": {a.ID, 77}})
	assert.Equal(t, 422, resp.StatusCode)

	var errBody struct {
		Kind string `json:"kind"`
		Data struct {
			Missing []int64 `json:"missing"`
			Unknown []int64 `json:"unknown"`
		} `json:"data"`
	}
	decodeJSON(t, body, &errBody)
	assert.Equal(t, "invalid_line_set", errBody.Kind)
	assert.Equal(t, []int64{2}, errBody.Data.Missing)
	assert.Equal(t, []int64{77}, errBody.Data.Unknown)
}

func TestAttachLineAudio_UnsupportedFormat(t *testing.T) {
	env := newTestEnv(t)
	lesson := test.CreateLesson(t, env.db, "Attach")
	test.CreateLine(t, env.db, lesson.ID, 1, "", false)

	req := multipartRequest(t, "PUT", "/admin/lines/1/audio", "audio_file", "take.flac", []byte("flac"), nil)
	resp, _ := env.send(t, req)
	assert.Equal(t, 415, resp.StatusCode)

	req = multipartRequest(t, "PUT", "/admin/lines/9/audio", "audio_file", "take.wav", []byte("wav"), nil)
	resp, _ = env.send(t, req)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestLessonBusyReturnsConflict(t *testing.T) {
	env := newTestEnv(t)
	test.CreateLesson(t, env.db, "Busy")

	release, err := env.locker.Acquire(context.Background(), lock.LessonKey(1), time.Minute)
	require.NoError(t, err)

	resp, _ := env.do(t, "POST", "/admin/lessons/1/build", nil)
	assert.Equal(t, 409, resp.StatusCode)
	resp, _ = env.do(t, "POST", "/admin/lessons/1/reorder", map[string][]int64{"ordered_line_ids": {}})
	assert.Equal(t, 409, resp.StatusCode)

	release()
	resp, _ = env.do(t, "POST", "/admin/lessons/1/reorder", map[string][]int64{"ordered_line_ids": {}})
	assert.Equal(t, 200, resp.StatusCode)
}

func TestBuildLesson_Async(t *testing.T) {
	env := newTestEnv(t)
	test.CreateLesson(t, env.db, "Queued")

	resp, body := env.do(t, "POST", "/admin/lessons/1/build?async=true", nil)
	require.Equal(t, 202, resp.StatusCode, string(body))
	var queued enqueueResponse
	decodeJSON(t, body, &queued)
	assert.Equal(t, int64(1), queued.LessonID)
	assert.Equal(t, "lessons", queued.Queue)
	assert.Equal(t, 1, env.enqueuer.calls)

	env.enqueuer.err = asynq.ErrDuplicateTask
	resp, _ = env.do(t, "POST", "/admin/lessons/1/build?async=true", nil)
	assert.Equal(t, 409, resp.StatusCode)

	resp, _ = env.do(t, "POST", "/admin/lessons/5/build?async=true", nil)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestBuildLesson_AsyncWithoutQueue(t *testing.T) {
	env := newTestEnv(t, func(d *Dependencies) { d.Lessons.Enqueuer = nil })
	test.CreateLesson(t, env.db, "Queued")

	resp, _ := env.do(t, "POST", "/admin/lessons/1/build?async=true", nil)
	assert.Equal(t, 503, resp.StatusCode)
}

func TestBuildLesson_RateLimited(t *testing.T) {
	env := newTestEnv(t, func(d *Dependencies) {
		d.BuildLimiter = middleware.NewKeyedRateLimiter(1, time.Hour)
	})
	test.CreateLesson(t, env.db, "Limited")

	resp, _ := env.do(t, "POST", "/admin/lessons/1/build", nil)
	assert.Equal(t, 422, resp.StatusCode)
	resp, _ = env.do(t, "POST", "/admin/lessons/1/build", nil)
	assert.Equal(t, 429, resp.StatusCode)
}
