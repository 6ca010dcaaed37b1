package lessons

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lessoncast/internal/clipstore"
	"lessoncast/internal/models"
	"lessoncast/internal/test"
)

func TestService_LessonLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateLesson(ctx, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	lesson, err := f.service.CreateLesson(ctx, "Ordering food")
	require.NoError(t, err)

	first, err := f.service.AddLine(ctx, lesson.ID)
	require.NoError(t, err)
	second, err := f.service.AddLine(ctx, lesson.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Order)
	assert.Equal(t, 2, second.Order)
	assert.Equal(t, models.PlaceholderLineText, second.Text)
	assert.False(t, second.HasAudio())

	text := "Una mesa para dos, por favor."
	order := 0
	updated, err := f.service.UpdateLine(ctx, second.ID, LineUpdate{Text: &text, Order: &order})
	require.NoError(t, err)
	assert.Equal(t, text, updated.Text)

	got, err := f.service.GetLesson(ctx, lesson.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 2)
	assert.Equal(t, second.ID, got.Lines[0].ID)
	assert.Nil(t, got.Song)

	lessons, err := f.service.ListLessons(ctx)
	require.NoError(t, err)
	assert.Len(t, lessons, 1)
}

func TestService_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.GetLesson(ctx, 1)
	assert.ErrorIs(t, err, ErrLessonNotFound)

	_, err = f.service.AddLine(ctx, 1)
	assert.ErrorIs(t, err, ErrLessonNotFound)

	_, err = f.service.GetLine(ctx, 1)
	assert.ErrorIs(t, err, ErrLineNotFound)

	breakAfter := true
	_, err = f.service.UpdateLine(ctx, 1, LineUpdate{BreakAfter: &breakAfter})
	assert.ErrorIs(t, err, ErrLineNotFound)

	assert.ErrorIs(t, f.service.DeleteLesson(ctx, 1), ErrLessonNotFound)
}

func TestService_UpdateLineRejectsEmptyText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lesson := test.CreateLesson(t, f.db, "Lesson")
	line := test.CreateLine(t, f.db, lesson.ID, 1, "", false)

	empty := ""
	_, err := f.service.UpdateLine(ctx, line.ID, LineUpdate{Text: &empty})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestService_DeleteLessonKeepsSong(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lesson, lines := threeLineLesson(t, f)

	result, err := f.builder.Build(ctx, lesson.ID)
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteLesson(ctx, lesson.ID))

	_, err = f.service.GetLesson(ctx, lesson.ID)
	assert.ErrorIs(t, err, ErrLessonNotFound)

	for _, line := range lines {
		ok, err := f.store.Exists(line.AudioFile)
		require.NoError(t, err)
		assert.False(t, ok, "clip of deleted line should be removed")
	}

	song, err := f.repo.GetSongByID(ctx, result.SongID)
	require.NoError(t, err)
	assert.Equal(t, result.AudioFile, song.AudioFile)
}

func TestAttachLineAudio(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lesson := test.CreateLesson(t, f.db, "Attach")
	line := test.CreateLine(t, f.db, lesson.ID, 1, "", false)

	updated, err := f.service.AttachLineAudio(ctx, line.ID, []byte("first take"), "take1.WAV")
	require.NoError(t, err)
	assert.Equal(t, clipstore.LinePath(lesson.ID, line.ID, "wav"), updated.AudioFile)
	assert.Equal(t, "first take", f.readString(t, updated.AudioFile))

	stored, err := f.service.GetLine(ctx, line.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.AudioFile, stored.AudioFile)

	again, err := f.service.AttachLineAudio(ctx, line.ID, []byte("second take"), "take2.wav")
	require.NoError(t, err)
	assert.Equal(t, updated.AudioFile, again.AudioFile)
	assert.Equal(t, "second take", f.readString(t, again.AudioFile))

	dir := filepath.Join(f.store.Root(), "lines", filepath.Base(filepath.Dir(updated.AudioFile)))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAttachLineAudio_ReplacesOtherFormat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lesson := test.CreateLesson(t, f.db, "Attach")
	line := test.CreateLine(t, f.db, lesson.ID, 1, "", false)

	wav, err := f.service.AttachLineAudio(ctx, line.ID, []byte("wav bytes"), "clip.wav")
	require.NoError(t, err)

	ogg, err := f.service.AttachLineAudio(ctx, line.ID, []byte("ogg bytes"), "clip.ogg")
	require.NoError(t, err)
	assert.Equal(t, clipstore.LinePath(lesson.ID, line.ID, "ogg"), ogg.AudioFile)

	ok, err := f.store.Exists(wav.AudioFile)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAttachLineAudio_RemovesLegacyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lesson := test.CreateLesson(t, f.db, "Attach")
	require.NoError(t, f.store.Write("lines/legacy_upload.mp3", []byte("legacy")))
	line := test.CreateLine(t, f.db, lesson.ID, 1, "lines/legacy_upload.mp3", false)

	_, err := f.service.AttachLineAudio(ctx, line.ID, []byte("new"), "new.mp3")
	require.NoError(t, err)

	ok, err := f.store.Exists("lines/legacy_upload.mp3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAttachLineAudio_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lesson := test.CreateLesson(t, f.db, "Attach")
	line := test.CreateLine(t, f.db, lesson.ID, 1, "", false)

	_, err := f.service.AttachLineAudio(ctx, line.ID, []byte("data"), "clip.flac")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = f.service.AttachLineAudio(ctx, line.ID, []byte("data"), "noextension")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = f.service.AttachLineAudio(ctx, line.ID, nil, "clip.wav")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.service.AttachLineAudio(ctx, 999, []byte("data"), "clip.wav")
	assert.ErrorIs(t, err, ErrLineNotFound)

	ok, err := f.store.Exists(clipstore.LinePath(lesson.ID, line.ID, "flac"))
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = os.Stat(filepath.Join(f.store.Root(), "lines"))
	assert.True(t, os.IsNotExist(err))
}

func TestAttachLineAudio_DatabaseFailureRemovesNewFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lesson := test.CreateLesson(t, f.db, "Attach")
	line := test.CreateLine(t, f.db, lesson.ID, 1, "", false)

	failUpdatesOn(t, f.db, "lines")

	_, err := f.service.AttachLineAudio(ctx, line.ID, []byte("clip"), "clip.wav")
	require.Error(t, err)

	ok, err := f.store.Exists(clipstore.LinePath(lesson.ID, line.ID, "wav"))
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := f.service.GetLine(ctx, line.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.AudioFile)
}

func TestAttachLineAudio_DatabaseFailureKeepsPreviousClip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lesson := test.CreateLesson(t, f.db, "Attach")
	line := test.CreateLine(t, f.db, lesson.ID, 1, "", false)

	first, err := f.service.AttachLineAudio(ctx, line.ID, []byte("good take"), "a.wav")
	require.NoError(t, err)

	failUpdatesOn(t, f.db, "lines")

	_, err = f.service.AttachLineAudio(ctx, line.ID, []byte("bad"), "b.wav")
	require.Error(t, err)

	assert.Equal(t, "good take", f.readString(t, first.AudioFile))
	stored, err := f.service.GetLine(ctx, line.ID)
	require.NoError(t, err)
	assert.Equal(t, first.AudioFile, stored.AudioFile)

	entries, err := os.ReadDir(filepath.Dir(filepath.Join(f.store.Root(), first.AudioFile)))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
