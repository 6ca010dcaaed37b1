package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"lessoncast/internal/models"
	"lessoncast/internal/test"
)

func TestRepository_Lines(t *testing.T) {
	db := test.GetTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	lesson := test.CreateLesson(t, db, "Greetings")

	next, err := repo.NextLineOrder(ctx, lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	a := test.CreateLine(t, db, lesson.ID, 2, "", false)
	b := test.CreateLine(t, db, lesson.ID, 1, "", false)
	c := test.CreateLine(t, db, lesson.ID, 2, "", false)

	lines, err := repo.GetLinesByLesson(ctx, lesson.ID)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, []int64{b.ID, a.ID, c.ID}, []int64{lines[0].ID, lines[1].ID, lines[2].ID})

	next, err = repo.NextLineOrder(ctx, lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, next)

	require.NoError(t, repo.SetLineOrder(ctx, lesson.ID, a.ID, 7))
	err = repo.SetLineOrder(ctx, lesson.ID+1, a.ID, 1)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	require.NoError(t, repo.SetLineAudioFile(ctx, b.ID, "lines/lesson_1/line_2.wav"))
	got, err := repo.GetLineByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "lines/lesson_1/line_2.wav", got.AudioFile)

	assert.ErrorIs(t, repo.SetLineAudioFile(ctx, 9999, "x.wav"), gorm.ErrRecordNotFound)
}

func TestRepository_DeleteLessonRemovesLines(t *testing.T) {
	db := test.GetTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	lesson := test.CreateLesson(t, db, "Numbers")
	test.CreateLine(t, db, lesson.ID, 1, "", false)
	test.CreateLine(t, db, lesson.ID, 2, "", false)
	other := test.CreateLesson(t, db, "Colors")
	test.CreateLine(t, db, other.ID, 1, "", false)

	require.NoError(t, repo.DeleteLesson(ctx, lesson.ID))

	var count int64
	db.Model(&models.Line{}).Where("lesson_id = ?", lesson.ID).Count(&count)
	assert.Zero(t, count)
	db.Model(&models.Line{}).Where("lesson_id = ?", other.ID).Count(&count)
	assert.Equal(t, int64(1), count)

	_, err := repo.GetLessonByID(ctx, lesson.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.ErrorIs(t, repo.DeleteLesson(ctx, lesson.ID), gorm.ErrRecordNotFound)
}

func TestRepository_SongsAndPlays(t *testing.T) {
	db := test.GetTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	playlist := test.CreatePlaylist(t, db, "Study Session")
	song := test.CreateSong(t, db, "Ocean Waves", playlist.ID, "songs/ocean.mp3")
	test.CreateSong(t, db, "Elsewhere", playlist.ID+1, "songs/else.mp3")

	songs, err := repo.GetSongsByPlaylist(ctx, playlist.ID)
	require.NoError(t, err)
	require.Len(t, songs, 1)
	assert.Equal(t, song.ID, songs[0].ID)

	user := test.CreateUser(t, db, "john")
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.RecordPlay(ctx, &models.PlayHistory{UserID: user.ID, SongID: song.ID, PlayedAt: time.Now()}))
	}
	count, err := repo.CountPlays(ctx, song.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	require.NoError(t, repo.UpdateSongAudioFile(ctx, song.ID, "songs/ocean2.mp3"))
	got, err := repo.GetSongByID(ctx, song.ID)
	require.NoError(t, err)
	assert.Equal(t, "songs/ocean2.mp3", got.AudioFile)
}

func TestRepository_TransactionRollsBack(t *testing.T) {
	db := test.GetTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	lesson := test.CreateLesson(t, db, "Rollback")
	line := test.CreateLine(t, db, lesson.ID, 1, "", false)

	err := repo.Transaction(ctx, func(tx *Repository) error {
		require.NoError(t, tx.SetLineOrder(ctx, lesson.ID, line.ID, 5))
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	got, err := repo.GetLineByID(ctx, line.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Order)
}
