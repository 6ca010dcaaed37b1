package services

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"
	"lessoncast/internal/models"
)

// Repository handles database operations for models
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository instance
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db: db,
	}
}

// DB exposes the underlying connection
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Transaction runs fn against a repository bound to a single database transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

// User operations
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *Repository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Playlist operations
func (r *Repository) CreatePlaylist(ctx context.Context, playlist *models.Playlist) error {
	return r.db.WithContext(ctx).Create(playlist).Error
}

func (r *Repository) GetPlaylistByID(ctx context.Context, id int64) (*models.Playlist, error) {
	var playlist models.Playlist
	err := r.db.WithContext(ctx).First(&playlist, id).Error
	if err != nil {
		return nil, err
	}
	return &playlist, nil
}

// ListPlaylists returns playlists ordered by id
func (r *Repository) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	var playlists []models.Playlist
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&playlists).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch playlists: %w", err)
	}
	return playlists, nil
}

// Song operations
func (r *Repository) CreateSong(ctx context.Context, song *models.Song) error {
	return r.db.WithContext(ctx).Create(song).Error
}

func (r *Repository) GetSongByID(ctx context.Context, id int64) (*models.Song, error) {
	var song models.Song
	err := r.db.WithContext(ctx).First(&song, id).Error
	if err != nil {
		return nil, err
	}
	return &song, nil
}

// GetSongsByPlaylist returns a playlist's songs ordered by id
func (r *Repository) GetSongsByPlaylist(ctx context.Context, playlistID int64) ([]models.Song, error) {
	var songs []models.Song
	err := r.db.WithContext(ctx).
		Where("playlist_id = ?", playlistID).
		Order("id ASC").
		Find(&songs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch songs for playlist %d: %w", playlistID, err)
	}
	return songs, nil
}

// UpdateSongAudioFile points an existing song at a new audio file
func (r *Repository) UpdateSongAudioFile(ctx context.Context, songID int64, audioFile string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Song{}).
		Where("id = ?", songID).
		Update("audio_file", audioFile)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Play history operations
func (r *Repository) RecordPlay(ctx context.Context, play *models.PlayHistory) error {
	return r.db.WithContext(ctx).Create(play).Error
}

func (r *Repository) CountPlays(ctx context.Context, songID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PlayHistory{}).
		Where("song_id = ?", songID).
		Count(&count).Error
	return count, err
}

// Lesson operations
func (r *Repository) CreateLesson(ctx context.Context, lesson *models.Lesson) error {
	return r.db.WithContext(ctx).Create(lesson).Error
}

// GetLessonByID loads a lesson and its song, without lines
func (r *Repository) GetLessonByID(ctx context.Context, id int64) (*models.Lesson, error) {
	var lesson models.Lesson
	err := r.db.WithContext(ctx).Preload("Song").First(&lesson, id).Error
	if err != nil {
		return nil, err
	}
	return &lesson, nil
}

// LessonExists reports whether a lesson row with id exists
func (r *Repository) LessonExists(ctx context.Context, id int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Lesson{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (r *Repository) ListLessons(ctx context.Context) ([]models.Lesson, error) {
	var lessons []models.Lesson
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&lessons).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch lessons: %w", err)
	}
	return lessons, nil
}

// LinkLessonSong records the song produced for a lesson
func (r *Repository) LinkLessonSong(ctx context.Context, lessonID, songID int64) error {
	result := r.db.WithContext(ctx).
		Model(&models.Lesson{}).
		Where("id = ?", lessonID).
		Update("song_id", songID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteLesson removes a lesson together with its lines
func (r *Repository) DeleteLesson(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("lesson_id = ?", id).Delete(&models.Line{}).Error; err != nil {
			return fmt.Errorf("failed to delete lines: %w", err)
		}
		result := tx.Delete(&models.Lesson{}, id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete lesson: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// Line operations
func (r *Repository) CreateLine(ctx context.Context, line *models.Line) error {
	return r.db.WithContext(ctx).Create(line).Error
}

func (r *Repository) GetLineByID(ctx context.Context, id int64) (*models.Line, error) {
	var line models.Line
	err := r.db.WithContext(ctx).First(&line, id).Error
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// GetLinesByLesson returns a lesson's lines sorted by order, ties broken by id
func (r *Repository) GetLinesByLesson(ctx context.Context, lessonID int64) ([]models.Line, error) {
	var lines []models.Line
	err := r.db.WithContext(ctx).
		Where("lesson_id = ?", lessonID).
		Order("sort_order ASC, id ASC").
		Find(&lines).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lines for lesson %d: %w", lessonID, err)
	}
	return lines, nil
}

// NextLineOrder returns one past the highest order used in the lesson
func (r *Repository) NextLineOrder(ctx context.Context, lessonID int64) (int, error) {
	var max sql.NullInt64
	err := r.db.WithContext(ctx).
		Model(&models.Line{}).
		Where("lesson_id = ?", lessonID).
		Select("MAX(sort_order)").
		Row().
		Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

// UpdateLine applies a column update map to a line
func (r *Repository) UpdateLine(ctx context.Context, id int64, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&models.Line{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetLineOrder writes a line's position within its lesson
func (r *Repository) SetLineOrder(ctx context.Context, lessonID, lineID int64, order int) error {
	result := r.db.WithContext(ctx).
		Model(&models.Line{}).
		Where("id = ? AND lesson_id = ?", lineID, lessonID).
		Update("sort_order", order)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("line %d not found in lesson %d: %w", lineID, lessonID, gorm.ErrRecordNotFound)
	}
	return nil
}

// SetLineAudioFile records the clip path of a line
func (r *Repository) SetLineAudioFile(ctx context.Context, lineID int64, audioFile string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Line{}).
		Where("id = ?", lineID).
		Update("audio_file", audioFile)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
