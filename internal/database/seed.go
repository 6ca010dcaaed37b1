package database

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"lessoncast/internal/audio"
	"lessoncast/internal/clipstore"
	"lessoncast/internal/models"
)

// LessonsPlaylistTitle names the playlist lesson exports join by default
const LessonsPlaylistTitle = "Lessons"

// SeedOptions controls the demo data seeder
type SeedOptions struct {
	// Reset deletes existing users, playlists, songs and play history first
	Reset bool
	// RandSeed makes the generated play history reproducible
	RandSeed uint64
	// ClipDuration is the length of the generated silent demo tracks
	ClipDuration time.Duration
}

// SeedSummary reports what the seeder created
type SeedSummary struct {
	Skipped           bool  `json:"skipped"`
	Users             int   `json:"users"`
	Playlists         int   `json:"playlists"`
	Songs             int   `json:"songs"`
	Plays             int   `json:"plays"`
	LessonsPlaylistID int64 `json:"lessons_playlist_id"`
}

type seedUser struct {
	username string
	password string
	admin    bool
}

type seedSong struct {
	title  string
	artist string
	slug   string
}

type seedPlaylist struct {
	title       string
	description string
	songs       []seedSong
}

var seedUsers = []seedUser{
	{"admin@example.com", "admin123", true},
	{"john@example.com", "password123", false},
	{"alice@example.com", "password123", false},
	{"bob@example.com", "password123", false},
}

var seedPlaylists = []seedPlaylist{
	{LessonsPlaylistTitle, "Compiled lesson recordings", nil},
	{"Chill Vibes", "Relaxing tunes for your downtime", []seedSong{
		{"Ocean Waves", "Nature Sounds", "ocean-waves"},
		{"Gentle Rain", "Ambient Music", "gentle-rain"},
		{"Sunset Meditation", "Zen Masters", "sunset-meditation"},
	}},
	{"Workout Mix", "High-energy songs to keep you motivated", []seedSong{
		{"Power Up", "Energy Beats", "power-up"},
		{"Fast Pace", "Workout Kings", "fast-pace"},
		{"No Pain No Gain", "Gym Heroes", "no-pain-no-gain"},
	}},
	{"Study Session", "Focus-enhancing music for productive studying", []seedSong{
		{"Deep Focus", "Study Guru", "deep-focus"},
		{"Brain Waves", "Concentration", "brain-waves"},
	}},
	{"Road Trip", "Perfect tracks for long drives", []seedSong{
		{"Highway Cruising", "Road Warriors", "highway-cruising"},
		{"Desert Sunset", "Journey", "desert-sunset"},
	}},
}

// Seeder fills an empty database with demo users, playlists, songs and plays
type Seeder struct {
	db     *gorm.DB
	store  *clipstore.Store
	codec  *audio.Codec
	logger *zerolog.Logger
	now    func() time.Time
}

// NewSeeder creates a seeder writing demo tracks into store
func NewSeeder(db *gorm.DB, store *clipstore.Store, codec *audio.Codec, logger *zerolog.Logger) *Seeder {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Seeder{db: db, store: store, codec: codec, logger: logger, now: time.Now}
}

// Seed creates the demo data unless users already exist and Reset is false
func (s *Seeder) Seed(ctx context.Context, opts SeedOptions) (*SeedSummary, error) {
	if opts.ClipDuration <= 0 {
		opts.ClipDuration = time.Second
	}
	db := s.db.WithContext(ctx)

	if opts.Reset {
		s.logger.Info().Msg("Clearing existing data")
		for _, model := range []interface{}{&models.PlayHistory{}, &models.Song{}, &models.Playlist{}, &models.User{}} {
			if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return nil, fmt.Errorf("failed to clear %T: %w", model, err)
			}
		}
	} else {
		var count int64
		if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to count users: %w", err)
		}
		if count > 0 {
			s.logger.Info().Int64("users", count).Msg("Database already seeded, skipping")
			return &SeedSummary{Skipped: true}, nil
		}
	}

	track, err := s.demoTrack(ctx, opts.ClipDuration)
	if err != nil {
		return nil, err
	}

	summary := &SeedSummary{}
	rng := rand.New(rand.NewPCG(opts.RandSeed, opts.RandSeed^0x9e3779b97f4a7c15))

	err = db.Transaction(func(tx *gorm.DB) error {
		users := make([]models.User, 0, len(seedUsers))
		for _, u := range seedUsers {
			hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}
			users = append(users, models.User{Username: u.username, Password: string(hash), IsAdmin: u.admin})
		}
		if err := tx.Create(&users).Error; err != nil {
			return fmt.Errorf("failed to create users: %w", err)
		}
		summary.Users = len(users)

		var songs []models.Song
		for _, p := range seedPlaylists {
			playlist := models.Playlist{Title: p.title, Description: p.description}
			if err := tx.Create(&playlist).Error; err != nil {
				return fmt.Errorf("failed to create playlist %s: %w", p.title, err)
			}
			summary.Playlists++
			if p.title == LessonsPlaylistTitle {
				summary.LessonsPlaylistID = playlist.ID
			}

			for _, sg := range p.songs {
				rel := path.Join("songs", "seed", sg.slug+"."+audio.FormatWAV)
				if err := s.store.Write(rel, track); err != nil {
					return fmt.Errorf("failed to write demo track: %w", err)
				}
				song := models.Song{Title: sg.title, Artist: sg.artist, PlaylistID: playlist.ID, AudioFile: rel}
				if err := tx.Create(&song).Error; err != nil {
					return fmt.Errorf("failed to create song %s: %w", sg.title, err)
				}
				songs = append(songs, song)
			}
		}
		summary.Songs = len(songs)

		var plays []models.PlayHistory
		now := s.now().UTC()
		for _, user := range users {
			listens := 5 + rng.IntN(11)
			for i := 0; i < listens; i++ {
				song := songs[rng.IntN(len(songs))]
				ago := time.Duration(rng.IntN(31))*24*time.Hour +
					time.Duration(rng.IntN(24))*time.Hour +
					time.Duration(rng.IntN(60))*time.Minute
				plays = append(plays, models.PlayHistory{UserID: user.ID, SongID: song.ID, PlayedAt: now.Add(-ago)})
			}
		}
		if err := tx.Create(&plays).Error; err != nil {
			return fmt.Errorf("failed to create play history: %w", err)
		}
		summary.Plays = len(plays)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int("users", summary.Users).
		Int("playlists", summary.Playlists).
		Int("songs", summary.Songs).
		Int("plays", summary.Plays).
		Int64("lessons_playlist_id", summary.LessonsPlaylistID).
		Msg("Database seeded successfully")
	return summary, nil
}

func (s *Seeder) demoTrack(ctx context.Context, d time.Duration) ([]byte, error) {
	base, err := audio.NewSegment(8000, 1, []int{0})
	if err != nil {
		return nil, err
	}
	data, err := s.codec.Encode(ctx, audio.Silence(d, base), audio.FormatWAV)
	if err != nil {
		return nil, fmt.Errorf("failed to encode demo track: %w", err)
	}
	return data, nil
}
