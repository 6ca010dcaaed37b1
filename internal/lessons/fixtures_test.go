package lessons

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"lessoncast/internal/audio"
	"lessoncast/internal/clipstore"
	"lessoncast/internal/services"
	"lessoncast/internal/test"
)

// markerCodec decodes a clip into a mono 8kHz segment whose samples all equal the
// clip's first byte and whose length is 100 frames per marker unit. Encoding renders
// the sample stream as run lengths, e.g. "1x100,0x100,2x200".
type markerCodec struct {
	*audio.Codec
}

func newMarkerCodec() *markerCodec {
	return &markerCodec{Codec: audio.NewCodec(audio.Options{})}
}

func (c *markerCodec) Decode(_ context.Context, data []byte, _ string) (*audio.Segment, error) {
	if len(data) == 0 || data[0] == 0 {
		return nil, errors.New("not an audio stream")
	}
	marker := int(data[0])
	samples := make([]int, marker*100)
	for i := range samples {
		samples[i] = marker
	}
	return audio.NewSegment(8000, 1, samples)
}

func (c *markerCodec) Encode(_ context.Context, seg *audio.Segment, _ string) ([]byte, error) {
	var runs []string
	samples := seg.Samples()
	for i := 0; i < len(samples); {
		j := i
		for j < len(samples) && samples[j] == samples[i] {
			j++
		}
		runs = append(runs, fmt.Sprintf("%dx%d", samples[i], j-i))
		i = j
	}
	return []byte(strings.Join(runs, ",")), nil
}

type fixture struct {
	db      *gorm.DB
	repo    *services.Repository
	store   *clipstore.Store
	builder *Builder
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := test.GetTestDB(t)
	store, err := clipstore.New(t.TempDir())
	require.NoError(t, err)
	repo := services.NewRepository(db)
	return &fixture{
		db:      db,
		repo:    repo,
		store:   store,
		builder: NewBuilder(repo, store, newMarkerCodec(), DefaultBuildOptions(), nil, nil),
		service: NewService(repo, store, nil, nil, nil),
	}
}

// writeClip stores a clip of size bytes whose first byte is marker and returns its path
func (f *fixture) writeClip(t *testing.T, lessonID, lineID int64, marker byte, size int) string {
	t.Helper()
	path := clipstore.LinePath(lessonID, lineID, "wav")
	data := bytes.Repeat([]byte{marker}, size)
	require.NoError(t, f.store.Write(path, data))
	return path
}

func (f *fixture) readString(t *testing.T, path string) string {
	t.Helper()
	data, err := f.store.Read(path)
	require.NoError(t, err)
	return string(data)
}

// failUpdatesOn makes every UPDATE against table fail
func failUpdatesOn(t *testing.T, db *gorm.DB, table string) {
	t.Helper()
	name := "test:fail_update_" + table
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register(name, func(tx *gorm.DB) {
		if tx.Statement.Table == table {
			tx.AddError(errors.New("injected update failure"))
		}
	}))
	t.Cleanup(func() {
		db.Callback().Update().Remove(name)
	})
}
