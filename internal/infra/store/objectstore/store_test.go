package objectstore

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshcore/internal/blob"
	"meshcore/internal/store/core"
	"meshcore/pkg/resource"
)

func insertNote(t *testing.T, s *Store, attrs resource.Attributes) {
	t.Helper()
	require.NoError(t, s.RunInTransaction(context.Background(), func(tx core.Transaction) error {
		_, err := tx.Insert("note", "id", attrs)
		return err
	}))
}

func TestSnapshotRoundTripAcrossDrivers(t *testing.T) {
	fsObjects, err := blob.NewFilesystem(filepath.Join(t.TempDir(), "objects"))
	require.NoError(t, err)
	drivers := map[string]blob.Store{
		"memory": blob.NewMemory(),
		"fs":     fsObjects,
		"s3":     blob.NewMockS3ForTests(),
	}
	for name, objects := range drivers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, err := NewStore(ctx, objects, "")
			require.NoError(t, err)
			insertNote(t, s, resource.Attributes{"id": "n1", "rank": int64(4)})

			infos, err := objects.List(ctx, "state/")
			require.NoError(t, err)
			require.Len(t, infos, 1)
			assert.Equal(t, "state/note.json", infos[0].Key)

			reopened, err := NewStore(ctx, objects, "state/")
			require.NoError(t, err)
			require.NoError(t, reopened.View(ctx, func(v core.View) error {
				rec, ok := v.Get("note", "n1")
				assert.True(t, ok)
				assert.Equal(t, int64(4), rec["rank"])
				return nil
			}))
			assert.NoError(t, reopened.Close())
		})
	}
}

func TestUnchangedBucketsAreNotRewritten(t *testing.T) {
	ctx := context.Background()
	objects := blob.NewMemory()
	s, err := NewStore(ctx, objects, "snap/")
	require.NoError(t, err)
	insertNote(t, s, resource.Attributes{"id": "n1"})
	first, err := objects.Head(ctx, "snap/note.json")
	require.NoError(t, err)

	require.NoError(t, s.RunInTransaction(ctx, func(tx core.Transaction) error {
		_, err := tx.Insert("tag", "id", resource.Attributes{"id": "t1"})
		return err
	}))
	second, err := objects.Head(ctx, "snap/note.json")
	require.NoError(t, err)
	assert.Equal(t, first.LastModified, second.LastModified)
	_, err = objects.Head(ctx, "snap/tag.json")
	assert.NoError(t, err)
}

func TestNewStoreRejectsCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	objects := blob.NewMemory()
	_, err := objects.Put(ctx, "state/note.json", strings.NewReader("{"), blob.PutOptions{})
	require.NoError(t, err)
	_, err = NewStore(ctx, objects, "")
	assert.Error(t, err)
	_, err = NewStore(ctx, nil, "")
	assert.Error(t, err)
}
