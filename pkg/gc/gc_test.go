package gc

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/types"
)

func seedVersions(t *testing.T, index *storage.Index, key types.DomainKey, n int) {
	t.Helper()
	for v := 1; v <= n; v++ {
		pos, err := index.UploadPosition(key)
		require.NoError(t, err)
		require.Equal(t, int64(v), pos.Version)
		_, err = index.PutFile(key, pos.Version, "index.html", strings.NewReader(fmt.Sprintf("v%d", v)))
		require.NoError(t, err)
		require.NoError(t, index.SetStatus(key, pos.Version, types.StatusFinish))
	}
	_, err := index.Activate(key, 0)
	require.NoError(t, err)
}

func TestSweepRetainsNewest(t *testing.T) {
	layout, err := storage.NewLayout(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, layout.EnsureBase())
	index := storage.NewIndex(layout, nil)

	keyA := types.DomainKey{Host: "a.ex.com"}
	keyB := types.DomainKey{Host: "b.ex.com", Prefix: "app"}
	seedVersions(t, index, keyA, 5)
	seedVersions(t, index, keyB, 3)

	job := New(index, "0 3 * * *", 2)
	job.Run()

	infoA, err := index.Info(keyA)
	require.NoError(t, err)
	require.Len(t, infoA.Versions, 2)
	assert.Equal(t, int64(4), infoA.Versions[0].Version)
	assert.Equal(t, int64(5), infoA.Versions[1].Version)

	infoB, err := index.Info(keyB)
	require.NoError(t, err)
	require.Len(t, infoB.Versions, 2)

	// A second sweep is a no-op.
	job.Run()
	infoA, err = index.Info(keyA)
	require.NoError(t, err)
	assert.Len(t, infoA.Versions, 2)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	layout, err := storage.NewLayout(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, layout.EnsureBase())
	index := storage.NewIndex(layout, nil)

	job := New(index, "not a cron spec", 2)
	assert.Error(t, job.Start())
}

func TestStartAndStop(t *testing.T) {
	layout, err := storage.NewLayout(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, layout.EnsureBase())
	index := storage.NewIndex(layout, nil)

	job := New(index, "@daily", 3)
	require.NoError(t, job.Start())
	job.Stop()
}
