package segment_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/downfa11-org/streamlog/pkg/config"
	"github.com/downfa11-org/streamlog/pkg/disk"
	"github.com/downfa11-org/streamlog/pkg/durablelog"
	"github.com/downfa11-org/streamlog/pkg/segment"
	"github.com/downfa11-org/streamlog/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContainer(t *testing.T, cfg *config.Config, dl durablelog.DataLog) *segment.Container {
	t.Helper()
	c, err := segment.NewContainer("container-0", cfg, dl)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.DataLogBackend = config.BackendMemory
	return cfg
}

func TestConditionalAppend(t *testing.T) {
	c := newContainer(t, testConfig(), disk.NewMemoryLog())
	ctx := context.Background()
	w := uuid.New()

	res, err := c.Append(ctx, "s/t/0", w, 0, []byte("hello"), durablelog.NoExpectedLength)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Length)

	_, err = c.Append(ctx, "s/t/0", w, 1, []byte("!"), 4)
	assert.ErrorIs(t, err, types.ErrConditionalCheckFailed)
	info, err := c.Info("s/t/0")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Length, "failed conditional append must not change the length")

	res, err = c.Append(ctx, "s/t/0", w, 2, []byte("!"), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Offset)
	assert.Equal(t, int64(6), res.Length)
}

func TestConcurrentConditionalAppendsOnlyOneWins(t *testing.T) {
	c := newContainer(t, testConfig(), disk.NewMemoryLog())
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Append(ctx, "s/t/0", uuid.New(), 0, []byte("x"), 0)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, types.ErrConditionalCheckFailed) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	info, err := c.Info("s/t/0")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Length)
}

func TestDuplicateAppendIsAcknowledged(t *testing.T) {
	c := newContainer(t, testConfig(), disk.NewMemoryLog())
	ctx := context.Background()
	w := uuid.New()

	_, err := c.Append(ctx, "s/t/0", w, 7, []byte("abc"), -1)
	require.NoError(t, err)
	res, err := c.Append(ctx, "s/t/0", w, 7, []byte("abc"), -1)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, int64(3), res.Length)

	last, err := c.LastEventNumber("s/t/0", w)
	require.NoError(t, err)
	assert.Equal(t, int64(7), last)
}

func TestSeal(t *testing.T) {
	c := newContainer(t, testConfig(), disk.NewMemoryLog())
	ctx := context.Background()
	w := uuid.New()

	_, err := c.Seal(ctx, "s/t/0")
	assert.ErrorIs(t, err, types.ErrNoSuchSegment)

	_, err = c.Append(ctx, "s/t/0", w, 0, []byte("abcd"), -1)
	require.NoError(t, err)

	length, err := c.Seal(ctx, "s/t/0")
	require.NoError(t, err)
	assert.Equal(t, int64(4), length)

	length, err = c.Seal(ctx, "s/t/0")
	require.NoError(t, err, "sealing twice is idempotent")
	assert.Equal(t, int64(4), length)

	_, err = c.Append(ctx, "s/t/0", w, 1, []byte("x"), -1)
	assert.ErrorIs(t, err, types.ErrSegmentSealed)

	_, err = c.LastEventNumber("s/t/0", w)
	assert.ErrorIs(t, err, types.ErrSegmentSealed)
}

func TestAutoCreateDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.AutoCreateSegments = false
	c := newContainer(t, cfg, disk.NewMemoryLog())

	_, err := c.Append(context.Background(), "s/t/0", uuid.New(), 0, []byte("x"), -1)
	assert.ErrorIs(t, err, types.ErrNoSuchSegment)
	_, err = c.LastEventNumber("s/t/0", uuid.New())
	assert.ErrorIs(t, err, types.ErrNoSuchSegment)
}

func TestContainerRecoveryFromFileLog(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.DurableLog.CheckpointMinCommitCount = 2
	cfg.DurableLog.CheckpointCommitCount = 2
	ctx := context.Background()
	w := uuid.New()

	dl, err := disk.OpenFileDataLog(dir, 4096)
	require.NoError(t, err)
	c, err := segment.NewContainer("container-0", cfg, dl)
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))

	for i := int64(0); i < 5; i++ {
		_, err := c.Append(ctx, "s/t/0", w, i, []byte("ab"), -1)
		require.NoError(t, err)
	}
	_, err = c.Seal(ctx, "s/t/0")
	require.NoError(t, err)
	_, err = c.Append(ctx, "s/t/1", w, 0, []byte("xyz"), -1)
	require.NoError(t, err)
	require.NoError(t, c.Truncate(ctx))
	require.NoError(t, c.Stop())

	dl, err = disk.OpenFileDataLog(dir, 4096)
	require.NoError(t, err)
	recovered := newContainer(t, cfg, dl)

	info, err := recovered.Info("s/t/0")
	require.NoError(t, err)
	assert.Equal(t, segment.Info{Name: "s/t/0", Length: 10, Sealed: true}, info)
	info, err = recovered.Info("s/t/1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Length)

	res, err := recovered.Append(ctx, "s/t/1", w, 0, []byte("xyz"), -1)
	require.NoError(t, err)
	assert.True(t, res.Duplicate, "writer state survives recovery")
}
