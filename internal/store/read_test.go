package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRun_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadRun(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrRunNotFound))

	_, err = s.LatestRun(context.Background())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestReadRuns_OrderedByStart(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	createTestRun(t, s, "b", "2026-01-05T10:00:00.000000")
	createTestRun(t, s, "a", "2026-01-05T09:00:00.000000")
	createTestRun(t, s, "c", "2026-01-05T10:00:00.000000")

	runs, err := s.ReadRuns(ctx)
	require.NoError(t, err)
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.RunID
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	latest, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", latest.RunID)

	one, err := s.ReadRun(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, one.Steps, 2)
}

func TestReadEmpty_NonNilSlices(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	runs, err := s.ReadRuns(ctx)
	require.NoError(t, err)
	assert.NotNil(t, runs)

	events, err := s.ReadEvents(ctx, "none")
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)

	counts, err := s.CountSamples(ctx, "none")
	require.NoError(t, err)
	assert.Empty(t, counts)
}
