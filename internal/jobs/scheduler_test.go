package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmmarket/internal/repository"
)

type purgerFunc func(ctx context.Context) (repository.PurgeResult, error)

func (f purgerFunc) PurgeExpired(ctx context.Context) (repository.PurgeResult, error) {
	return f(ctx)
}

func TestRunPurge(t *testing.T) {
	calls := 0
	s := NewScheduler(purgerFunc(func(ctx context.Context) (repository.PurgeResult, error) {
		calls++
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return repository.PurgeResult{RefreshTokens: 3}, nil
	}), "0 0 * * * *", zerolog.Nop())

	require.NoError(t, s.RunPurge(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestRunPurge_Error(t *testing.T) {
	boom := errors.New("db gone")
	s := NewScheduler(purgerFunc(func(context.Context) (repository.PurgeResult, error) {
		return repository.PurgeResult{}, boom
	}), "0 0 * * * *", zerolog.Nop())

	assert.ErrorIs(t, s.RunPurge(context.Background()), boom)
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	s := NewScheduler(purgerFunc(func(context.Context) (repository.PurgeResult, error) {
		return repository.PurgeResult{}, nil
	}), "every tuesday", zerolog.Nop())
	assert.Error(t, s.Start())

	disabled := NewScheduler(nil, "", zerolog.Nop())
	assert.NoError(t, disabled.Start())
	disabled.Stop(context.Background())
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(purgerFunc(func(context.Context) (repository.PurgeResult, error) {
		return repository.PurgeResult{}, nil
	}), "*/1 * * * * *", zerolog.Nop())
	require.NoError(t, s.Start())
	s.Stop(context.Background())
}
