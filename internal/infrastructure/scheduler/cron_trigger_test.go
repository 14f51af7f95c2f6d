package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewSyncCheckCron_Validation(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		wantErr  bool
	}{
		{name: "descriptor", schedule: "@every 30m"},
		{name: "hourly", schedule: "@hourly"},
		{name: "five fields", schedule: "*/15 * * * *"},
		{name: "empty", schedule: "", wantErr: true},
		{name: "garbage", schedule: "every half hour", wantErr: true},
		{name: "seconds field is rejected", schedule: "0 */5 * * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewSyncCheckCron(tt.schedule, func(context.Context) {}, nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSchedule)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.schedule, c.Schedule())
		})
	}
}

func TestSyncCheckCron_RunsCheck(t *testing.T) {
	var calls atomic.Int32
	c, err := NewSyncCheckCron("@every 1s", func(ctx context.Context) {
		calls.Add(1)
	}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Start(context.Background()), "second start is a no-op")

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))

	after := calls.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no runs after stop")
}

func TestSyncCheckCron_StopCancelsContext(t *testing.T) {
	running := make(chan context.Context, 1)
	c, err := NewSyncCheckCron("@every 1s", func(ctx context.Context) {
		select {
		case running <- ctx:
		default:
		}
		<-ctx.Done()
	}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	var runCtx context.Context
	select {
	case runCtx = <-running:
	case <-time.After(3 * time.Second):
		t.Fatal("check did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	assert.Error(t, runCtx.Err())
}

func TestSyncCheckCron_StopWithoutStart(t *testing.T) {
	c, err := NewSyncCheckCron("@hourly", func(context.Context) {}, nil)
	require.NoError(t, err)
	assert.NoError(t, c.Stop(context.Background()))
}
