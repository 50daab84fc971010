package errs

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelsSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("run movies: %w", ErrAlreadyRunning)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.NotErrorIs(t, err, ErrNotRunning)
	assert.Equal(t, KindLifecycle, KindOf(err))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{err: Config("maxFindLevel %d out of range", 9), want: KindConfig},
		{err: Conflict("/out/a.mkv", os.ErrExist), want: KindConflict},
		{err: Platform("link", "/out/a.mkv", errors.New("cross-device")), want: KindPlatform},
		{err: errors.New("plain"), want: KindUnknown},
		{err: nil, want: KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := Platform("link", "/out/a.mkv", errors.New("invalid cross-device link"))
	assert.Equal(t, "link /out/a.mkv: invalid cross-device link", err.Error())
	assert.Equal(t, "maxFindLevel must be within [1,6], got 0", Config("maxFindLevel must be within [1,6], got %d", 0).Error())
	assert.ErrorIs(t, Conflict("/x", os.ErrExist), os.ErrExist)
}

func TestIsKind(t *testing.T) {
	assert.True(t, IsKind(fmt.Errorf("wrap: %w", Config("bad")), KindConfig))
	assert.False(t, IsKind(nil, KindConfig))
}
