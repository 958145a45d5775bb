package generic_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/recargo-engine/generic"
)

type fixedCalendar map[string]bool

func (c fixedCalendar) IsHoliday(_ context.Context, d time.Time) (bool, error) {
	return c[d.Format("2006-01-02")], nil
}

type brokenCalendar struct{}

func (brokenCalendar) IsHoliday(context.Context, time.Time) (bool, error) {
	return false, errors.New("calendar offline")
}

func TestClassifyDay_Sunday(t *testing.T) {
	// 2025-03-02 is a Sunday
	class, err := generic.ClassifyDay(context.Background(), generic.NoHolidays{}, 2025, 3, 2)
	require.NoError(t, err)
	assert.True(t, class.Sunday)
	assert.False(t, class.Holiday)
	assert.True(t, class.Special())
}

func TestClassifyDay_Holiday(t *testing.T) {
	cal := fixedCalendar{"2025-07-20": true}
	class, err := generic.ClassifyDay(context.Background(), cal, 2025, 7, 20)
	require.NoError(t, err)
	// 2025-07-20 is also a Sunday; both flags are independent
	assert.True(t, class.Sunday)
	assert.True(t, class.Holiday)

	class, err = generic.ClassifyDay(context.Background(), cal, 2025, 7, 21)
	require.NoError(t, err)
	assert.False(t, class.Special())
}

func TestClassifyDay_NilCalendarOnlyChecksSunday(t *testing.T) {
	class, err := generic.ClassifyDay(context.Background(), nil, 2025, 3, 3)
	require.NoError(t, err)
	assert.False(t, class.Special())
}

func TestClassifyDay_RejectsImpossibleDate(t *testing.T) {
	_, err := generic.ClassifyDay(context.Background(), nil, 2025, 4, 31)
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = generic.ClassifyDay(context.Background(), nil, 2025, 13, 1)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestClassifyDay_CalendarErrorPropagates(t *testing.T) {
	_, err := generic.ClassifyDay(context.Background(), brokenCalendar{}, 2025, 3, 3)
	assert.EqualError(t, err, "calendar offline")
}
