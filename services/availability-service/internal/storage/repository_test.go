package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSlots(t *testing.T) {
	raw := []byte(`[
		{"day_of_week": 2, "start_time": "09:00", "end_time": "12:00"},
		{"day_of_week": 3, "start_time": "13:00", "end_time": "17:00", "is_enabled": false, "week_number": 1},
		{"day_of_week": 9, "start_time": "09:00", "end_time": "10:00"}
	]`)
	slots, err := decodeSlots(raw)
	require.NoError(t, err)
	require.Len(t, slots, 2)

	assert.Equal(t, time.Tuesday, slots[0].DayOfWeek)
	assert.True(t, slots[0].IsEnabled)
	assert.Nil(t, slots[0].WeekNumber)

	assert.Equal(t, time.Wednesday, slots[1].DayOfWeek)
	assert.False(t, slots[1].IsEnabled)
	require.NotNil(t, slots[1].WeekNumber)
	assert.Equal(t, 1, *slots[1].WeekNumber)

	_, err = decodeSlots([]byte(`{"not":"a list"}`))
	assert.Error(t, err)

	slots, err = decodeSlots(nil)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestOptionalDate(t *testing.T) {
	assert.Nil(t, optionalDate(nil))
	ts := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	d := optionalDate(&ts)
	require.NotNil(t, d)
	assert.Equal(t, "2026-03-08", d.String())
}

func TestErrorClassification(t *testing.T) {
	exclusion := fmt.Errorf("insert booking: %w", &pgconn.PgError{Code: "23P01"})
	assert.True(t, IsConflict(exclusion))
	assert.False(t, IsConflict(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsConflict(errors.New("boom")))

	assert.True(t, IsNotFound(fmt.Errorf("load: %w", pgx.ErrNoRows)))
	assert.False(t, IsNotFound(errors.New("boom")))
}
