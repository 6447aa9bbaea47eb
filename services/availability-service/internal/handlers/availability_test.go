package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/engine"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/memstore"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/reservation"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/tz"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// Tuesday 2026-01-13 09:00-17:00 in New York; now is Monday 07:00 there.
func newServer(t *testing.T) (*httptest.Server, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	store.PutSettings(model.ProviderSettings{ProviderID: "p1", BufferMinutes: 15})
	var slots []model.TimeSlotDefinition
	for d := time.Monday; d <= time.Friday; d++ {
		slots = append(slots, model.TimeSlotDefinition{DayOfWeek: d, StartTime: "09:00", EndTime: "17:00", IsEnabled: true})
	}
	store.AddTemplate(model.AvailabilityTemplate{ID: "t1", ProviderID: "p1", Timezone: "America/New_York", IsDefault: true, TimeSlots: slots})

	e := engine.New(store, store, quietLogger(), engine.Config{
		LeadTime: availability.DefaultLeadTime,
		Now:      func() time.Time { return time.Date(2026, 1, 12, 12, 0, 0, 0, time.UTC) },
	})
	mux := http.NewServeMux()
	NewAvailabilityHandler(e, quietLogger()).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func reserve(t *testing.T, url, body, key string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/api/v1/availability/reserve", strings.NewReader(body))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestSlots(t *testing.T) {
	srv, _ := newServer(t)

	var slots []slotItem
	status := getJSON(t, srv.URL+"/api/v1/availability/slots?provider_id=p1&date=2026-01-13&duration=30", &slots)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, slots, 31)
	assert.Equal(t, "09:00", slots[0].LocalStartTime)
	assert.Equal(t, "2026-01-13T14:00:00Z", slots[0].StartTime)
	assert.Equal(t, "2026-01-13T14:30:00Z", slots[0].EndTime)
	assert.Equal(t, "2026-01-13", slots[0].Date)
}

func TestSlots_BadInput(t *testing.T) {
	srv, _ := newServer(t)

	cases := map[string]int{
		"/api/v1/availability/slots?provider_id=p1&date=13-01-2026&duration=30": http.StatusBadRequest,
		"/api/v1/availability/slots?provider_id=p1&date=2026-01-13&duration=x":  http.StatusBadRequest,
		"/api/v1/availability/slots?provider_id=p1&date=2026-01-13&duration=32": http.StatusBadRequest,
		"/api/v1/availability/slots?date=2026-01-13&duration=30":                http.StatusBadRequest,
		"/api/v1/availability/slots?provider_id=nobody&date=2026-01-13&duration=30": http.StatusNotFound,
	}
	for path, want := range cases {
		var body errorResponse
		assert.Equal(t, want, getJSON(t, srv.URL+path, &body), path)
		assert.NotEmpty(t, body.Error, path)
	}
}

func TestSlots_MethodNotAllowed(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Post(srv.URL+"/api/v1/availability/slots", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestPreview(t *testing.T) {
	srv, _ := newServer(t)

	var days []previewItem
	status := getJSON(t, srv.URL+"/api/v1/availability/preview?provider_id=p1&from=2026-01-12&to=2026-01-18&durations=30,60", &days)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, days, 7)
	assert.True(t, days[1].HasAvailability)
	assert.Equal(t, []int{30, 60}, days[1].AvailableDurations)
	assert.Equal(t, []windowItem{{Start: "09:00", End: "17:00"}}, days[1].Windows)
	assert.False(t, days[5].HasAvailability)
	assert.Equal(t, []int{}, days[5].AvailableDurations)
}

func TestCounts(t *testing.T) {
	srv, _ := newServer(t)

	var counts []countsItem
	status := getJSON(t, srv.URL+"/api/v1/availability/counts?provider_id=p1&dates=2026-01-13,2026-01-17&durations=30,60", &counts)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, counts, 2)
	assert.Equal(t, map[int]int{30: 31, 60: 29}, counts[0].Counts)
	assert.Equal(t, map[int]int{30: 0, 60: 0}, counts[1].Counts)
}

func TestWindows(t *testing.T) {
	srv, _ := newServer(t)

	var res windowsResponse
	status := getJSON(t, srv.URL+"/api/v1/availability/windows?provider_id=p1&date=2026-01-13", &res)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "America/New_York", res.Timezone)
	assert.Equal(t, "t1", res.TemplateID)
	require.Len(t, res.TimeSlots, 1)
	assert.Equal(t, 2, res.TimeSlots[0].DayOfWeek)
}

func TestReserve_CreatedThenConflict(t *testing.T) {
	srv, store := newServer(t)
	body := `{"provider_id":"p1","start_time":"2026-01-13T15:00:00Z","duration_minutes":30}`

	resp, out := reserve(t, srv.URL, body, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "2026-01-13T15:30:00Z", out["end_time"])
	assert.Equal(t, "CONFIRMED", out["status"])
	assert.Len(t, store.Bookings("p1"), 1)
	assert.Len(t, store.OutboxEvents(), 1)

	// 10:35 local sits inside the 15 minute buffer after the first booking.
	resp, out = reserve(t, srv.URL, `{"provider_id":"p1","start_time":"2026-01-13T15:35:00Z","duration_minutes":30}`, "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, string(availability.ReasonBookingConflict), out["reason"])
	assert.Len(t, store.Bookings("p1"), 1)
}

func TestReserve_IdempotentReplay(t *testing.T) {
	srv, store := newServer(t)
	body := `{"provider_id":"p1","start_time":"2026-01-13T16:00:00Z","duration_minutes":60}`

	resp, first := reserve(t, srv.URL, body, "key-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, second := reserve(t, srv.URL, body, "key-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first["booking_id"], second["booking_id"])
	assert.Equal(t, true, second["replayed"])
	assert.Len(t, store.Bookings("p1"), 1)
}

func TestReserve_IdempotencyKeyReusedForDifferentBody(t *testing.T) {
	srv, store := newServer(t)

	resp, _ := reserve(t, srv.URL, `{"provider_id":"p1","start_time":"2026-01-13T16:00:00Z","duration_minutes":60}`, "key-2")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, out := reserve(t, srv.URL, `{"provider_id":"p1","start_time":"2026-01-13T18:00:00Z","duration_minutes":60}`, "key-2")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, reservation.ErrIdempotencyMismatch.Error(), out["error"])
	assert.Len(t, store.Bookings("p1"), 1)
}

func TestReserve_OutsideScheduleAndBadBody(t *testing.T) {
	srv, _ := newServer(t)

	resp, out := reserve(t, srv.URL, `{"provider_id":"p1","start_time":"2026-01-13T12:00:00Z","duration_minutes":30}`, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, string(availability.ReasonOutsideSchedule), out["reason"])

	resp, out = reserve(t, srv.URL, `{"provider_id":"p1","start_time":"tomorrow","duration_minutes":30}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "start_time", out["field"])

	resp, _ = reserve(t, srv.URL, `{`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

type failingService struct {
	Service
	err error
}

func (f failingService) GetSlotsOnDemand(context.Context, string, tz.Date, int) ([]model.Slot, error) {
	return nil, f.err
}

func TestWriteError_StatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"store down", fmt.Errorf("%w: fetch bookings: %w", engine.ErrStoreUnavailable, errors.New("dial tcp")), http.StatusServiceUnavailable},
		{"conflict", &reservation.ConflictError{Reason: availability.ReasonBookingConflict}, http.StatusConflict},
		{"invalid", &engine.ValidationError{Field: "duration", Message: "must be positive"}, http.StatusBadRequest},
		{"not allowed", engine.ErrDurationNotAllowed, http.StatusBadRequest},
		{"unknown provider", engine.ErrProviderNotFound, http.StatusNotFound},
		{"idempotency mismatch", reservation.ErrIdempotencyMismatch, http.StatusUnprocessableEntity},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewAvailabilityHandler(failingService{err: tc.err}, quietLogger())
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/availability/slots?provider_id=p1&date=2026-01-13&duration=30", nil)
			h.Slots(rec, req)
			assert.Equal(t, tc.want, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestProviderIDHeaderWins(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?provider_id=query", nil)
	assert.Equal(t, "query", providerID(req))
	req.Header.Set("X-Provider-Id", "header")
	assert.Equal(t, "header", providerID(req))
}
