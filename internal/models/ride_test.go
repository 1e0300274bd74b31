package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from RideStatus
		to   RideStatus
		want bool
	}{
		{RideStatusPending, RideStatusAccepted, true},
		{RideStatusPending, RideStatusCancelled, true},
		{RideStatusPending, RideStatusStarted, false},
		{RideStatusAccepted, RideStatusStarted, true},
		{RideStatusAccepted, RideStatusPending, true},
		{RideStatusAccepted, RideStatusCancelled, true},
		{RideStatusStarted, RideStatusCompleted, true},
		{RideStatusStarted, RideStatusCancelled, false},
		{RideStatusCompleted, RideStatusCancelled, false},
		{RideStatusCancelled, RideStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestEpochMillis_UnmarshalJSON(t *testing.T) {
	want := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input string
		want  EpochMillis
	}{
		{"number", `1709289000000`, FromTime(want)},
		{"float number", `1709289000000.0`, FromTime(want)},
		{"iso string", `"2024-03-01T10:30:00Z"`, FromTime(want)},
		{"iso string with offset", `"2024-03-01T12:30:00+02:00"`, FromTime(want)},
		{"null", `null`, 0},
		{"empty string", `""`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got EpochMillis
			require.NoError(t, json.Unmarshal([]byte(tt.input), &got))
			assert.Equal(t, tt.want, got)
		})
	}

	var bad EpochMillis
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &bad))
}

func TestEpochMillis_MarshalsAsNumber(t *testing.T) {
	raw, err := json.Marshal(EpochMillis(1709289000000))
	require.NoError(t, err)
	assert.Equal(t, "1709289000000", string(raw))
}

func TestRideRecord_AcceptsLegacyStringRequestTime(t *testing.T) {
	raw := `{"id":"r1","customerId":"c1","status":"pending","requestTime":"2024-03-01T10:30:00Z",
		"pickupLocation":{"lat":30.0444,"lng":31.2357},"destinationLocation":{"lat":30.0511,"lng":31.3656},
		"estimatedPrice":25,"calculatedMileage":0}`

	var rec RideRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	assert.Equal(t, EpochMillis(1709289000000), rec.RequestTime)

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"requestTime":1709289000000`)
}

func TestRideFilter_Matches(t *testing.T) {
	rec := &RideRecord{CustomerID: "c1", DriverID: "d1", Status: RideStatusAccepted}

	assert.True(t, RideFilter{}.Matches(rec))
	assert.True(t, RideFilter{CustomerID: "c1", Statuses: ActiveStatuses}.Matches(rec))
	assert.True(t, RideFilter{DriverID: "d1"}.Matches(rec))
	assert.False(t, RideFilter{CustomerID: "c2"}.Matches(rec))
	assert.False(t, RideFilter{Statuses: []RideStatus{RideStatusPending}}.Matches(rec))
}

func TestRideStatus_IsActive(t *testing.T) {
	for _, s := range ActiveStatuses {
		assert.True(t, s.IsActive(), s)
	}
	assert.False(t, RideStatusCompleted.IsActive())
	assert.False(t, RideStatusCancelled.IsActive())
	assert.False(t, RideStatus("archived").Valid())
}
