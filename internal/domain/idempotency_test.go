package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIdempotencyStatusValid(t *testing.T) {
	tests := []struct {
		name   string
		status IdempotencyStatus
		want   bool
	}{
		{name: "processing", status: IdempotencyStatusProcessing, want: true},
		{name: "done", status: IdempotencyStatusDone, want: true},
		{name: "failed", status: IdempotencyStatusFailed, want: true},
		{name: "invalid", status: IdempotencyStatus("broken"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.status.Valid())
		})
	}
}

func TestNewIdempotencyRecord(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("MSK", 3*60*60))

	record, err := NewIdempotencyRecord("  key-1 ", " hash ", time.Time{}, now)
	require.NoError(t, err)
	require.Equal(t, "key-1", record.Key)
	require.Equal(t, "hash", record.RequestHash)
	require.Equal(t, IdempotencyStatusProcessing, record.Status)
	require.Equal(t, time.UTC, record.CreatedAt.Location())
	require.True(t, record.CreatedAt.Equal(now))
	require.True(t, record.UpdatedAt.Equal(now))
	require.True(t, record.TTLAt.Equal(now.Add(DefaultIdempotencyTTL)))
	require.False(t, record.Finished())

	explicit := now.Add(time.Minute)
	record, err = NewIdempotencyRecord("key-2", "hash", explicit, now)
	require.NoError(t, err)
	require.True(t, record.TTLAt.Equal(explicit))
	require.Equal(t, time.UTC, record.TTLAt.Location())

	_, err = NewIdempotencyRecord(" ", "hash", time.Time{}, now)
	require.ErrorIs(t, err, ErrIdempotencyKeyRequired)
	_, err = NewIdempotencyRecord("key", "", time.Time{}, now)
	require.ErrorIs(t, err, ErrIdempotencyRequestHashRequired)
}

func TestIdempotencyRecordFinished(t *testing.T) {
	require.False(t, IdempotencyRecord{Status: IdempotencyStatusProcessing}.Finished())
	require.True(t, IdempotencyRecord{Status: IdempotencyStatusDone}.Finished())
	require.True(t, IdempotencyRecord{Status: IdempotencyStatusFailed}.Finished())
}

func TestParseIdempotencyStatus(t *testing.T) {
	status, err := ParseIdempotencyStatus("done")
	require.NoError(t, err)
	require.Equal(t, IdempotencyStatusDone, status)

	_, err = ParseIdempotencyStatus("DONE")
	require.ErrorIs(t, err, ErrStorage)
	_, err = ParseIdempotencyStatus("")
	require.ErrorIs(t, err, ErrStorage)
}
