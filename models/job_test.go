package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeJobPayload(t *testing.T) {
	t.Run("valid payload round-trips", func(t *testing.T) {
		data, err := EncodeJobPayload(JobTypeSequenceStep, SequenceStepPayload{SequenceID: 7, LeadID: 42})
		require.NoError(t, err)

		job := ScheduledJob{Payload: data}
		var got SequenceStepPayload
		require.NoError(t, DecodeJobPayload(&job, &got))
		assert.Equal(t, uint(7), got.SequenceID)
		assert.Equal(t, uint(42), got.LeadID)
	})

	t.Run("rejects mismatched payload struct", func(t *testing.T) {
		_, err := EncodeJobPayload(JobTypeSequenceStep, WarmupPayload{AccountID: 1})
		assert.Error(t, err)
	})

	t.Run("rejects missing required fields", func(t *testing.T) {
		_, err := EncodeJobPayload(JobTypeSequenceStep, SequenceStepPayload{SequenceID: 7})
		assert.Error(t, err)
	})

	t.Run("rejects unknown job type", func(t *testing.T) {
		_, err := EncodeJobPayload("reindex", SequenceStepPayload{SequenceID: 1, LeadID: 2})
		assert.Error(t, err)
	})

	t.Run("validates analytics period and date", func(t *testing.T) {
		_, err := EncodeJobPayload(JobTypeAnalytics, AnalyticsPayload{Period: "hourly", Date: "2026-08-26"})
		assert.Error(t, err)

		_, err = EncodeJobPayload(JobTypeAnalytics, AnalyticsPayload{Period: "daily", Date: "26-08-2026"})
		assert.Error(t, err)

		_, err = EncodeJobPayload(JobTypeAnalytics, AnalyticsPayload{Period: "daily", Date: "2026-08-26"})
		assert.NoError(t, err)
	})
}

func TestDecodeJobPayload(t *testing.T) {
	t.Run("rejects malformed json", func(t *testing.T) {
		job := ScheduledJob{Payload: []byte(`{"sequenceId":`)}
		var got SequenceStepPayload
		assert.Error(t, DecodeJobPayload(&job, &got))
	})

	t.Run("re-validates stored payload", func(t *testing.T) {
		// Stored before validation tightened, or hand-edited
		job := ScheduledJob{Payload: []byte(`{"sequenceId":7}`)}
		var got SequenceStepPayload
		assert.Error(t, DecodeJobPayload(&job, &got))
	})
}
