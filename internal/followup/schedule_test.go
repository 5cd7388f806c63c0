package followup

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"followup-engine/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_OrdersByDescendingLead(t *testing.T) {
	in := ReminderSettings{
		Enabled: true,
		Schedule: []ReminderEntry{
			{Offset: Hours(1), Channel: ChannelInApp},
			{Offset: Days(2), Channel: ChannelEmail},
		},
	}

	got, err := in.Canonicalize()
	require.NoError(t, err)
	assert.Equal(t, []ReminderEntry{
		{Offset: Days(2), Channel: ChannelEmail},
		{Offset: Hours(1), Channel: ChannelInApp},
	}, got.Schedule)
}

func TestCanonicalize_DedupesAndOrdersChannels(t *testing.T) {
	in := ReminderSettings{
		Enabled: true,
		Schedule: []ReminderEntry{
			{Offset: Days(1), Channel: ChannelBrowser},
			{Offset: Days(1), Channel: ChannelInApp},
			{Offset: Days(1), Channel: ChannelBrowser},
			{Offset: Hours(-1), Channel: ChannelEmail},
		},
	}

	got, err := in.Canonicalize()
	require.NoError(t, err)
	assert.Equal(t, []ReminderEntry{
		{Offset: Days(1), Channel: ChannelInApp},
		{Offset: Days(1), Channel: ChannelBrowser},
		{Offset: Hours(-1), Channel: ChannelEmail},
	}, got.Schedule)
}

func TestCanonicalize_Rejects(t *testing.T) {
	_, err := ReminderSettings{Enabled: true}.Canonicalize()
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidationFailed))

	_, err = ReminderSettings{Schedule: []ReminderEntry{{Offset: Days(1), Channel: "pigeon"}}}.Canonicalize()
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidationFailed))

	for _, o := range []Offset{Days(366), Days(-366), Offset(math.MinInt64)} {
		_, err = ReminderSettings{Schedule: []ReminderEntry{{Offset: o, Channel: ChannelEmail}}}.Canonicalize()
		assert.True(t, errors.IsCode(err, errors.ErrCodeValidationFailed), "offset %d", int64(o))
	}
}

func TestEffectiveSchedule_MaxOffsetDoesNotOverflow(t *testing.T) {
	due := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	s, err := ReminderSettings{
		Enabled:       true,
		PriorityBased: true,
		Schedule:      []ReminderEntry{{Offset: MaxOffset, Channel: ChannelEmail}},
	}.Canonicalize()
	require.NoError(t, err)

	eff := EffectiveSchedule(s, PriorityUrgent, due, time.Time{})
	require.Len(t, eff, 2)
	assert.Equal(t, Days(730), eff[0].EffectiveOffset)
	assert.True(t, eff[0].FireAt.Before(due))

	b, err := json.Marshal(s)
	require.NoError(t, err)
	var back ReminderSettings
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, s, back)
}

func TestReminderSettings_JSONRoundTrip(t *testing.T) {
	s, err := ReminderSettings{
		Enabled:       true,
		PriorityBased: true,
		Schedule: []ReminderEntry{
			{Offset: Hours(1), Channel: ChannelInApp},
			{Offset: Days(2), Channel: ChannelEmail},
		},
	}.Canonicalize()
	require.NoError(t, err)

	b, err := json.Marshal(s)
	require.NoError(t, err)

	var back ReminderSettings
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, s, back)
	assert.Equal(t, Days(2), back.Schedule[0].Offset)
}

func TestEffectiveSchedule_NotPriorityBasedKeepsRawOffsets(t *testing.T) {
	due := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	s := ReminderSettings{
		Enabled: true,
		Schedule: []ReminderEntry{
			{Offset: Days(2), Channel: ChannelEmail},
			{Offset: Hours(3), Channel: ChannelInApp},
		},
	}

	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent} {
		eff := EffectiveSchedule(s, p, due, time.Time{})
		require.Len(t, eff, 2, p)
		for _, e := range eff {
			assert.Equal(t, e.RawOffset, e.EffectiveOffset)
			assert.Equal(t, due.Add(-e.RawOffset.Duration()), e.FireAt)
			assert.False(t, e.Key.Escalated)
		}
	}
}

func TestEffectiveSchedule_PriorityCompression(t *testing.T) {
	due := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	s := ReminderSettings{
		Enabled:       true,
		PriorityBased: true,
		Schedule: []ReminderEntry{
			{Offset: Days(1), Channel: ChannelInApp},
			{Offset: Hours(-2), Channel: ChannelEmail},
		},
	}

	t.Run("high enlarges lead by half", func(t *testing.T) {
		eff := EffectiveSchedule(s, PriorityHigh, due, time.Time{})
		require.Len(t, eff, 2)
		assert.Equal(t, Hours(36), eff[0].EffectiveOffset)
		assert.True(t, eff[0].Key.Escalated)
		assert.Equal(t, Hours(-2), eff[1].EffectiveOffset)
	})

	t.Run("urgent doubles and keeps the original", func(t *testing.T) {
		eff := EffectiveSchedule(s, PriorityUrgent, due, time.Time{})
		assert.Greater(t, len(eff), len(s.Schedule))
		require.Len(t, eff, 4)
		assert.Equal(t, Days(2), eff[0].EffectiveOffset)
		assert.Equal(t, Days(1), eff[1].EffectiveOffset)
		assert.NotEqual(t, eff[0].Key, eff[1].Key)
		assert.Equal(t, Hours(-1), eff[2].EffectiveOffset)
		assert.True(t, eff[2].Key.Escalated)
		assert.Equal(t, Hours(-2), eff[3].EffectiveOffset)
		assert.False(t, eff[3].Key.Escalated)

		for _, e := range eff {
			raw := due.Add(-e.RawOffset.Duration())
			assert.False(t, e.FireAt.After(raw), "effective fire time later than raw for %s", e.Key)
		}
	})

	t.Run("low and medium unchanged", func(t *testing.T) {
		for _, p := range []Priority{PriorityLow, PriorityMedium} {
			eff := EffectiveSchedule(s, p, due, time.Time{})
			require.Len(t, eff, 2)
			assert.Equal(t, Days(1), eff[0].EffectiveOffset)
		}
	})
}

func TestEffectiveSchedule_UrgentPostDueGetsExtraReminder(t *testing.T) {
	due := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	for _, o := range []Offset{0, Hours(-1), Days(-3)} {
		s := ReminderSettings{
			Enabled:       true,
			PriorityBased: true,
			Schedule:      []ReminderEntry{{Offset: o, Channel: ChannelEmail}},
		}

		eff := EffectiveSchedule(s, PriorityUrgent, due, time.Time{})
		require.Len(t, eff, 2, o.String())
		assert.NotEqual(t, eff[0].Key, eff[1].Key)
		assert.NotEqual(t, eff[0].Key.Escalated, eff[1].Key.Escalated, o.String())

		raw := due.Add(-o.Duration())
		for _, e := range eff {
			assert.False(t, e.FireAt.After(raw), "%s fires after the raw offset", e.Key)
		}

		high := EffectiveSchedule(s, PriorityHigh, due, time.Time{})
		require.Len(t, high, 1, o.String())
		assert.Equal(t, o, high[0].EffectiveOffset)
	}
}

func TestEffectiveSchedule_ClampsToCreation(t *testing.T) {
	created := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	due := created.Add(2 * time.Hour)
	s := ReminderSettings{Enabled: true, Schedule: []ReminderEntry{{Offset: Days(1), Channel: ChannelInApp}}}

	eff := EffectiveSchedule(s, PriorityMedium, due, created)
	require.Len(t, eff, 1)
	assert.Equal(t, created, eff[0].FireAt)
}
