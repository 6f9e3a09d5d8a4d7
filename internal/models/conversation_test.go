package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataMergeKeepsDisjointKeys(t *testing.T) {
	at := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	var md ConversationMetadata

	md.Merge(MetadataPatch{LastAppointment: &AppointmentRef{EventID: "ev-1", Start: at, Status: "scheduled"}})
	md.Merge(MetadataPatch{LastIntent: &IntentSnapshot{Label: "booking", Confidence: 0.9}})

	require.NotNil(t, md.LastAppointment)
	require.NotNil(t, md.LastIntent)
	assert.Equal(t, "ev-1", md.LastAppointment.EventID)
	assert.Equal(t, "booking", md.LastIntent.Label)
}

func TestMetadataMergeCopiesValues(t *testing.T) {
	ref := &AppointmentRef{EventID: "ev-1"}
	var md ConversationMetadata
	md.Merge(MetadataPatch{LastAppointment: ref})

	ref.EventID = "mutated"
	assert.Equal(t, "ev-1", md.LastAppointment.EventID)
}

func TestMetadataMergeInteractiveContextByKey(t *testing.T) {
	var md ConversationMetadata
	md.Merge(MetadataPatch{InteractiveContext: map[string]any{"a": 1}})
	md.Merge(MetadataPatch{InteractiveContext: map[string]any{"b": 2}})

	assert.Equal(t, map[string]any{"a": 1, "b": 2}, md.InteractiveContext)
}

func TestMetadataMergeClearThenSet(t *testing.T) {
	md := ConversationMetadata{
		PendingReschedule: &RescheduleOptions{EventID: "old"},
		HumanTransfer:     &HumanTransfer{Requested: true},
	}
	require.True(t, md.HandedOff())

	md.Merge(MetadataPatch{
		ClearPendingReschedule: true,
		PendingReschedule:      &RescheduleOptions{EventID: "new"},
	})
	require.NotNil(t, md.PendingReschedule)
	assert.Equal(t, "new", md.PendingReschedule.EventID)

	md.Merge(MetadataPatch{ClearHumanTransfer: true, ClearPendingReschedule: true})
	assert.Nil(t, md.PendingReschedule)
	assert.False(t, md.HandedOff())
}

func TestMetadataPatchEmpty(t *testing.T) {
	assert.True(t, MetadataPatch{}.IsEmpty())
	assert.False(t, MetadataPatch{ClearHumanTransfer: true}.IsEmpty())
	assert.Equal(t, []string{"pending_reschedule", "human_transfer"},
		MetadataPatch{ClearPendingReschedule: true, ClearHumanTransfer: true}.ClearedKeys())
}

func TestLeadStatusForScore(t *testing.T) {
	assert.Equal(t, LeadNew, LeadStatusForScore(0))
	assert.Equal(t, LeadNew, LeadStatusForScore(39))
	assert.Equal(t, LeadInterested, LeadStatusForScore(40))
	assert.Equal(t, LeadInterested, LeadStatusForScore(69))
	assert.Equal(t, LeadQualified, LeadStatusForScore(70))
	assert.Equal(t, LeadQualified, LeadStatusForScore(100))
}

func TestEventOverlapIsHalfOpen(t *testing.T) {
	ten := time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC)
	e := CalendarEvent{Start: ten, End: ten.Add(time.Hour)}

	assert.False(t, e.Overlaps(ten.Add(-time.Hour), ten))
	assert.False(t, e.Overlaps(ten.Add(time.Hour), ten.Add(2*time.Hour)))
	assert.True(t, e.Overlaps(ten.Add(30*time.Minute), ten.Add(90*time.Minute)))
	assert.Equal(t, "Mon, Mar 10 2025 at 10:00", e.Summary(nil))
}
