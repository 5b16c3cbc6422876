package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/delivery-pipeline/internal/message"
)

func newMessage(t *testing.T, id string, ref message.CorrelationRef) *message.Message {
	t.Helper()
	m, err := message.New(message.Draft{
		ID:          id,
		Channel:     message.ChannelEmail,
		Sender:      message.Address{Email: "from@x.com"},
		Recipients:  []string{"a@x.com"},
		Content:     message.Content{Subject: "S", TextBody: "B"},
		Correlation: ref,
	})
	require.NoError(t, err)
	return m
}

func TestMemoryStoreSaveConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	m := newMessage(t, "m1", message.CorrelationRef{})

	require.NoError(t, s.Save(ctx, m))
	assert.ErrorIs(t, s.Save(ctx, m), message.ErrConflict)
}

func TestMemoryStoreFindAndUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, message.ErrNotFound)

	m := newMessage(t, "m1", message.CorrelationRef{})
	assert.ErrorIs(t, s.Update(ctx, m), message.ErrNotFound)
	require.NoError(t, s.Save(ctx, m))

	// mutations on the caller's copy are invisible until Update
	require.NoError(t, m.MarkSent("p-1"))
	got, err := s.FindByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, message.StatusPending, got.Status())

	require.NoError(t, s.Update(ctx, m))
	got, err = s.FindByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, message.StatusSent, got.Status())
	assert.Equal(t, "p-1", got.ProviderMessageID())

	byProvider, err := s.FindByProviderMessageID(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "m1", byProvider.ID)

	_, err = s.FindByProviderMessageID(ctx, "")
	assert.ErrorIs(t, err, message.ErrNotFound)
}

func TestMemoryStoreQueries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a := newMessage(t, "a", message.CorrelationRef{LeadID: "lead-1", CampaignID: "c-1"})
	b := newMessage(t, "b", message.CorrelationRef{LeadID: "lead-1"})
	c := newMessage(t, "c", message.CorrelationRef{LeadID: "lead-2", CampaignID: "c-1"})
	for _, m := range []*message.Message{a, b, c} {
		require.NoError(t, s.Save(ctx, m))
	}
	require.NoError(t, b.MarkFailed("boom"))
	require.NoError(t, s.Update(ctx, b))

	pending, err := s.FindByStatus(ctx, message.StatusPending, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	limited, err := s.FindByStatus(ctx, message.StatusPending, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	byLead, err := s.FindByCorrelation(ctx, message.CorrelationRef{LeadID: "lead-1"})
	require.NoError(t, err)
	assert.Len(t, byLead, 2)

	byCampaign, err := s.FindByCorrelation(ctx, message.CorrelationRef{CampaignID: "c-1"})
	require.NoError(t, err)
	assert.Len(t, byCampaign, 2)

	both, err := s.FindByCorrelation(ctx, message.CorrelationRef{LeadID: "lead-2", CampaignID: "c-1"})
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, "c", both[0].ID)

	none, err := s.FindByCorrelation(ctx, message.CorrelationRef{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStoreFindStranded(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	pending := newMessage(t, "pending", message.CorrelationRef{})
	retryable := newMessage(t, "retryable", message.CorrelationRef{})
	sent := newMessage(t, "sent", message.CorrelationRef{})
	for _, m := range []*message.Message{pending, retryable, sent} {
		require.NoError(t, s.Save(ctx, m))
	}
	require.NoError(t, retryable.MarkFailed("boom"))
	require.NoError(t, retryable.IncrementRetry())
	require.NoError(t, s.Update(ctx, retryable))
	require.NoError(t, sent.MarkSent("p"))
	require.NoError(t, s.Update(ctx, sent))

	stranded, err := s.FindStranded(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(stranded))
	for _, m := range stranded {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []string{"pending", "retryable"}, ids)

	fresh, err := s.FindStranded(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, fresh)
}
