package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/example/delivery-pipeline/internal/message"
)

func TestMongoDocumentRoundTrip(t *testing.T) {
	m := newMessage(t, "m1", message.CorrelationRef{LeadID: "lead-1"})
	_ = m.MarkSent("p-1")

	raw, err := bson.Marshal(toMongo(m.Record()))
	assert.NoError(t, err)

	var doc mongoMessage
	assert.NoError(t, bson.Unmarshal(raw, &doc))
	got := message.FromRecord(doc.record())

	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, message.StatusSent, got.Status())
	assert.Equal(t, "p-1", got.ProviderMessageID())
	assert.Equal(t, "lead-1", got.Correlation.LeadID)
	assert.Equal(t, []string{"a@x.com"}, got.Recipients)
	assert.NotNil(t, got.SentAt())
}

func TestMongoFilters(t *testing.T) {
	assert.Equal(t, bson.M{"correlation.leadid": "l"}, correlationFilter(message.CorrelationRef{LeadID: "l"}))
	assert.Equal(t, bson.M{"correlation.leadid": "l", "correlation.campaignid": "c"},
		correlationFilter(message.CorrelationRef{LeadID: "l", CampaignID: "c"}))

	before := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := strandedFilter(before)
	assert.Equal(t, bson.M{"$lt": before}, f["updated_at"])
	assert.Len(t, f["$or"], 2)
}
