//go:build integration

package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/example/delivery-pipeline/internal/message"
)

var sharedPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/test?sslmode=disable", host, port.Port())
	sharedPool, err = pgxpool.New(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	if err := NewPostgresStore(sharedPool).Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to migrate: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	sharedPool.Close()
	if err := container.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate container: %v\n", err)
	}
	os.Exit(code)
}

func TestPostgresStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewPostgresStore(sharedPool)

	m := newMessage(t, "pg-1", message.CorrelationRef{LeadID: "lead-pg", CampaignID: "camp-pg"})
	m.Content.TemplateParams = []string{"a", "b"}
	require.NoError(t, s.Save(ctx, m))
	assert.ErrorIs(t, s.Save(ctx, m), message.ErrConflict)

	got, err := s.FindByID(ctx, "pg-1")
	require.NoError(t, err)
	assert.Equal(t, message.StatusPending, got.Status())
	assert.Equal(t, []string{"a@x.com"}, got.Recipients)
	assert.Equal(t, []string{"a", "b"}, got.Content.TemplateParams)

	require.NoError(t, got.MarkFailed("boom"))
	require.NoError(t, got.IncrementRetry())
	require.NoError(t, s.Update(ctx, got))

	stranded, err := s.FindStranded(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stranded, 1)
	assert.Equal(t, 1, stranded[0].RetryCount())

	require.NoError(t, got.Requeue())
	require.NoError(t, got.MarkSent("prov-pg-1"))
	require.NoError(t, s.Update(ctx, got))

	byProvider, err := s.FindByProviderMessageID(ctx, "prov-pg-1")
	require.NoError(t, err)
	assert.Equal(t, "pg-1", byProvider.ID)
	assert.NotNil(t, byProvider.SentAt())

	byLead, err := s.FindByCorrelation(ctx, message.CorrelationRef{LeadID: "lead-pg"})
	require.NoError(t, err)
	assert.Len(t, byLead, 1)

	sent, err := s.FindByStatus(ctx, message.StatusSent, 10)
	require.NoError(t, err)
	assert.Len(t, sent, 1)

	_, err = s.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, message.ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, newMessage(t, "missing", message.CorrelationRef{})), message.ErrNotFound)
}
