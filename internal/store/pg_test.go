package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/walletops/hookrelay/internal/domain"
	"github.com/walletops/hookrelay/internal/store/schema"
)

var (
	testDB      *gorm.DB
	pgContainer *postgres.PostgresContainer
)

// TestMain sets up the test database before running tests
func TestMain(m *testing.M) {
	ctx := context.Background()

	// Check if we should use an external database (for CI or local development)
	dbHost := os.Getenv("TEST_DB_HOST")
	dbPort := os.Getenv("TEST_DB_PORT")
	dbUser := os.Getenv("TEST_DB_USER")
	dbPassword := os.Getenv("TEST_DB_PASSWORD")
	dbName := os.Getenv("TEST_DB_NAME")

	var dsn string
	var err error

	if dbHost != "" {
		// Use external database
		if dbPort == "" {
			dbPort = "5432"
		}
		if dbUser == "" {
			dbUser = "postgres"
		}
		if dbPassword == "" {
			dbPassword = "postgres"
		}
		if dbName == "" {
			dbName = "test_db"
		}

		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			dbHost, dbPort, dbUser, dbPassword, dbName)

		fmt.Printf("Using external database: %s:%s/%s\n", dbHost, dbPort, dbName)
	} else {
		// Start a PostgreSQL container for testing
		pgContainer, err = postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("test_db"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			fmt.Printf("Failed to start PostgreSQL container: %v\n", err)
			os.Exit(1)
		}

		dsn, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			fmt.Printf("Failed to get connection string: %v\n", err)
			terminateContainer(ctx)
			os.Exit(1)
		}

		fmt.Printf("Started PostgreSQL container\n")
	}

	// Connect to the database
	testDB, err = gorm.Open(pgdriver.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		terminateContainer(ctx)
		os.Exit(1)
	}

	if err := AutoMigrate(testDB); err != nil {
		fmt.Printf("Failed to migrate schema: %v\n", err)
		terminateContainer(ctx)
		os.Exit(1)
	}

	code := m.Run()

	terminateContainer(ctx)
	os.Exit(code)
}

func terminateContainer(ctx context.Context) {
	if pgContainer != nil {
		if err := pgContainer.Terminate(ctx); err != nil {
			fmt.Printf("Failed to terminate PostgreSQL container: %v\n", err)
		}
	}
}

func newTestStore() Store {
	return NewPGStore(testDB)
}

func createSubscription(t *testing.T, st Store, events string, active bool) *schema.Subscription {
	t.Helper()
	sub := &schema.Subscription{
		ID:     uuid.NewString(),
		URL:    "https://example.com/hook",
		Events: []byte(events),
		Secret: "test-secret",
		Active: active,
	}
	require.NoError(t, st.CreateSubscription(context.Background(), sub))
	return sub
}

func TestSubscriptionRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()

	sub := createSubscription(t, st, `["transaction.completed","wallet.frozen"]`, true)

	t.Run("get returns the stored row", func(t *testing.T) {
		got, err := st.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, sub.ID, got.ID)
		assert.Equal(t, "https://example.com/hook", got.URL)
		assert.JSONEq(t, `["transaction.completed","wallet.frozen"]`, string(got.Events))
		assert.True(t, got.Active)
		assert.Zero(t, got.FailureCount)
	})

	t.Run("unknown ID returns the not found sentinel", func(t *testing.T) {
		_, err := st.GetSubscription(ctx, uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
	})

	t.Run("partial update touches only given fields", func(t *testing.T) {
		desc := "updated description"
		got, err := st.UpdateSubscription(ctx, sub.ID, UpdateSubscriptionInput{
			Description: &desc,
			Events:      []string{"card.issued"},
		})
		require.NoError(t, err)
		assert.Equal(t, "updated description", got.Description)
		assert.JSONEq(t, `["card.issued"]`, string(got.Events))
		assert.Equal(t, "https://example.com/hook", got.URL)
		assert.Equal(t, "test-secret", got.Secret)
	})

	t.Run("update of missing row returns not found", func(t *testing.T) {
		url := "https://other.example.com"
		_, err := st.UpdateSubscription(ctx, uuid.NewString(), UpdateSubscriptionInput{URL: &url})
		assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
	})

	t.Run("toggle flips active", func(t *testing.T) {
		got, err := st.SetSubscriptionActive(ctx, sub.ID, false)
		require.NoError(t, err)
		assert.False(t, got.Active)

		got, err = st.SetSubscriptionActive(ctx, sub.ID, true)
		require.NoError(t, err)
		assert.True(t, got.Active)
	})

	t.Run("delete removes the row", func(t *testing.T) {
		require.NoError(t, st.DeleteSubscription(ctx, sub.ID))
		_, err := st.GetSubscription(ctx, sub.ID)
		assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
	})

	t.Run("delete of missing row returns not found", func(t *testing.T) {
		err := st.DeleteSubscription(ctx, uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
	})
}

func TestListActiveSubscriptionsForEvent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()

	matching := createSubscription(t, st, `["compliance.alert"]`, true)
	wildcard := createSubscription(t, st, `["*"]`, true)
	inactive := createSubscription(t, st, `["compliance.alert"]`, false)
	other := createSubscription(t, st, `["export.ready"]`, true)

	subs, err := st.ListActiveSubscriptionsForEvent(ctx, "compliance.alert")
	require.NoError(t, err)

	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.ID)
	}
	assert.Contains(t, ids, matching.ID)
	assert.Contains(t, ids, wildcard.ID, "wildcard filters match every event type")
	assert.NotContains(t, ids, inactive.ID, "inactive subscriptions never match")
	assert.NotContains(t, ids, other.ID)

	// Quotes in the event type must not break the containment operand
	subs, err = st.ListActiveSubscriptionsForEvent(ctx, `compliance."alert"`)
	require.NoError(t, err)
	ids = ids[:0]
	for _, sub := range subs {
		ids = append(ids, sub.ID)
	}
	assert.Contains(t, ids, wildcard.ID)
	assert.NotContains(t, ids, matching.ID, "a quoted type matches no literal filter")
}

func TestRecordDeliveryOutcome(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()

	sub := createSubscription(t, st, `["*"]`, true)
	code := 500

	for i := 0; i < 3; i++ {
		require.NoError(t, st.RecordDeliveryOutcome(ctx, sub.ID, false, &code, time.Now()))
	}
	got, err := st.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.FailureCount)
	require.NotNil(t, got.LastStatus)
	assert.Equal(t, 500, *got.LastStatus)
	assert.NotNil(t, got.LastTriggered)

	ok := 200
	require.NoError(t, st.RecordDeliveryOutcome(ctx, sub.ID, true, &ok, time.Now()))
	got, err = st.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Zero(t, got.FailureCount, "a success resets the failure counter")
	assert.Equal(t, 200, *got.LastStatus)
}

func TestDeliveryQueue(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()
	sub := createSubscription(t, st, `["*"]`, true)

	now := time.Now().UTC()
	lease := 5 * time.Minute

	due := &schema.DeliveryTask{
		SubscriptionID: sub.ID,
		EventType:      "transaction.completed",
		PayloadID:      "01JGQUEUE00000000000000001",
		Payload:        []byte(`{"k":"v"}`),
		Attempt:        1,
		NotBefore:      now.Add(-time.Second),
	}
	future := &schema.DeliveryTask{
		SubscriptionID: sub.ID,
		EventType:      "transaction.completed",
		PayloadID:      "01JGQUEUE00000000000000002",
		Payload:        []byte(`{"k":"v"}`),
		Attempt:        2,
		NotBefore:      now.Add(time.Hour),
	}
	require.NoError(t, st.EnqueueDeliveryTasks(ctx, []*schema.DeliveryTask{due, future}))

	t.Run("claims only due unclaimed tasks", func(t *testing.T) {
		claimed, err := st.ClaimDueDeliveryTasks(ctx, now, lease, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, due.ID, claimed[0].ID)
	})

	t.Run("claimed tasks stay invisible within the lease", func(t *testing.T) {
		claimed, err := st.ClaimDueDeliveryTasks(ctx, now.Add(time.Second), lease, 10)
		require.NoError(t, err)
		assert.Empty(t, claimed)
	})

	t.Run("lease expiry returns the task to the sweep", func(t *testing.T) {
		claimed, err := st.ClaimDueDeliveryTasks(ctx, now.Add(lease+time.Minute), lease, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, due.ID, claimed[0].ID)
	})

	t.Run("reschedule parks the task and clears the claim", func(t *testing.T) {
		nextRetry := now.Add(30 * time.Second)
		require.NoError(t, st.RescheduleDeliveryTask(ctx, due.ID, 2, nextRetry))

		// Not due before the retry time
		claimed, err := st.ClaimDueDeliveryTasks(ctx, nextRetry.Add(-time.Second), lease, 10)
		require.NoError(t, err)
		assert.Empty(t, claimed)

		// Due afterwards, despite the old claim
		claimed, err = st.ClaimDueDeliveryTasks(ctx, nextRetry.Add(lease), lease, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, 2, claimed[0].Attempt)
	})

	t.Run("complete removes the task", func(t *testing.T) {
		require.NoError(t, st.CompleteDeliveryTask(ctx, due.ID))

		claimed, err := st.ClaimDueDeliveryTasks(ctx, now.Add(24*time.Hour), lease, 10)
		require.NoError(t, err)
		ids := make([]uint64, 0, len(claimed))
		for _, task := range claimed {
			ids = append(ids, task.ID)
		}
		assert.NotContains(t, ids, due.ID)
	})
}

func TestDeliveryLedger(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()
	sub := createSubscription(t, st, `["*"]`, true)

	code := 200
	ms := int64(42)

	t.Run("appends attempts as separate rows", func(t *testing.T) {
		for attempt := 1; attempt <= 3; attempt++ {
			entry := &schema.DeliveryLogEntry{
				SubscriptionID: sub.ID,
				PayloadID:      "01JGLEDGER0000000000000001",
				EventType:      "transaction.completed",
				Status:         schema.DeliveryStatusFailed,
				Attempt:        attempt,
				Timestamp:      time.Now().Add(time.Duration(attempt) * time.Second),
			}
			require.NoError(t, st.AppendDeliveryLog(ctx, entry))
		}
	})

	t.Run("rejects duplicate attempt rows", func(t *testing.T) {
		retryAt := time.Now().Add(time.Hour)
		dup := &schema.DeliveryLogEntry{
			SubscriptionID: sub.ID,
			PayloadID:      "01JGLEDGER0000000000000001",
			EventType:      "transaction.completed",
			Status:         schema.DeliveryStatusSuccess,
			NextRetryAt:    &retryAt,
			Attempt:        2,
			Timestamp:      time.Now(),
		}
		assert.ErrorIs(t, st.AppendDeliveryLog(ctx, dup), domain.ErrDuplicateAttempt,
			"one (webhook, payload, attempt) triple allows exactly one row")

		// The original row survives untouched
		got, err := st.GetDeliveryLogEntry(ctx, sub.ID, "01JGLEDGER0000000000000001", 2)
		require.NoError(t, err)
		assert.Equal(t, schema.DeliveryStatusFailed, got.Status)
		assert.Nil(t, got.NextRetryAt)
	})

	t.Run("gets a single attempt row", func(t *testing.T) {
		got, err := st.GetDeliveryLogEntry(ctx, sub.ID, "01JGLEDGER0000000000000001", 3)
		require.NoError(t, err)
		assert.Equal(t, 3, got.Attempt)
		assert.Equal(t, "transaction.completed", got.EventType)

		_, err = st.GetDeliveryLogEntry(ctx, sub.ID, "01JGLEDGER0000000000000001", 99)
		assert.ErrorIs(t, err, domain.ErrDeliveryLogNotFound)
	})

	t.Run("truncates oversized error details", func(t *testing.T) {
		entry := &schema.DeliveryLogEntry{
			SubscriptionID: sub.ID,
			PayloadID:      "01JGLEDGER0000000000000002",
			EventType:      "transaction.completed",
			Status:         schema.DeliveryStatusFailed,
			Error:          strings.Repeat("x", 5000),
			Attempt:        1,
			Timestamp:      time.Now(),
		}
		require.NoError(t, st.AppendDeliveryLog(ctx, entry))
		assert.Len(t, entry.Error, 1024)
	})

	t.Run("lists most recent first with pagination", func(t *testing.T) {
		entry := &schema.DeliveryLogEntry{
			SubscriptionID: sub.ID,
			PayloadID:      "01JGLEDGER0000000000000003",
			EventType:      "webhook.test",
			Status:         schema.DeliveryStatusSuccess,
			StatusCode:     &code,
			ResponseTimeMs: &ms,
			Attempt:        1,
			Timestamp:      time.Now().Add(time.Minute),
		}
		require.NoError(t, st.AppendDeliveryLog(ctx, entry))

		entries, err := st.ListDeliveries(ctx, sub.ID, 2, 0)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "01JGLEDGER0000000000000003", entries[0].PayloadID,
			"newest entry comes first")

		rest, err := st.ListDeliveries(ctx, sub.ID, 10, 2)
		require.NoError(t, err)
		assert.Len(t, rest, 3)
	})
}

func TestGetDeliveryStats(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()
	sub := createSubscription(t, st, `["*"]`, true)

	okCode := 200
	failCode := 500
	fast := int64(10)
	slow := int64(30)

	entries := []*schema.DeliveryLogEntry{
		{
			SubscriptionID: sub.ID, PayloadID: "01JGSTATS00000000000000001",
			EventType: "transaction.completed", Status: schema.DeliveryStatusSuccess,
			StatusCode: &okCode, ResponseTimeMs: &fast, Attempt: 1, Timestamp: time.Now(),
		},
		{
			SubscriptionID: sub.ID, PayloadID: "01JGSTATS00000000000000002",
			EventType: "transaction.completed", Status: schema.DeliveryStatusSuccess,
			StatusCode: &okCode, ResponseTimeMs: &slow, Attempt: 1, Timestamp: time.Now(),
		},
		{
			SubscriptionID: sub.ID, PayloadID: "01JGSTATS00000000000000003",
			EventType: "transaction.completed", Status: schema.DeliveryStatusFailed,
			StatusCode: &failCode, Attempt: 1, Timestamp: time.Now(),
		},
	}
	for _, entry := range entries {
		require.NoError(t, st.AppendDeliveryLog(ctx, entry))
	}

	// A parked retry surfaces as the next retry time
	retryAt := time.Now().Add(time.Minute).UTC().Truncate(time.Millisecond)
	require.NoError(t, st.EnqueueDeliveryTasks(ctx, []*schema.DeliveryTask{{
		SubscriptionID: sub.ID,
		EventType:      "transaction.completed",
		PayloadID:      "01JGSTATS00000000000000003",
		Payload:        []byte(`{}`),
		Attempt:        2,
		NotBefore:      retryAt,
	}}))

	stats, err := st.GetDeliveryStats(ctx, sub.ID)
	require.NoError(t, err)

	assert.EqualValues(t, 3, stats.Total)
	assert.EqualValues(t, 2, stats.Successful)
	assert.EqualValues(t, 1, stats.Failed)
	require.NotNil(t, stats.AvgResponseTimeMs)
	assert.InDelta(t, 20.0, *stats.AvgResponseTimeMs, 0.01,
		"average covers successful attempts only")
	assert.NotNil(t, stats.LastDelivery)
	require.NotNil(t, stats.NextRetry)
	assert.WithinDuration(t, retryAt, *stats.NextRetry, time.Second)

	t.Run("empty ledger yields zero stats", func(t *testing.T) {
		empty := createSubscription(t, st, `["*"]`, true)
		stats, err := st.GetDeliveryStats(ctx, empty.ID)
		require.NoError(t, err)
		assert.Zero(t, stats.Total)
		assert.Nil(t, stats.AvgResponseTimeMs)
		assert.Nil(t, stats.NextRetry)
	})
}
