package metrics_test

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/metrics"
)

func TestCollector_RecordCountsEvents(t *testing.T) {
	c := metrics.NewCollector("test")
	ctx := context.Background()

	require.NoError(t, c.Record(ctx, accounts.ActivityEvent{EventType: accounts.ActivityEventAccountCreated}))
	require.NoError(t, c.Record(ctx, accounts.ActivityEvent{EventType: accounts.ActivityEventAccountCreated}))
	require.NoError(t, c.Record(ctx, accounts.ActivityEvent{
		EventType:  accounts.ActivityEventAccountDeleted,
		FromStatus: accounts.AccountStatusActive,
		ToStatus:   accounts.AccountStatusDeleted,
	}))

	expected := `
# HELP test_activity_events_total Total number of account activity events.
# TYPE test_activity_events_total counter
test_activity_events_total{event="account.created"} 2
test_activity_events_total{event="account.deleted"} 1
`
	err := testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "test_activity_events_total")
	assert.NoError(t, err)

	transitions := `
# HELP test_lifecycle_status_changes_total Total number of account status transitions.
# TYPE test_lifecycle_status_changes_total counter
test_lifecycle_status_changes_total{from="active",to="deleted"} 1
`
	err = testutil.GatherAndCompare(c.Registry(), strings.NewReader(transitions), "test_lifecycle_status_changes_total")
	assert.NoError(t, err)
}

func TestCollector_DefaultNamespace(t *testing.T) {
	c := metrics.NewCollector("")
	require.NoError(t, c.Record(context.Background(), accounts.ActivityEvent{EventType: accounts.ActivityEventLoginFailure}))

	count, err := testutil.GatherAndCount(c.Registry(), "accounts_activity_events_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollector_MiddlewareAndHandler(t *testing.T) {
	c := metrics.NewCollector("test")

	app := fiber.New()
	app.Use(c.Middleware())
	app.Get("/accounts/:id", func(ctx *fiber.Ctx) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/accounts/123", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	count, err := testutil.GatherAndCount(c.Registry(), "test_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `test_http_requests_total{method="GET",route="/accounts/:id",status="204"} 1`)
}
