package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"clinicbook/internal/config"
	"clinicbook/internal/database"
	"clinicbook/internal/events"
	"clinicbook/internal/models"
	"clinicbook/internal/reference"
	"clinicbook/internal/repository"
	"clinicbook/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	adminKey   = "ops-key"
	adminExtra = "ops-secret"
	readerKey  = "reader-key"
	readerExtr = "reader-secret"
)

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true},
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			HeaderExtra:  "x-api-extra",
			APIKeys: []config.APIClientKey{
				{Key: adminKey, Extra: adminExtra, Name: "ops", Permissions: []string{permAdminRead, permAdminWrite, permAdminExport}},
				{Key: readerKey, Extra: readerExtr, Name: "reader", Permissions: []string{permAdminRead}},
			},
		},
	}
}

type testStack struct {
	db       *database.DB
	bookings *service.BookingService
	workflow *service.Workflow
}

func newTestStack(t *testing.T, slots ...models.Slot) *testStack {
	t.Helper()
	logger := zerolog.New(io.Discard)

	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.SyncSlots(t.Context(), slots))

	bookingCfg := config.BookingConfig{
		ReferencePrefix:   "CB",
		ReferenceAttempts: 3,
		MinPhoneDigits:    7,
		SubmitRateLimit:   5,
		SubmitRateWindow:  3600,
	}
	bookings := service.NewBookingService(db, reference.New("CB"), events.NewEventBus(), bookingCfg, &logger)
	sessions := repository.NewMemorySessionRepository(time.Hour)
	workflow := service.NewWorkflow(sessions, bookings, bookingCfg, &logger)

	return &testStack{db: db, bookings: bookings, workflow: workflow}
}

func newTestHTTP(t *testing.T, cfg config.APIConfig, slots ...models.Slot) (*httptest.Server, *HTTPServer, *testStack) {
	t.Helper()
	stack := newTestStack(t, slots...)
	logger := zerolog.New(io.Discard)
	srv := NewHTTPServer(cfg, stack.bookings, stack.workflow, &logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, srv, stack
}

func clinicSlot(id int64, capacity int) models.Slot {
	return models.Slot{
		ID:         id,
		Name:       "Saturday clinic",
		Kind:       models.KindClinic,
		Capacity:   capacity,
		PriceCents: 9000,
		Currency:   "EUR",
		IsActive:   true,
	}
}

func customer(email string) models.Customer {
	return models.Customer{FirstName: "Grace", LastName: "Hopper", Email: email, Phone: "+1 555 010 2030"}
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func adminHeaders() map[string]string {
	return map[string]string{"x-api-key": adminKey, "x-api-extra": adminExtra}
}
