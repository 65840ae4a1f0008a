package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/apexlabs-backend/internal/orders"
	"github.com/angelmondragon/apexlabs-backend/pkg/config"
	"github.com/angelmondragon/apexlabs-backend/pkg/outbox"
	"github.com/angelmondragon/apexlabs-backend/pkg/security"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.App.Env = config.AppEnvDev
	cfg.DB.Driver = config.DBDriverSQLite
	cfg.DB.SQLitePath = filepath.Join(dir, "orders.db")
	cfg.DB.WriteTimeout = 5 * time.Second
	cfg.Outbox.FilePath = filepath.Join(dir, "pending-orders.json")
	cfg.Password = config.PasswordConfig{ArgonMemoryKB: 1024, ArgonTime: 1, ArgonParallelism: 1, ArgonSaltLen: 16, ArgonKeyLen: 32}
	cfg.Viewer.PollInterval = time.Minute
	return cfg
}

func run(t *testing.T, cfg *config.Config, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommandWith(&RootOptions{LoadConfig: func() (*config.Config, error) { return cfg, nil }})
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func queueOrder(t *testing.T, cfg *config.Config, number string) {
	t.Helper()
	q, err := openQueue(cfg)
	require.NoError(t, err)
	payload := orders.OrderPayload{
		Email: "ada@example.com",
		Shipping: orders.ShippingPayload{
			FirstName: "Ada", LastName: "Lovelace", Address1: "1 Analytical St",
			Suburb: "Brisbane", State: "QLD", Postcode: "4000",
		},
		PaymentMethod: "bank_transfer",
		Items:         []orders.ItemPayload{{ProductID: "bpc-157", Name: "BPC-157", Price: decimal.NewFromInt(90), Quantity: 2}},
		Subtotal:      decimal.NewFromInt(180),
		Total:         decimal.NewFromInt(180),
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, q.Append(context.Background(), outbox.Entry{OrderNumber: number, Payload: raw}))
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "orderctl", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{
		{"pending"}, {"sync-pending"}, {"store-status"}, {"hash-password"}, {"watch"},
		{"migrate", "up"}, {"migrate", "down"}, {"migrate", "status"}, {"migrate", "version"},
		{"migrate", "create"}, {"migrate", "validate"},
	} {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			sub, _, err := cmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	syncCmd, _, err := cmd.Find([]string{"sync-pending"})
	require.NoError(t, err)
	lockFlag := syncCmd.Flags().Lookup("lock")
	require.NotNil(t, lockFlag)
	assert.Equal(t, "true", lockFlag.DefValue)
}

func TestInvalidFormatRejected(t *testing.T) {
	_, err := run(t, testConfig(t), "", "pending", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestPendingListsQueuedOrders(t *testing.T) {
	cfg := testConfig(t)

	out, err := run(t, cfg, "", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "no pending orders")

	queueOrder(t, cfg, "10001")
	queueOrder(t, cfg, "10002")

	out, err = run(t, cfg, "", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "ORDER")
	assert.Contains(t, out, "10001")
	assert.Contains(t, out, "10002")

	out, err = run(t, cfg, "", "pending", "--format", "json")
	require.NoError(t, err)
	var decoded struct {
		Entries []outbox.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded.Entries, 2)
	assert.Equal(t, "10001", decoded.Entries[0].OrderNumber)
}

func TestSyncPendingDrainsIntoSQLite(t *testing.T) {
	cfg := testConfig(t)
	queueOrder(t, cfg, "10001")

	out, err := run(t, cfg, "", "sync-pending", "--lock=false", "--format", "json")
	require.NoError(t, err)

	var report struct {
		Synced    int `json:"synced"`
		Remaining int `json:"remaining"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 0, report.Remaining)

	out, err = run(t, cfg, "", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "no pending orders")
}

func TestStoreStatusReportsDepth(t *testing.T) {
	cfg := testConfig(t)
	queueOrder(t, cfg, "10001")

	out, err := run(t, cfg, "", "store-status", "--format", "json")
	require.NoError(t, err)
	var status storeStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.True(t, status.OK)
	assert.Equal(t, 1, status.OutboxDepth)
}

func TestStoreStatusFailsWhenStoreMisconfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.DB.Driver = "mysql"

	out, err := run(t, cfg, "", "store-status")
	require.Error(t, err)
	assert.Contains(t, out, "store unavailable")
}

func TestHashPasswordFromStdin(t *testing.T) {
	out, err := run(t, testConfig(t), "hunter2\n", "hash-password")
	require.NoError(t, err)

	hash := strings.TrimSpace(out)
	ok, err := security.VerifyPassword("hunter2", hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	_, err := run(t, testConfig(t), "\n", "hash-password")
	require.Error(t, err)
}

func TestWatchOnceRendersOrders(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/api/admin/orders" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"orders":[{"order_number":"10001","status":"paid","email":"ada@example.com","total":"180","created_at":"2026-01-05T09:00:00Z"}]}}`))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	out, err := run(t, cfg, "", "watch", "--once", "--url", srv.URL, "--token", "tok")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Contains(t, out, "-- 1 orders --")
	assert.Contains(t, out, "10001")
	assert.Contains(t, out, "180.00")
}

func TestWatchRequiresToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Viewer.BaseURL = "http://localhost:8080"
	_, err := run(t, cfg, "", "watch", "--once")
	require.Error(t, err)
}

func TestMigrateCreateAndValidate(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)

	out, err := run(t, cfg, "", "migrate", "create", "add order notes", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "created migration:")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	out, err = run(t, cfg, "", "migrate", "validate", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "validation passed")
}

func TestMigrateUpRefusesSQLite(t *testing.T) {
	_, err := run(t, testConfig(t), "", "migrate", "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}
