package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/raspadinha/raspadinha/internal/logger"
	"github.com/raspadinha/raspadinha/internal/models"
	"github.com/raspadinha/raspadinha/internal/repository"
	"github.com/raspadinha/raspadinha/internal/repository/postgres"
	"github.com/raspadinha/raspadinha/internal/service/authtoken"
	"github.com/raspadinha/raspadinha/internal/service/deposit"
	"github.com/raspadinha/raspadinha/internal/service/gateway"
	"github.com/raspadinha/raspadinha/internal/service/ledger"
	"github.com/raspadinha/raspadinha/internal/testutil"
)

const (
	testSecretKey     = "test-secret"
	testWebhookSecret = "hook-secret"
	testAdminToken    = "operator-token"
)

// fakeGateway answers transaction calls from a fixed status map
type fakeGateway struct {
	mu       sync.Mutex
	statuses map[string]string
}

func (f *fakeGateway) CreateTransaction(_ context.Context, req gateway.CreateTransactionRequest) (gateway.Transaction, error) {
	return gateway.Transaction{
		ExternalID: req.ExternalID,
		Entity:     "00001234",
		Reference:  "9876543210",
		Status:     gateway.StatusPending,
	}, nil
}

func (f *fakeGateway) GetTransaction(_ context.Context, externalID string) (gateway.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.statuses[externalID]
	if !ok {
		return gateway.Transaction{}, gateway.NewError(gateway.CodeNotFound, 0, fmt.Errorf("no transaction %s", externalID))
	}
	return gateway.Transaction{ExternalID: externalID, Status: status}, nil
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type testApp struct {
	url      string
	tokens   *authtoken.Manager
	gateway  *fakeGateway
	storage  repository.Storage
	deposits *deposit.Service
}

func (a *testApp) authorized(t *testing.T, userID uuid.UUID, method string, path string, body string) *http.Request {
	t.Helper()

	token, err := a.tokens.Issue(userID)
	require.NoError(t, err)

	req, err := http.NewRequest(method, a.url+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	return req
}

// createPendingDeposit stores a PENDING deposit for the user
func (a *testApp) createPendingDeposit(t *testing.T, userID uuid.UUID, amount int64) models.Deposit {
	t.Helper()

	d, err := a.deposits.CreateDeposit(t.Context(), userID, decimal.NewFromInt(amount))
	require.NoError(t, err)
	return d
}

func Test_Handlers(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	adminHash, err := bcrypt.GenerateFromPassword([]byte(testAdminToken), bcrypt.MinCost)
	require.NoError(t, err)

	// Run http server with the production router over a rolled back transaction
	withApp := func(t *testing.T, fn func(app *testApp)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			gw := &fakeGateway{statuses: map[string]string{}}

			tokens, err := authtoken.New(authtoken.Config{SecretKey: testSecretKey})
			require.NoError(t, err, "token manager should be created without errors")

			ledgerService := ledger.NewService(ledger.Config{AutoCreateAccounts: true}, storage, nil, nil)
			depositService := deposit.NewService(deposit.Config{}, storage, ledgerService, gw, nil)

			mux := NewRouter(
				RouterConfig{
					WebhookSecret:  testWebhookSecret,
					AdminTokenHash: string(adminHash),
				},
				tokens,
				depositService,
				ledgerService,
				nil,
				logger.NewNoOpLogger(),
			)
			srv := httptest.NewServer(mux)
			defer srv.Close()

			fn(&testApp{
				url:      srv.URL,
				tokens:   tokens,
				gateway:  gw,
				storage:  storage,
				deposits: depositService,
			})
		})
	}

	do := func(t *testing.T, req *http.Request) (int, string) {
		t.Helper()
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		return resp.StatusCode, string(body)
	}

	t.Run("auth required", func(t *testing.T) {
		withApp(t, func(app *testApp) {
			resp, err := http.Get(app.url + "/api/user/balance")
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	})

	t.Run("create deposit", func(t *testing.T) {
		withApp(t, func(app *testApp) {
			userID := uuid.New()
			req := app.authorized(t, userID, http.MethodPost, "/api/user/deposits", `{"amount": 50}`)

			code, body := do(t, req)

			require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", body)
			assert.Contains(t, body, `"entity":"00001234"`)
			assert.Contains(t, body, `"reference":"9876543210"`)
			assert.Contains(t, body, `"externalId":"DEP_`)
		})
	})

	t.Run("create deposit invalid amount", func(t *testing.T) {
		withApp(t, func(app *testApp) {
			req := app.authorized(t, uuid.New(), http.MethodPost, "/api/user/deposits", `{"amount": -10}`)

			code, body := do(t, req)

			require.Equalf(t, http.StatusUnprocessableEntity, code, "not expected code. Body: %s", body)
		})
	})

	t.Run("webhook", func(t *testing.T) {
		t.Run("valid signature credits balance", func(t *testing.T) {
			withApp(t, func(app *testApp) {
				userID := uuid.New()
				d := app.createPendingDeposit(t, userID, 5000)

				payload := fmt.Sprintf(`{"externalId":%q,"amount":5000,"status":"SUCCESS"}`, d.ExternalID)
				req, err := http.NewRequest(http.MethodPost, app.url+"/api/webhook/payment", strings.NewReader(payload))
				require.NoError(t, err)
				req.Header.Set("X-Plinq-Signature", sign([]byte(payload), testWebhookSecret))

				code, body := do(t, req)

				require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", body)
				require.JSONEq(t, `{"message": "processed"}`, body)

				account, err := app.storage.Account().GetAccount(t.Context(), userID)
				require.NoError(t, err)
				assert.True(t, account.Balance.Equal(decimal.NewFromInt(5000)))
			})
		})

		t.Run("redelivery is acknowledged without second credit", func(t *testing.T) {
			withApp(t, func(app *testApp) {
				userID := uuid.New()
				d := app.createPendingDeposit(t, userID, 100)

				payload := fmt.Sprintf(`{"externalId":%q,"amount":100,"status":"PAID"}`, d.ExternalID)
				req := func() *http.Request {
					r, err := http.NewRequest(http.MethodPost, app.url+"/api/webhook/payment", strings.NewReader(payload))
					require.NoError(t, err)
					r.Header.Set("X-Plinq-Signature", sign([]byte(payload), testWebhookSecret))
					return r
				}

				code, body := do(t, req())
				require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", body)
				require.JSONEq(t, `{"message": "processed"}`, body)

				code, body = do(t, req())
				require.Equalf(t, http.StatusOK, code, "redelivery should still be acknowledged. Body: %s", body)
				require.JSONEq(t, `{"message": "already processed"}`, body)

				account, err := app.storage.Account().GetAccount(t.Context(), userID)
				require.NoError(t, err)
				assert.True(t, account.Balance.Equal(decimal.NewFromInt(100)), "redelivery must not credit twice")
			})
		})

		t.Run("tampered body rejected without mutation", func(t *testing.T) {
			withApp(t, func(app *testApp) {
				userID := uuid.New()
				d := app.createPendingDeposit(t, userID, 100)

				payload := fmt.Sprintf(`{"externalId":%q,"amount":100,"status":"SUCCESS"}`, d.ExternalID)
				tampered := strings.Replace(payload, `"amount":100`, `"amount":100000`, 1)

				req, err := http.NewRequest(http.MethodPost, app.url+"/api/webhook/payment", strings.NewReader(tampered))
				require.NoError(t, err)
				req.Header.Set("X-Plinq-Signature", sign([]byte(payload), testWebhookSecret))

				code, body := do(t, req)

				require.Equalf(t, http.StatusUnauthorized, code, "not expected code. Body: %s", body)

				got, err := app.storage.Deposit().GetByExternalID(t.Context(), d.ExternalID)
				require.NoError(t, err)
				assert.Equal(t, models.DepositStatusPending, got.Status, "rejected webhook must not change the deposit")

				account, err := app.storage.Account().GetAccount(t.Context(), userID)
				require.NoError(t, err)
				assert.True(t, account.Balance.IsZero(), "rejected webhook must not change the balance")
			})
		})

		t.Run("tampered malformed body rejected as unauthorized", func(t *testing.T) {
			withApp(t, func(app *testApp) {
				payload := `{"externalId":"DEP_x","amount":1,"status":"SUCCESS"}`
				// Truncation breaks both the JSON and the signature; the
				// signature verdict has to come first.
				truncated := payload[:len(payload)-5]

				req, err := http.NewRequest(http.MethodPost, app.url+"/api/webhook/payment", strings.NewReader(truncated))
				require.NoError(t, err)
				req.Header.Set("X-Plinq-Signature", sign([]byte(payload), testWebhookSecret))

				code, _ := do(t, req)

				require.Equal(t, http.StatusUnauthorized, code)
			})
		})

		t.Run("missing signature rejected", func(t *testing.T) {
			withApp(t, func(app *testApp) {
				payload := `{"externalId":"DEP_x","amount":1,"status":"SUCCESS"}`
				req, err := http.NewRequest(http.MethodPost, app.url+"/api/webhook/payment", strings.NewReader(payload))
				require.NoError(t, err)

				code, _ := do(t, req)

				require.Equal(t, http.StatusUnauthorized, code)
			})
		})

		t.Run("legacy externId field accepted", func(t *testing.T) {
			withApp(t, func(app *testApp) {
				userID := uuid.New()
				d := app.createPendingDeposit(t, userID, 40)

				payload := fmt.Sprintf(`{"externId":%q,"status":"SUCCESS"}`, d.ExternalID)
				req, err := http.NewRequest(http.MethodPost, app.url+"/api/webhook/payment", strings.NewReader(payload))
				require.NoError(t, err)
				req.Header.Set("X-Plinq-Signature", sign([]byte(payload), testWebhookSecret))

				code, body := do(t, req)

				require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", body)

				account, err := app.storage.Account().GetAccount(t.Context(), userID)
				require.NoError(t, err)
				assert.True(t, account.Balance.Equal(decimal.NewFromInt(40)))
			})
		})

		t.Run("unknown deposit", func(t *testing.T) {
			withApp(t, func(app *testApp) {
				payload := `{"externalId":"DEP_unknown","amount":1,"status":"SUCCESS"}`
				req, err := http.NewRequest(http.MethodPost, app.url+"/api/webhook/payment", strings.NewReader(payload))
				require.NoError(t, err)
				req.Header.Set("X-Plinq-Signature", sign([]byte(payload), testWebhookSecret))

				code, _ := do(t, req)

				require.Equal(t, http.StatusNotFound, code)
			})
		})

		t.Run("intermediate status ignored", func(t *testing.T) {
			withApp(t, func(app *testApp) {
				userID := uuid.New()
				d := app.createPendingDeposit(t, userID, 10)

				payload := fmt.Sprintf(`{"externalId":%q,"status":"PROCESSING"}`, d.ExternalID)
				req, err := http.NewRequest(http.MethodPost, app.url+"/api/webhook/payment", strings.NewReader(payload))
				require.NoError(t, err)
				req.Header.Set("X-Plinq-Signature", sign([]byte(payload), testWebhookSecret))

				code, body := do(t, req)

				require.Equal(t, http.StatusOK, code)
				require.JSONEq(t, `{"message": "ignored"}`, body)

				got, err := app.storage.Deposit().GetByExternalID(t.Context(), d.ExternalID)
				require.NoError(t, err)
				assert.Equal(t, models.DepositStatusPending, got.Status)
			})
		})

		t.Run("late failure never claws back a credit", func(t *testing.T) {
			withApp(t, func(app *testApp) {
				userID := uuid.New()
				d := app.createPendingDeposit(t, userID, 60)

				_, err := app.deposits.ConfirmPaid(t.Context(), d.ExternalID, deposit.PathManual)
				require.NoError(t, err)

				payload := fmt.Sprintf(`{"externalId":%q,"status":"EXPIRED"}`, d.ExternalID)
				req, err := http.NewRequest(http.MethodPost, app.url+"/api/webhook/payment", strings.NewReader(payload))
				require.NoError(t, err)
				req.Header.Set("X-Plinq-Signature", sign([]byte(payload), testWebhookSecret))

				code, _ := do(t, req)
				require.Equal(t, http.StatusOK, code)

				account, err := app.storage.Account().GetAccount(t.Context(), userID)
				require.NoError(t, err)
				assert.True(t, account.Balance.Equal(decimal.NewFromInt(60)), "credited balance must stay")

				got, err := app.storage.Deposit().GetByExternalID(t.Context(), d.ExternalID)
				require.NoError(t, err)
				assert.Equal(t, models.DepositStatusPaid, got.Status)
			})
		})

		t.Run("paid notification for a rejected deposit is acknowledged", func(t *testing.T) {
			withApp(t, func(app *testApp) {
				userID := uuid.New()
				d := app.createPendingDeposit(t, userID, 80)

				_, err := app.deposits.Fail(t.Context(), d.ExternalID)
				require.NoError(t, err)

				payload := fmt.Sprintf(`{"externalId":%q,"status":"SUCCESS"}`, d.ExternalID)
				req, err := http.NewRequest(http.MethodPost, app.url+"/api/webhook/payment", strings.NewReader(payload))
				require.NoError(t, err)
				req.Header.Set("X-Plinq-Signature", sign([]byte(payload), testWebhookSecret))

				code, body := do(t, req)

				require.Equalf(t, http.StatusOK, code, "a retry can never succeed, the provider must stop. Body: %s", body)
				require.JSONEq(t, `{"message": "conflict"}`, body)

				got, err := app.storage.Deposit().GetByExternalID(t.Context(), d.ExternalID)
				require.NoError(t, err)
				assert.Equal(t, models.DepositStatusFailed, got.Status)

				account, err := app.storage.Account().GetAccount(t.Context(), userID)
				require.NoError(t, err)
				assert.True(t, account.Balance.IsZero(), "a rejected deposit must never credit")
			})
		})
	})

	t.Run("check deposits", func(t *testing.T) {
		withApp(t, func(app *testApp) {
			userID := uuid.New()
			d := app.createPendingDeposit(t, userID, 20)
			app.gateway.statuses[d.ExternalID] = gateway.StatusSuccess

			req := app.authorized(t, userID, http.MethodPost, "/api/user/deposits/check", "")

			code, body := do(t, req)

			require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", body)
			require.JSONEq(t, `{"processed": 1}`, body)

			// Nothing left to process on the second call
			code, body = do(t, app.authorized(t, userID, http.MethodPost, "/api/user/deposits/check", ""))
			require.Equal(t, http.StatusOK, code)
			require.JSONEq(t, `{"processed": 0}`, body)
		})
	})

	t.Run("list deposits", func(t *testing.T) {
		withApp(t, func(app *testApp) {
			userID := uuid.New()
			app.createPendingDeposit(t, userID, 15)

			req := app.authorized(t, userID, http.MethodGet, "/api/user/deposits", "")

			code, body := do(t, req)

			require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", body)
			assert.Contains(t, body, `"status":"PENDING"`)
			assert.Contains(t, body, `"amount":15`)
		})
	})

	t.Run("balance and spend", func(t *testing.T) {
		withApp(t, func(app *testApp) {
			userID := uuid.New()
			d := app.createPendingDeposit(t, userID, 100)
			_, err := app.deposits.ConfirmPaid(t.Context(), d.ExternalID, deposit.PathManual)
			require.NoError(t, err)

			code, body := do(t, app.authorized(t, userID, http.MethodGet, "/api/user/balance", ""))
			require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", body)
			require.JSONEq(t, `{"balance": 100, "verified": false}`, body)

			code, body = do(t, app.authorized(t, userID, http.MethodPost, "/api/user/balance/spend", `{"amount": 30}`))
			require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", body)
			require.JSONEq(t, `{"balance": 70}`, body)

			code, _ = do(t, app.authorized(t, userID, http.MethodPost, "/api/user/balance/spend", `{"amount": 1000}`))
			require.Equal(t, http.StatusPaymentRequired, code, "overspend should be rejected")
		})
	})

	t.Run("admin", func(t *testing.T) {
		t.Run("approve without token", func(t *testing.T) {
			withApp(t, func(app *testApp) {
				req, err := http.NewRequest(http.MethodPost, app.url+"/api/admin/deposits/DEP_x/approve", nil)
				require.NoError(t, err)

				code, _ := do(t, req)

				require.Equal(t, http.StatusUnauthorized, code)
			})
		})

		t.Run("approve credits the deposit", func(t *testing.T) {
			withApp(t, func(app *testApp) {
				userID := uuid.New()
				d := app.createPendingDeposit(t, userID, 200)

				req, err := http.NewRequest(http.MethodPost, app.url+"/api/admin/deposits/"+d.ExternalID+"/approve", nil)
				require.NoError(t, err)
				req.Header.Set("X-Admin-Token", testAdminToken)

				code, body := do(t, req)

				require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", body)
				require.JSONEq(t, `{"status": "PAID"}`, body)

				account, err := app.storage.Account().GetAccount(t.Context(), userID)
				require.NoError(t, err)
				assert.True(t, account.Balance.Equal(decimal.NewFromInt(200)))
			})
		})

		t.Run("reject paid deposit conflicts", func(t *testing.T) {
			withApp(t, func(app *testApp) {
				userID := uuid.New()
				d := app.createPendingDeposit(t, userID, 10)
				_, err := app.deposits.ConfirmPaid(t.Context(), d.ExternalID, deposit.PathManual)
				require.NoError(t, err)

				req, err := http.NewRequest(http.MethodPost, app.url+"/api/admin/deposits/"+d.ExternalID+"/reject", nil)
				require.NoError(t, err)
				req.Header.Set("X-Admin-Token", testAdminToken)

				code, _ := do(t, req)

				require.Equal(t, http.StatusConflict, code)
			})
		})
	})
}
