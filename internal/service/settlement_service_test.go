package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/shopspring/decimal"

	"github.com/mmynk/jobsettle/internal/auth"
	"github.com/mmynk/jobsettle/internal/middleware"
	"github.com/mmynk/jobsettle/internal/models"
	"github.com/mmynk/jobsettle/internal/settlement"
	"github.com/mmynk/jobsettle/internal/storage/sqlite"
	"github.com/mmynk/jobsettle/pkg/api"
	"github.com/mmynk/jobsettle/pkg/api/apiconnect"
)

type fixture struct {
	store      *sqlite.SQLiteStore
	client     *models.Account
	contractor *models.Account
	workUnit   *models.WorkUnit
}

func newFixture(t *testing.T, balance, price string) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store: store,
		client: &models.Account{FirstName: "Harry", LastName: "Potter", Profession: "Wizard",
			Kind: models.AccountKindClient, Balance: decimal.RequireFromString(balance)},
		contractor: &models.Account{FirstName: "Aragorn", LastName: "II Elessar", Profession: "Fighter",
			Kind: models.AccountKindContractor},
	}
	for _, a := range []*models.Account{f.client, f.contractor} {
		if err := store.CreateAccount(ctx, a); err != nil {
			t.Fatalf("CreateAccount failed: %v", err)
		}
	}
	agreement := &models.Agreement{Terms: "bla bla bla", PayingAccountID: f.client.ID, EarningAccountID: f.contractor.ID}
	if err := store.CreateAgreement(ctx, agreement); err != nil {
		t.Fatalf("CreateAgreement failed: %v", err)
	}
	f.workUnit = &models.WorkUnit{AgreementID: agreement.ID, Description: "work", Price: decimal.RequireFromString(price)}
	if err := store.CreateWorkUnit(ctx, f.workUnit); err != nil {
		t.Fatalf("CreateWorkUnit failed: %v", err)
	}
	return f
}

// setupTestServer serves a SettlementService with the given interceptors and
// returns a client for it.
func setupTestServer(t *testing.T, settler Settler, interceptors ...connect.Interceptor) apiconnect.SettlementServiceClient {
	t.Helper()

	path, handler := apiconnect.NewSettlementServiceHandler(
		NewSettlementService(settler),
		connect.WithInterceptors(interceptors...),
	)
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return apiconnect.NewSettlementServiceClient(http.DefaultClient, server.URL)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func settleAs(client apiconnect.SettlementServiceClient, profileID, workUnitID string) (*connect.Response[api.SettleResponse], error) {
	req := connect.NewRequest(&api.SettleRequest{WorkUnitID: workUnitID})
	if profileID != "" {
		req.Header().Set(middleware.ProfileHeader, profileID)
	}
	return client.Settle(context.Background(), req)
}

func TestSettle_OverConnect(t *testing.T) {
	f := newFixture(t, "100", "40")
	engine := settlement.New(f.store, settlement.WithLogger(quietLogger()))
	client := setupTestServer(t, engine,
		middleware.LoggingInterceptor(quietLogger()),
		middleware.RequireProfile(f.store),
	)

	resp, err := settleAs(client, f.client.ID, f.workUnit.ID)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}

	r := resp.Msg.Receipt
	if r == nil {
		t.Fatal("expected receipt")
	}
	if r.WorkUnitID != f.workUnit.ID || r.PayingAccountID != f.client.ID || r.EarningAccountID != f.contractor.ID {
		t.Errorf("receipt parties mismatch: %+v", r)
	}
	if r.Amount != "40.00" {
		t.Errorf("expected amount 40.00, got %s", r.Amount)
	}
	if r.AgreementStatus != string(models.AgreementTerminated) {
		t.Errorf("expected terminated agreement, got %s", r.AgreementStatus)
	}
	if r.PaidAt == 0 {
		t.Error("expected paid_at to be set")
	}

	got, err := f.store.GetAccount(context.Background(), f.client.ID)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if !got.Balance.Equal(decimal.NewFromInt(60)) {
		t.Errorf("expected client balance 60, got %s", got.Balance)
	}

	// Settling again is a business rejection, not a server error.
	_, err = settleAs(client, f.client.ID, f.workUnit.ID)
	if code := connect.CodeOf(err); code != connect.CodeAlreadyExists {
		t.Errorf("expected already_exists on second settle, got %v (%v)", code, err)
	}
}

func TestSettle_ErrorCodes(t *testing.T) {
	f := newFixture(t, "30", "40")
	engine := settlement.New(f.store, settlement.WithLogger(quietLogger()))
	client := setupTestServer(t, engine, middleware.RequireProfile(f.store))

	tests := []struct {
		name       string
		profileID  string
		workUnitID string
		want       connect.Code
	}{
		{"missing profile", "", f.workUnit.ID, connect.CodeUnauthenticated},
		{"unknown profile", "ghost", f.workUnit.ID, connect.CodeUnauthenticated},
		{"empty work unit", f.client.ID, "  ", connect.CodeInvalidArgument},
		{"unknown work unit", f.client.ID, "missing", connect.CodeNotFound},
		{"contractor cannot pay", f.contractor.ID, f.workUnit.ID, connect.CodePermissionDenied},
		{"insufficient funds", f.client.ID, f.workUnit.ID, connect.CodeFailedPrecondition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := settleAs(client, tt.profileID, tt.workUnitID)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if code := connect.CodeOf(err); code != tt.want {
				t.Errorf("expected code %v, got %v (%v)", tt.want, code, err)
			}
		})
	}

	wu, err := f.store.GetWorkUnit(context.Background(), f.workUnit.ID)
	if err != nil {
		t.Fatalf("GetWorkUnit failed: %v", err)
	}
	if wu.Paid {
		t.Error("work unit must stay unpaid after rejected calls")
	}
}

// stubSettler returns a fixed error.
type stubSettler struct{ err error }

func (s stubSettler) Settle(context.Context, string, string) (*models.Receipt, error) {
	return nil, s.err
}

func TestSettle_TransientAndFailed(t *testing.T) {
	asAlice := connect.UnaryInterceptorFunc(func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			return next(middleware.WithAccountID(ctx, "alice"), req)
		}
	})

	t.Run("busy is unavailable", func(t *testing.T) {
		client := setupTestServer(t, stubSettler{err: fmt.Errorf("%w: held", settlement.ErrBusy)}, asAlice)
		_, err := settleAs(client, "", "wu")
		if code := connect.CodeOf(err); code != connect.CodeUnavailable {
			t.Errorf("expected unavailable, got %v", code)
		}
	})

	t.Run("failure hides the cause", func(t *testing.T) {
		cause := errors.New("disk on fire")
		client := setupTestServer(t, stubSettler{err: fmt.Errorf("%w: %w", settlement.ErrSettlementFailed, cause)}, asAlice)
		_, err := settleAs(client, "", "wu")

		var connectErr *connect.Error
		if !errors.As(err, &connectErr) {
			t.Fatalf("expected connect error, got %v", err)
		}
		if connectErr.Code() != connect.CodeInternal {
			t.Errorf("expected internal, got %v", connectErr.Code())
		}
		if connectErr.Message() != settlement.ErrSettlementFailed.Error() {
			t.Errorf("expected generic message, got %q", connectErr.Message())
		}
	})
}

func TestSettle_JWTAuth(t *testing.T) {
	f := newFixture(t, "100", "40")
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	engine := settlement.New(f.store, settlement.WithLogger(quietLogger()))
	client := setupTestServer(t, engine, middleware.RequireAuth(jwtManager))

	token, err := jwtManager.Generate(f.client.ID)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	req := connect.NewRequest(&api.SettleRequest{WorkUnitID: f.workUnit.ID})
	req.Header().Set("Authorization", "Bearer "+token)
	if _, err := client.Settle(context.Background(), req); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}

	req = connect.NewRequest(&api.SettleRequest{WorkUnitID: f.workUnit.ID})
	_, err = client.Settle(context.Background(), req)
	if code := connect.CodeOf(err); code != connect.CodeUnauthenticated {
		t.Errorf("expected unauthenticated without token, got %v", code)
	}
}
