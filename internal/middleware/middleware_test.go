package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/mmynk/jobsettle/internal/auth"
	"github.com/mmynk/jobsettle/internal/models"
	"github.com/mmynk/jobsettle/internal/storage"
	"github.com/mmynk/jobsettle/pkg/api"
	"github.com/mmynk/jobsettle/pkg/api/apiconnect"
)

// whoami echoes the authenticated account as the paying account.
type whoami struct{}

func (whoami) Settle(ctx context.Context, req *connect.Request[api.SettleRequest]) (*connect.Response[api.SettleResponse], error) {
	return connect.NewResponse(&api.SettleResponse{Receipt: &api.Receipt{
		WorkUnitID:      req.Msg.WorkUnitID,
		PayingAccountID: GetAccountID(ctx),
	}}), nil
}

type fakeAccounts map[string]error

func (f fakeAccounts) GetAccount(_ context.Context, id string) (*models.Account, error) {
	err, ok := f[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &models.Account{ID: id}, nil
}

func newClient(t *testing.T, interceptors ...connect.Interceptor) apiconnect.SettlementServiceClient {
	t.Helper()
	path, handler := apiconnect.NewSettlementServiceHandler(whoami{}, connect.WithInterceptors(interceptors...))
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return apiconnect.NewSettlementServiceClient(http.DefaultClient, server.URL)
}

func call(client apiconnect.SettlementServiceClient, header, value string) (*connect.Response[api.SettleResponse], error) {
	req := connect.NewRequest(&api.SettleRequest{WorkUnitID: "wu-1"})
	if header != "" {
		req.Header().Set(header, value)
	}
	return client.Settle(context.Background(), req)
}

func TestRequireProfile(t *testing.T) {
	accounts := fakeAccounts{"alice": nil, "broken": errors.New("db down")}
	client := newClient(t, RequireProfile(accounts))

	resp, err := call(client, ProfileHeader, "alice")
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if got := resp.Msg.Receipt.PayingAccountID; got != "alice" {
		t.Errorf("expected account alice in context, got %q", got)
	}

	tests := []struct {
		name  string
		value string
		want  connect.Code
	}{
		{"missing", "", connect.CodeUnauthenticated},
		{"unknown", "mallory", connect.CodeUnauthenticated},
		{"lookup failure", "broken", connect.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := ProfileHeader
			if tt.value == "" {
				header = ""
			}
			_, err := call(client, header, tt.value)
			if code := connect.CodeOf(err); code != tt.want {
				t.Errorf("expected %v, got %v (%v)", tt.want, code, err)
			}
		})
	}
}

func TestRequireAuth(t *testing.T) {
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	client := newClient(t, RequireAuth(jwtManager))

	token, err := jwtManager.Generate("alice")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	resp, err := call(client, "Authorization", "Bearer "+token)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if got := resp.Msg.Receipt.PayingAccountID; got != "alice" {
		t.Errorf("expected account alice in context, got %q", got)
	}

	for name, value := range map[string]string{
		"missing":      "",
		"wrong scheme": "Basic " + token,
		"no token":     "Bearer",
		"bad token":    "Bearer nope",
	} {
		t.Run(name, func(t *testing.T) {
			header := "Authorization"
			if value == "" {
				header = ""
			}
			_, err := call(client, header, value)
			if code := connect.CodeOf(err); code != connect.CodeUnauthenticated {
				t.Errorf("expected unauthenticated, got %v (%v)", code, err)
			}
		})
	}
}

func TestLoggingInterceptor(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	client := newClient(t, LoggingInterceptor(logger), RequireProfile(fakeAccounts{"alice": nil}))

	if _, err := call(client, ProfileHeader, "alice"); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	_, _ = call(client, ProfileHeader, "mallory")

	out := buf.String()
	if !strings.Contains(out, "RPC ok") || !strings.Contains(out, "account_id=alice") {
		t.Errorf("missing success line with account id: %q", out)
	}
	if !strings.Contains(out, "RPC error") || !strings.Contains(out, "code=unauthenticated") {
		t.Errorf("missing rejection line: %q", out)
	}
	if !strings.Contains(out, apiconnect.SettlementServiceSettleProcedure) {
		t.Errorf("missing procedure: %q", out)
	}
}
