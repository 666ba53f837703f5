package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/jobsettle/internal/auth"
	"github.com/mmynk/jobsettle/internal/models"
	"github.com/mmynk/jobsettle/internal/storage"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// AccountIDKey is the context key for the authenticated account ID.
	AccountIDKey contextKey = "account_id"
	// accountSlotKey lets LoggingInterceptor see the ID resolved further in.
	accountSlotKey contextKey = "account_slot"
)

// ProfileHeader carries the requester's account ID in header auth mode.
const ProfileHeader = "profile_id"

var ErrUnknownProfile = errors.New("unknown profile")

// GetAccountID extracts the account ID from the context.
// Returns empty string if not found.
func GetAccountID(ctx context.Context) string {
	accountID, _ := ctx.Value(AccountIDKey).(string)
	return accountID
}

// WithAccountID returns a copy of ctx carrying accountID.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	if slot, ok := ctx.Value(accountSlotKey).(*string); ok {
		*slot = accountID
	}
	return context.WithValue(ctx, AccountIDKey, accountID)
}

// RequireAuth returns a middleware that validates JWT tokens and requires authentication.
// It extracts the token from the Authorization header, validates it, and adds
// the account ID to the request context.
func RequireAuth(jwtManager *auth.JWTManager) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			authHeader := req.Header().Get("Authorization")
			if authHeader == "" {
				return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrMissingToken)
			}

			// Parse Bearer token
			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || scheme != "Bearer" || token == "" {
				return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrInvalidToken)
			}

			claims, err := jwtManager.Validate(token)
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}

			return next(WithAccountID(ctx, claims.AccountID), req)
		}
	}
}

// AccountLookup resolves an account by ID.
type AccountLookup interface {
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
}

// RequireProfile returns a middleware that reads the requester from the
// profile_id header and verifies the account exists.
func RequireProfile(accounts AccountLookup) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			profileID := strings.TrimSpace(req.Header().Get(ProfileHeader))
			if profileID == "" {
				return nil, connect.NewError(connect.CodeUnauthenticated, fmt.Errorf("%s header required", ProfileHeader))
			}

			account, err := accounts.GetAccount(ctx, profileID)
			if errors.Is(err, storage.ErrNotFound) {
				return nil, connect.NewError(connect.CodeUnauthenticated, ErrUnknownProfile)
			}
			if err != nil {
				return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("failed to resolve profile: %w", err))
			}

			return next(WithAccountID(ctx, account.ID), req)
		}
	}
}
