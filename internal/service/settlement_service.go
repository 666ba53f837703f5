package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/jobsettle/internal/middleware"
	"github.com/mmynk/jobsettle/internal/models"
	"github.com/mmynk/jobsettle/internal/settlement"
	"github.com/mmynk/jobsettle/pkg/api"
	"github.com/mmynk/jobsettle/pkg/api/apiconnect"
)

var _ apiconnect.SettlementServiceHandler = (*SettlementService)(nil)

// Settler pays for a work unit on behalf of an account.
type Settler interface {
	Settle(ctx context.Context, workUnitID, requesterID string) (*models.Receipt, error)
}

// SettlementService implements the Connect SettlementService
type SettlementService struct {
	apiconnect.UnimplementedSettlementServiceHandler
	settler Settler
}

// NewSettlementService creates a SettlementService backed by settler,
// usually a *settlement.Engine.
func NewSettlementService(settler Settler) *SettlementService {
	return &SettlementService{settler: settler}
}

// Settle pays for the requested work unit as the authenticated account.
func (s *SettlementService) Settle(ctx context.Context, req *connect.Request[api.SettleRequest]) (*connect.Response[api.SettleResponse], error) {
	accountID := middleware.GetAccountID(ctx)
	if accountID == "" {
		return nil, connect.NewError(connect.CodeUnauthenticated, fmt.Errorf("authentication required"))
	}

	workUnitID := strings.TrimSpace(req.Msg.WorkUnitID)
	if workUnitID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("work_unit_id required"))
	}

	receipt, err := s.settler.Settle(ctx, workUnitID, accountID)
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&api.SettleResponse{Receipt: toAPIReceipt(receipt)}), nil
}

// toConnectError maps settlement outcomes to Connect codes. Causes of
// failed settlements stay in the server log.
func toConnectError(err error) *connect.Error {
	switch {
	case errors.Is(err, settlement.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, settlement.ErrNotFound)
	case errors.Is(err, settlement.ErrForbidden):
		return connect.NewError(connect.CodePermissionDenied, settlement.ErrForbidden)
	case errors.Is(err, settlement.ErrAlreadyPaid):
		return connect.NewError(connect.CodeAlreadyExists, settlement.ErrAlreadyPaid)
	case errors.Is(err, settlement.ErrInsufficientFunds):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, settlement.ErrBusy):
		return connect.NewError(connect.CodeUnavailable, settlement.ErrBusy)
	default:
		return connect.NewError(connect.CodeInternal, settlement.ErrSettlementFailed)
	}
}

func toAPIReceipt(r *models.Receipt) *api.Receipt {
	return &api.Receipt{
		WorkUnitID:       r.WorkUnitID,
		AgreementID:      r.AgreementID,
		PayingAccountID:  r.PayingAccountID,
		EarningAccountID: r.EarningAccountID,
		Amount:           r.Amount.StringFixed(2),
		AgreementStatus:  string(r.AgreementStatus),
		PaidAt:           r.PaidAt.UnixMilli(),
	}
}
