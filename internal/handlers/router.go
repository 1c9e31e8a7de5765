package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/opensharehq/pointsledger/internal/handlers/middleware"
	"github.com/opensharehq/pointsledger/internal/logger"
	"github.com/opensharehq/pointsledger/internal/models"
	"github.com/opensharehq/pointsledger/internal/repository"
	"github.com/opensharehq/pointsledger/internal/service/allocator"
	"github.com/opensharehq/pointsledger/internal/service/ledger"
	"github.com/opensharehq/pointsledger/internal/service/withdrawal"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	secretKey string,
	ledgerService ledgerService,
	withdrawalService withdrawalService,
	contractService contractService,
	allocatorService allocatorService,
	logger logger.Logger,
) http.Handler {
	authMiddleware := middleware.AuthMiddleware(secretKey)
	withAuth := func(h http.Handler) http.Handler {
		return authMiddleware(h)
	}
	withOperator := func(h http.Handler) http.Handler {
		return authMiddleware(middleware.RequireOperator(h))
	}

	root := http.NewServeMux()

	root.Handle("POST /api/ledger/grant", withOperator(handleGrant(ledgerService, logger)))
	root.Handle("POST /api/ledger/spend", withAuth(handleSpend(ledgerService, logger)))
	root.Handle("GET /api/ledger/balance", withAuth(handleBalance(ledgerService, logger)))
	root.Handle("GET /api/ledger/transactions", withAuth(handleListTransactions(ledgerService, logger)))
	root.Handle("GET /api/ledger/trend", withAuth(handleTrend(ledgerService, logger)))

	root.Handle("POST /api/withdrawals", withAuth(handleSubmitWithdrawal(withdrawalService, logger)))
	root.Handle("GET /api/withdrawals", withAuth(handleListWithdrawals(withdrawalService, logger)))
	root.Handle("GET /api/withdrawals/{id}", withAuth(handleGetWithdrawal(withdrawalService, logger)))
	root.Handle("POST /api/withdrawals/{id}/cancel", withAuth(handleCancelWithdrawal(withdrawalService, logger)))
	root.Handle("POST /api/withdrawals/{id}/approve", withOperator(handleApproveWithdrawal(withdrawalService, logger)))
	root.Handle("POST /api/withdrawals/{id}/reject", withOperator(handleRejectWithdrawal(withdrawalService, logger)))
	root.Handle("POST /api/withdrawals/{id}/complete", withOperator(handleCompleteWithdrawal(withdrawalService, logger)))

	root.Handle("GET /api/contract", withAuth(handleContractStatus(contractService, logger)))
	root.Handle("POST /api/contract/revoke", withOperator(handleContractRevoke(contractService, logger)))

	root.Handle("POST /api/allocations/preview", withOperator(handleAllocationPreview(logger)))
	root.Handle("POST /api/allocations/execute", withOperator(handleAllocationExecute(allocatorService, logger)))

	// The signature provider calls back without our tokens
	root.Handle("POST /webhooks/contract", handleContractWebhook(contractService, logger))

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type ledgerService interface {
	Grant(ctx context.Context, p ledger.GrantParams) (models.Lot, error)
	Spend(ctx context.Context, p ledger.SpendParams) (models.Transaction, error)
	Balance(ctx context.Context, owner models.Owner) (ledger.Balance, error)
	AvailableBalance(ctx context.Context, owner models.Owner, tag string) (int64, error)
	ListTransactions(ctx context.Context, owner models.Owner, opts repository.ListTransactionsOpts) ([]models.Transaction, error)
	TrendSeries(ctx context.Context, owner models.Owner, tag string, start, end time.Time) ([]ledger.TrendPoint, error)
}

type withdrawalService interface {
	Submit(ctx context.Context, p withdrawal.SubmitParams) (models.WithdrawalRequest, error)
	Cancel(ctx context.Context, owner models.Owner, id uuid.UUID) (models.WithdrawalRequest, error)
	Approve(ctx context.Context, id uuid.UUID, note string) (models.WithdrawalRequest, error)
	Reject(ctx context.Context, id uuid.UUID, note string) (models.WithdrawalRequest, error)
	Complete(ctx context.Context, id uuid.UUID, note string) (models.WithdrawalRequest, error)
	Get(ctx context.Context, owner models.Owner, id uuid.UUID) (models.WithdrawalRequest, error)
	List(ctx context.Context, owner models.Owner, statuses []string) ([]models.WithdrawalRequest, error)
}

type contractService interface {
	Status(ctx context.Context, owner models.Owner) (models.WithdrawalContract, error)
	MarkSigned(ctx context.Context, flowID string, source string, signedAt time.Time) (models.WithdrawalContract, error)
	Revoke(ctx context.Context, owner models.Owner) (models.WithdrawalContract, error)
}

type allocatorService interface {
	Execute(ctx context.Context, p allocator.ExecuteParams) allocator.Result
}
