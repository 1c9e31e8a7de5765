package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/opensharehq/pointsledger/internal/apperrors"
	"github.com/opensharehq/pointsledger/internal/handlers/ownerctx"
	"github.com/opensharehq/pointsledger/internal/handlers/render"
	"github.com/opensharehq/pointsledger/internal/logger"
	"github.com/opensharehq/pointsledger/internal/models"
	"github.com/opensharehq/pointsledger/internal/service/withdrawal"
)

type withdrawalResponse struct {
	ID          uuid.UUID  `json:"id"`
	Points      int64      `json:"points"`
	Status      string     `json:"status"`
	BankName    string     `json:"bank_name"`
	BankAccount string     `json:"bank_account"`
	AdminNote   string     `json:"admin_note,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toWithdrawalResponse(w models.WithdrawalRequest) withdrawalResponse {
	return withdrawalResponse{
		ID:          w.ID,
		Points:      w.Points,
		Status:      w.Status,
		BankName:    w.Payout.BankName,
		BankAccount: maskAccount(w.Payout.BankAccount),
		AdminNote:   w.AdminNote,
		ProcessedAt: w.ProcessedAt,
		CreatedAt:   w.CreatedAt,
	}
}

// maskAccount keeps the last four digits visible
func maskAccount(account string) string {
	if len(account) <= 4 {
		return account
	}
	masked := make([]byte, len(account))
	for i := range masked {
		if i < len(account)-4 {
			masked[i] = '*'
		} else {
			masked[i] = account[i]
		}
	}
	return string(masked)
}

func handleSubmitWithdrawal(ws withdrawalService, l logger.Logger) http.Handler {
	type request struct {
		Points      int64  `json:"points" validate:"required,gt=0"`
		Tag         string `json:"tag"`
		RealName    string `json:"real_name" validate:"required"`
		IDNumber    string `json:"id_number" validate:"required,idnumber"`
		Phone       string `json:"phone" validate:"required,cnphone"`
		BankName    string `json:"bank_name" validate:"required"`
		BankAccount string `json:"bank_account" validate:"required,bankaccount"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := ownerctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		wr, err := ws.Submit(r.Context(), withdrawal.SubmitParams{
			Owner:  principal.Owner,
			Points: req.Points,
			Tag:    req.Tag,
			Payout: models.PayoutDetails{
				RealName:    req.RealName,
				IDNumber:    req.IDNumber,
				Phone:       req.Phone,
				BankName:    req.BankName,
				BankAccount: req.BankAccount,
			},
		})

		switch {
		case err == nil:
			render.JSONWithStatus(w, toWithdrawalResponse(wr), http.StatusCreated)
		case errors.Is(err, apperrors.ErrInsufficientBalance):
			render.ServiceError(w, "Insufficient balance", http.StatusPaymentRequired)
		case errors.Is(err, apperrors.ErrInvalidPayout):
			render.ServiceError(w, "Invalid payout details", http.StatusUnprocessableEntity)
		case errors.Is(err, apperrors.ErrInvalidAmount):
			render.ServiceError(w, "Points must be positive", http.StatusUnprocessableEntity)
		case errors.Is(err, apperrors.ErrBusy):
			render.ServiceError(w, "Try again later", http.StatusConflict)
		default:
			l.Error("Failed to submit withdrawal", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleListWithdrawals(ws withdrawalService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := ownerctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		statuses := r.URL.Query()["status"]

		list, err := ws.List(r.Context(), principal.Owner, statuses)
		if err != nil {
			l.Error("Failed to list withdrawals", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		responses := make([]withdrawalResponse, 0, len(list))
		for _, wr := range list {
			responses = append(responses, toWithdrawalResponse(wr))
		}
		render.JSON(w, responses)
	})
}

func handleGetWithdrawal(ws withdrawalService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := ownerctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.ServiceError(w, "Invalid withdrawal id", http.StatusBadRequest)
			return
		}

		wr, err := ws.Get(r.Context(), principal.Owner, id)

		switch {
		case err == nil:
			render.JSON(w, toWithdrawalResponse(wr))
		case errors.Is(err, apperrors.ErrWithdrawalNotFound):
			render.ServiceError(w, "Withdrawal not found", http.StatusNotFound)
		default:
			l.Error("Failed to get withdrawal", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleCancelWithdrawal(ws withdrawalService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := ownerctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.ServiceError(w, "Invalid withdrawal id", http.StatusBadRequest)
			return
		}

		wr, err := ws.Cancel(r.Context(), principal.Owner, id)
		renderTransition(w, l, wr, err, "Failed to cancel withdrawal")
	})
}

func handleApproveWithdrawal(ws withdrawalService, l logger.Logger) http.Handler {
	return handleOperatorTransition(ws.Approve, l, "Failed to approve withdrawal")
}

func handleRejectWithdrawal(ws withdrawalService, l logger.Logger) http.Handler {
	return handleOperatorTransition(ws.Reject, l, "Failed to reject withdrawal")
}

func handleCompleteWithdrawal(ws withdrawalService, l logger.Logger) http.Handler {
	return handleOperatorTransition(ws.Complete, l, "Failed to complete withdrawal")
}

func handleOperatorTransition(
	transition func(ctx context.Context, id uuid.UUID, note string) (models.WithdrawalRequest, error),
	l logger.Logger,
	errMsg string,
) http.Handler {
	type request struct {
		Note string `json:"note"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.ServiceError(w, "Invalid withdrawal id", http.StatusBadRequest)
			return
		}

		var req request
		if r.Body != nil && r.ContentLength != 0 {
			req, err = render.BindAndValidate[request](w, r)
			if err != nil {
				return
			}
		}

		wr, err := transition(r.Context(), id, req.Note)
		renderTransition(w, l, wr, err, errMsg)
	})
}

func renderTransition(w http.ResponseWriter, l logger.Logger, wr models.WithdrawalRequest, err error, errMsg string) {
	switch {
	case err == nil:
		render.JSON(w, toWithdrawalResponse(wr))
	case errors.Is(err, apperrors.ErrWithdrawalNotFound):
		render.ServiceError(w, "Withdrawal not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrWithdrawalState):
		render.ServiceError(w, "Withdrawal state does not allow this transition", http.StatusConflict)
	case errors.Is(err, apperrors.ErrContractNotSigned):
		render.ServiceError(w, "Withdrawal contract is not signed", http.StatusPreconditionFailed)
	default:
		l.Error(errMsg, "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}
