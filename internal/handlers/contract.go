package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/opensharehq/pointsledger/internal/apperrors"
	"github.com/opensharehq/pointsledger/internal/handlers/ownerctx"
	"github.com/opensharehq/pointsledger/internal/handlers/render"
	"github.com/opensharehq/pointsledger/internal/logger"
	"github.com/opensharehq/pointsledger/internal/models"
)

type contractResponse struct {
	ID       uuid.UUID  `json:"id"`
	Status   string     `json:"status"`
	SignURL  string     `json:"sign_url,omitempty"`
	SignedAt *time.Time `json:"signed_at,omitempty"`
}

func toContractResponse(c models.WithdrawalContract) contractResponse {
	return contractResponse{
		ID:       c.ID,
		Status:   c.Status,
		SignURL:  c.SignURL,
		SignedAt: c.SignedAt,
	}
}

func handleContractStatus(cs contractService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := ownerctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		c, err := cs.Status(r.Context(), principal.Owner)

		switch {
		case err == nil:
			render.JSON(w, toContractResponse(c))
		case errors.Is(err, apperrors.ErrContractNotFound):
			render.ServiceError(w, "Contract not found", http.StatusNotFound)
		default:
			l.Error("Failed to get contract status", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleContractRevoke(cs contractService, l logger.Logger) http.Handler {
	type request struct {
		OwnerType string    `json:"owner_type" validate:"required,oneof=user org"`
		OwnerID   uuid.UUID `json:"owner_id" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		c, err := cs.Revoke(r.Context(), models.Owner{Type: req.OwnerType, ID: req.OwnerID})

		switch {
		case err == nil:
			render.JSON(w, toContractResponse(c))
		case errors.Is(err, apperrors.ErrContractNotFound):
			render.ServiceError(w, "Contract not found", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrContractNotSigned):
			render.ServiceError(w, "Only signed contracts can be revoked", http.StatusConflict)
		default:
			l.Error("Failed to revoke contract", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

// handleContractWebhook is the signature provider callback. Unknown flow
// ids are acknowledged with 200 so the provider stops retrying; the mismatch
// is logged for investigation.
func handleContractWebhook(cs contractService, l logger.Logger) http.Handler {
	type request struct {
		FlowID   string     `json:"flow_id" validate:"required"`
		Status   string     `json:"status" validate:"required"`
		SignedAt *time.Time `json:"signed_at"`
	}

	type response struct {
		Result string `json:"result"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		if req.Status != "signed" {
			l.Info("Ignoring contract webhook with non-signed status",
				"flow_id", req.FlowID, "status", req.Status)
			render.JSON(w, response{Result: "ignored"})
			return
		}

		var signedAt time.Time
		if req.SignedAt != nil {
			signedAt = *req.SignedAt
		}

		_, err = cs.MarkSigned(r.Context(), req.FlowID, models.ContractSourceCallback, signedAt)

		switch {
		case err == nil:
			render.JSON(w, response{Result: "ok"})
		case errors.Is(err, apperrors.ErrUnknownFlow):
			l.Warn("Contract webhook for unknown flow", "flow_id", req.FlowID)
			render.JSON(w, response{Result: "unknown flow"})
		default:
			l.Error("Failed to process contract webhook", "error", err, "flow_id", req.FlowID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
