package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensharehq/pointsledger/internal/apperrors"
	"github.com/opensharehq/pointsledger/internal/handlers/render"
	"github.com/opensharehq/pointsledger/internal/logger"
	"github.com/opensharehq/pointsledger/internal/models"
	"github.com/opensharehq/pointsledger/internal/service/allocator"
)

type allocationRecipient struct {
	OwnerType string          `json:"owner_type" validate:"required,oneof=user org"`
	OwnerID   uuid.UUID       `json:"owner_id" validate:"required"`
	Score     decimal.Decimal `json:"score" validate:"required"`
}

type allocationRequest struct {
	Pool       int64                 `json:"pool" validate:"required,gt=0"`
	Ratio      decimal.Decimal       `json:"ratio"`
	Recipients []allocationRecipient `json:"recipients" validate:"required,min=1,dive"`
}

type allocationShare struct {
	OwnerType string    `json:"owner_type"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Points    int64     `json:"points"`
}

func previewShares(req allocationRequest) ([]allocator.Share, error) {
	ratio := req.Ratio
	if ratio.IsZero() {
		ratio = decimal.NewFromInt(1)
	}

	recipients := make([]allocator.Recipient, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		recipients = append(recipients, allocator.Recipient{
			Owner: models.Owner{Type: r.OwnerType, ID: r.OwnerID},
			Score: r.Score,
		})
	}

	return allocator.Preview(allocator.PreviewParams{
		Pool:       req.Pool,
		Ratio:      ratio,
		Recipients: recipients,
	})
}

func toAllocationShares(shares []allocator.Share) []allocationShare {
	out := make([]allocationShare, 0, len(shares))
	for _, s := range shares {
		out = append(out, allocationShare{
			OwnerType: s.Owner.Type,
			OwnerID:   s.Owner.ID,
			Points:    s.Points,
		})
	}
	return out
}

func handleAllocationPreview(l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[allocationRequest](w, r)
		if err != nil {
			return
		}

		shares, err := previewShares(req)

		switch {
		case err == nil:
			render.JSON(w, toAllocationShares(shares))
		case errors.Is(err, apperrors.ErrInvalidAmount):
			render.ServiceError(w, "Pool, ratio and scores must be positive", http.StatusUnprocessableEntity)
		default:
			l.Error("Failed to preview allocation", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleAllocationExecute(as allocatorService, l logger.Logger) http.Handler {
	type request struct {
		allocationRequest
		Tags        []string `json:"tags"`
		Reason      string   `json:"reason"`
		ReferenceID string   `json:"reference_id"`
	}

	type response struct {
		Batches       int   `json:"batches"`
		FailedBatches int   `json:"failed_batches"`
		Granted       int64 `json:"granted"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		shares, err := previewShares(req.allocationRequest)

		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrInvalidAmount):
			render.ServiceError(w, "Pool, ratio and scores must be positive", http.StatusUnprocessableEntity)
			return
		default:
			l.Error("Failed to plan allocation", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		result := as.Execute(r.Context(), allocator.ExecuteParams{
			Shares:      shares,
			Tags:        req.Tags,
			Reason:      req.Reason,
			ReferenceID: req.ReferenceID,
		})

		render.JSON(w, response{
			Batches:       result.Batches,
			FailedBatches: result.FailedBatches,
			Granted:       result.Granted,
		})
	})
}
