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
	"github.com/opensharehq/pointsledger/internal/repository"
	"github.com/opensharehq/pointsledger/internal/service/ledger"
)

type lotResponse struct {
	ID              uuid.UUID  `json:"id"`
	OwnerType       string     `json:"owner_type"`
	OwnerID         uuid.UUID  `json:"owner_id"`
	InitialPoints   int64      `json:"initial_points"`
	RemainingPoints int64      `json:"remaining_points"`
	Tags            []string   `json:"tags,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	ReferenceID     string     `json:"reference_id,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toLotResponse(lot models.Lot) lotResponse {
	return lotResponse{
		ID:              lot.ID,
		OwnerType:       lot.Owner.Type,
		OwnerID:         lot.Owner.ID,
		InitialPoints:   lot.InitialPoints,
		RemainingPoints: lot.RemainingPoints,
		Tags:            lot.Tags,
		Reason:          lot.Reason,
		ReferenceID:     lot.ReferenceID,
		ExpiresAt:       lot.ExpiresAt,
		CreatedAt:       lot.CreatedAt,
	}
}

type lotDeltaResponse struct {
	LotID  uuid.UUID `json:"lot_id"`
	Points int64     `json:"points"`
}

type transactionResponse struct {
	ID          uuid.UUID          `json:"id"`
	Type        string             `json:"type"`
	Points      int64              `json:"points"`
	Description string             `json:"description,omitempty"`
	Lots        []lotDeltaResponse `json:"lots"`
	CreatedAt   time.Time          `json:"created_at"`
}

func toTransactionResponse(t models.Transaction) transactionResponse {
	deltas := make([]lotDeltaResponse, 0, len(t.Lots))
	for _, d := range t.Lots {
		deltas = append(deltas, lotDeltaResponse{LotID: d.LotID, Points: d.Points})
	}

	return transactionResponse{
		ID:          t.ID,
		Type:        t.Type,
		Points:      t.Points,
		Description: t.Description,
		Lots:        deltas,
		CreatedAt:   t.CreatedAt,
	}
}

func handleGrant(ledgerService ledgerService, l logger.Logger) http.Handler {
	type request struct {
		OwnerType   string     `json:"owner_type" validate:"required,oneof=user org"`
		OwnerID     uuid.UUID  `json:"owner_id" validate:"required"`
		Points      int64      `json:"points" validate:"required,gt=0"`
		Tags        []string   `json:"tags"`
		Reason      string     `json:"reason"`
		ReferenceID string     `json:"reference_id"`
		ExpiresAt   *time.Time `json:"expires_at"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		lot, err := ledgerService.Grant(r.Context(), ledger.GrantParams{
			Owner:       models.Owner{Type: req.OwnerType, ID: req.OwnerID},
			Points:      req.Points,
			Tags:        req.Tags,
			Reason:      req.Reason,
			ReferenceID: req.ReferenceID,
			ExpiresAt:   req.ExpiresAt,
		})

		switch {
		case err == nil:
			render.JSONWithStatus(w, toLotResponse(lot), http.StatusCreated)
		case errors.Is(err, apperrors.ErrInvalidAmount):
			render.ServiceError(w, "Points must be positive", http.StatusUnprocessableEntity)
		default:
			l.Error("Failed to grant points", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleSpend(ledgerService ledgerService, l logger.Logger) http.Handler {
	type request struct {
		Points      int64  `json:"points" validate:"required,gt=0"`
		Description string `json:"description"`
		Tag         string `json:"tag"`
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

		tx, err := ledgerService.Spend(r.Context(), ledger.SpendParams{
			Owner:       principal.Owner,
			Points:      req.Points,
			Description: req.Description,
			Tag:         req.Tag,
		})

		switch {
		case err == nil:
			render.JSON(w, toTransactionResponse(tx))
		case errors.Is(err, apperrors.ErrInsufficientBalance):
			render.ServiceError(w, "Insufficient balance", http.StatusPaymentRequired)
		case errors.Is(err, apperrors.ErrInvalidAmount):
			render.ServiceError(w, "Points must be positive", http.StatusUnprocessableEntity)
		case errors.Is(err, apperrors.ErrBusy):
			render.ServiceError(w, "Try again later", http.StatusConflict)
		default:
			l.Error("Failed to spend points", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleBalance(ledgerService ledgerService, l logger.Logger) http.Handler {
	type response struct {
		Total     int64            `json:"total"`
		Available int64            `json:"available"`
		ByTag     map[string]int64 `json:"by_tag,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := ownerctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		tag := r.URL.Query().Get("tag")

		balance, err := ledgerService.Balance(r.Context(), principal.Owner)
		if err != nil {
			l.Error("Failed to get balance", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		available, err := ledgerService.AvailableBalance(r.Context(), principal.Owner, tag)
		if err != nil {
			l.Error("Failed to get available balance", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, response{
			Total:     balance.Total,
			Available: available,
			ByTag:     balance.ByTag,
		})
	})
}

func handleListTransactions(ledgerService ledgerService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := ownerctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		opts, err := parseListOpts(r)
		if err != nil {
			render.ServiceError(w, err.Error(), http.StatusBadRequest)
			return
		}

		txs, err := ledgerService.ListTransactions(r.Context(), principal.Owner, opts)
		if err != nil {
			l.Error("Failed to list transactions", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		responses := make([]transactionResponse, 0, len(txs))
		for _, t := range txs {
			responses = append(responses, toTransactionResponse(t))
		}
		render.JSON(w, responses)
	})
}

func handleTrend(ledgerService ledgerService, l logger.Logger) http.Handler {
	type point struct {
		Day    string `json:"day"`
		Points int64  `json:"points"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := ownerctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		q := r.URL.Query()
		tag := q.Get("tag")

		start, err := parseDate(q.Get("start"), time.Now().AddDate(0, 0, -30))
		if err != nil {
			render.ServiceError(w, "Invalid start date", http.StatusBadRequest)
			return
		}
		end, err := parseDate(q.Get("end"), time.Now())
		if err != nil {
			render.ServiceError(w, "Invalid end date", http.StatusBadRequest)
			return
		}

		series, err := ledgerService.TrendSeries(r.Context(), principal.Owner, tag, start, end)
		if err != nil {
			l.Error("Failed to build trend series", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		points := make([]point, 0, len(series))
		for _, p := range series {
			points = append(points, point{Day: p.Day.Format(time.DateOnly), Points: p.Points})
		}
		render.JSON(w, points)
	})
}

func parseListOpts(r *http.Request) (repository.ListTransactionsOpts, error) {
	var opts repository.ListTransactionsOpts

	q := r.URL.Query()
	if types, ok := q["type"]; ok {
		opts.Types = types
	}
	opts.Tag = q.Get("tag")

	if v := q.Get("from"); v != "" {
		from, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return opts, errors.New("invalid from date")
		}
		opts.From = &from
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return opts, errors.New("invalid to date")
		}
		opts.To = &to
	}

	return opts, nil
}

func parseDate(value string, def time.Time) (time.Time, error) {
	if value == "" {
		return def, nil
	}
	return time.Parse(time.DateOnly, value)
}
