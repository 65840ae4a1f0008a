package orders

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/apexlabs-backend/api/responses"
	"github.com/angelmondragon/apexlabs-backend/api/validators"
	internalorders "github.com/angelmondragon/apexlabs-backend/internal/orders"
	"github.com/angelmondragon/apexlabs-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/apexlabs-backend/pkg/errors"
	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
)

const maxOrderBodyBytes = 1 << 20

type orderSubmitter interface {
	Submit(ctx context.Context, payload internalorders.OrderPayload) (internalorders.SubmitResult, error)
}

type submitResponse struct {
	Success     bool     `json:"success"`
	OrderNumber string   `json:"orderNumber"`
	Warnings    []string `json:"warnings,omitempty"`
}

type submitFailure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// Submit accepts a storefront order. The body shape is fixed by the storefront
// so it is answered without the data envelope.
func Submit(svc orderSubmitter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			writeSubmitFailure(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		var payload internalorders.OrderPayload
		// the storefront sends extra cart fields; payload rules live in the ingestor
		err := validators.DecodeJSON(r, &payload, validators.DecodeOptions{
			MaxBytes:       maxOrderBodyBytes,
			AllowUnknown:   true,
			SkipValidation: true,
		})
		if err != nil {
			writeSubmitFailure(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Submit(r.Context(), payload)
		if err != nil {
			writeSubmitFailure(r.Context(), logg, w, err)
			return
		}

		responses.WriteJSON(w, http.StatusOK, submitResponse{
			Success:     true,
			OrderNumber: result.OrderNumber,
			Warnings:    result.Warnings,
		})
	}
}

func writeSubmitFailure(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	body := submitFailure{Error: meta.PublicMessage}
	switch typed.Code() {
	case pkgerrors.CodeValidation, pkgerrors.CodeConflict:
		body.Error = typed.Message()
		body.Details = typed.Details()
	}

	if logg != nil && meta.HTTPStatus >= http.StatusInternalServerError {
		logCtx := logg.WithField(ctx, "error_code", string(typed.Code()))
		logg.Error(logCtx, "orders.submit.failed", err)
	}
	responses.WriteJSON(w, meta.HTTPStatus, body)
}

type adminOrderService interface {
	ListRecent(ctx context.Context) ([]models.Order, error)
	ListChangedSince(ctx context.Context, since time.Time) ([]models.Order, error)
	Get(ctx context.Context, orderNumber string) (*models.Order, error)
	UpdateStatus(ctx context.Context, orderNumber, status string) (*internalorders.StatusUpdate, error)
}

// AdminList returns the most recent orders, newest first.
func AdminList(svc adminOrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		rows, err := svc.ListRecent(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"orders": nonNil(rows)})
	}
}

// AdminUpdates returns orders created or updated after ?since=<RFC3339>.
func AdminUpdates(svc adminOrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		since, err := validators.ParseQueryTime(r, "since")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListChangedSince(r.Context(), since)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"orders": nonNil(rows)})
	}
}

// AdminDetail returns one order by its order number.
func AdminDetail(svc adminOrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		order, err := svc.Get(r.Context(), chi.URLParam(r, "orderNumber"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

type statusResponse struct {
	Success bool          `json:"success"`
	Status  string        `json:"status"`
	Order   *models.Order `json:"order"`
}

// AdminUpdateStatus moves an order to another status and returns the stored row.
func AdminUpdateStatus(svc adminOrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		var body statusRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderNumber := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
		update, err := svc.UpdateStatus(r.Context(), orderNumber, body.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if logg != nil {
			ctx := logg.WithOrderNumber(r.Context(), orderNumber)
			logg.Info(logg.WithField(ctx, "status", string(update.Status)), "orders.status.updated")
		}
		responses.WriteJSON(w, http.StatusOK, statusResponse{
			Success: true,
			Status:  string(update.Status),
			Order:   update.Order,
		})
	}
}

func nonNil(rows []models.Order) []models.Order {
	if rows == nil {
		return []models.Order{}
	}
	return rows
}
