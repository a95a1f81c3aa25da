// Package handler exposes the payment store and the audit archive over HTTP.
// Domain errors map onto statuses: missing or foreign-tenant payments are 404,
// optimistic concurrency losses are 409, illegal lifecycle actions are 422 and
// malformed money or identifiers are 400.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/finopshq/payment-ledger/internal/api/middleware"
	"github.com/finopshq/payment-ledger/internal/domain/money"
	"github.com/finopshq/payment-ledger/internal/domain/payment"
	"github.com/finopshq/payment-ledger/internal/payments"
)

// PaymentService is the store surface the handler needs
type PaymentService interface {
	Create(ctx context.Context, params payments.CreateParams) (*payment.Payment, bool, error)
	Transition(ctx context.Context, params payments.TransitionParams) (*payment.Payment, error)
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*payment.Payment, error)
	List(ctx context.Context, filter payment.ListFilter) ([]*payment.Payment, int64, error)
}

// PaymentHandler handles HTTP requests for payment operations
type PaymentHandler struct {
	store  PaymentService
	logger *slog.Logger
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(logger *slog.Logger, store PaymentService) *PaymentHandler {
	return &PaymentHandler{
		store:  store,
		logger: logger,
	}
}

// Create records a new payment. Replayed idempotency keys return the existing
// payment with 200 instead of 201.
func (h *PaymentHandler) Create(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	amount, err := money.Parse(req.Amount, req.Currency)
	if err != nil {
		h.logger.Warn("Rejected payment amount", "amount", req.Amount, "currency", req.Currency, "error", err)
		RespondBadRequest(c, "Invalid amount: "+err.Error())
		return
	}

	// Validated by binding tags
	companyID := uuid.MustParse(req.CompanyID)
	vendorID := uuid.MustParse(req.VendorID)

	actor := middleware.GetActor(c)

	p, created, err := h.store.Create(c.Request.Context(), payments.CreateParams{
		TenantID:       actor.TenantID,
		CompanyID:      companyID,
		VendorID:       vendorID,
		Amount:         amount,
		IdempotencyKey: req.IdempotencyKey,
		Actor:          actor,
		CorrelationID:  middleware.GetCorrelationID(c),
	})
	if err != nil {
		if errors.Is(err, payment.ErrDuplicateIdempotencyKey{}) {
			RespondConflict(c, "Idempotency key already used within this tenant")
			return
		}
		h.logger.Error("Failed to create payment", "error", err)
		RespondInternalError(c)
		return
	}

	response := mapPaymentToResponse(p)
	if created {
		RespondCreated(c, response)
	} else {
		RespondOK(c, response)
	}
}

// GetByID retrieves a payment, returning 404 when it does not exist within the
// caller's tenant.
func (h *PaymentHandler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid payment ID")
		return
	}

	actor := middleware.GetActor(c)

	p, err := h.store.GetByID(c.Request.Context(), actor.TenantID, id)
	if err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound{}) {
			RespondNotFound(c, "Payment not found")
			return
		}
		h.logger.Error("Failed to get payment", "payment_id", id.String(), "error", err)
		RespondInternalError(c)
		return
	}

	RespondOK(c, mapPaymentToResponse(p))
}

// List retrieves the tenant's payments with optional filters and pagination
func (h *PaymentHandler) List(c *gin.Context) {
	var params ListPaymentsParams
	if err := c.ShouldBindQuery(&params); err != nil {
		RespondBadRequest(c, "Invalid filter parameters: "+err.Error())
		return
	}
	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters: "+err.Error())
		return
	}

	actor := middleware.GetActor(c)
	filter := payment.ListFilter{
		TenantID: actor.TenantID,
		Limit:    pagination.PerPage,
		Offset:   (pagination.Page - 1) * pagination.PerPage,
	}

	if params.Status != "" {
		status := payment.Status(params.Status)
		if !payment.ValidStatus(status) {
			RespondBadRequest(c, "Unknown payment status: "+params.Status)
			return
		}
		filter.Status = &status
	}
	if params.CompanyID != "" {
		companyID := uuid.MustParse(params.CompanyID)
		filter.CompanyID = &companyID
	}
	if params.VendorID != "" {
		vendorID := uuid.MustParse(params.VendorID)
		filter.VendorID = &vendorID
	}
	if params.From != "" {
		from, err := time.Parse(time.RFC3339, params.From)
		if err != nil {
			RespondBadRequest(c, "Invalid 'from' timestamp, expected RFC 3339")
			return
		}
		filter.From = &from
	}
	if params.To != "" {
		to, err := time.Parse(time.RFC3339, params.To)
		if err != nil {
			RespondBadRequest(c, "Invalid 'to' timestamp, expected RFC 3339")
			return
		}
		filter.To = &to
	}

	results, total, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list payments", "tenant_id", actor.TenantID.String(), "error", err)
		RespondInternalError(c)
		return
	}

	response := PaymentListResponse{Payments: make([]PaymentResponse, 0, len(results))}
	for _, p := range results {
		response.Payments = append(response.Payments, mapPaymentToResponse(p))
	}

	RespondWithPaginatedData(c, 200, response, pagination.Page, pagination.PerPage, int(total))
}

// Transition applies a lifecycle action to a payment
func (h *PaymentHandler) Transition(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid payment ID")
		return
	}

	var req TransitionPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	action := payment.Action(req.Action)
	if !payment.ValidAction(action) {
		RespondBadRequest(c, "Unknown lifecycle action: "+req.Action)
		return
	}

	actor := middleware.GetActor(c)

	p, err := h.store.Transition(c.Request.Context(), payments.TransitionParams{
		TenantID:        actor.TenantID,
		PaymentID:       id,
		Action:          action,
		ExpectedVersion: req.ExpectedVersion,
		Actor:           actor,
		CorrelationID:   middleware.GetCorrelationID(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrPaymentNotFound{}):
			RespondNotFound(c, "Payment not found")
		case errors.Is(err, payment.ErrVersionConflict{}):
			RespondConflict(c, "Payment was modified concurrently, re-read and retry")
		case errors.Is(err, payment.ErrIllegalTransition{}):
			var illegalErr payment.ErrIllegalTransition
			errors.As(err, &illegalErr)
			RespondUnprocessable(c, "Action "+string(illegalErr.Action)+" is not allowed from status "+string(illegalErr.From))
		default:
			h.logger.Error("Failed to transition payment", "payment_id", id.String(), "action", req.Action, "error", err)
			RespondInternalError(c)
		}
		return
	}

	RespondOK(c, mapPaymentToResponse(p))
}

// AvailableActions lists the lifecycle actions currently legal for a payment
func (h *PaymentHandler) AvailableActions(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid payment ID")
		return
	}

	actor := middleware.GetActor(c)

	p, err := h.store.GetByID(c.Request.Context(), actor.TenantID, id)
	if err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound{}) {
			RespondNotFound(c, "Payment not found")
			return
		}
		h.logger.Error("Failed to get payment", "payment_id", id.String(), "error", err)
		RespondInternalError(c)
		return
	}

	RespondOK(c, gin.H{
		"status":            string(p.Status),
		"available_actions": actionStrings(payment.AvailableActions(p.Status)),
		"terminal":          payment.IsTerminal(p.Status),
	})
}

// ValidateSequence dry-runs a sequence of lifecycle actions without touching
// any payment
func (h *PaymentHandler) ValidateSequence(c *gin.Context) {
	var req ValidateSequenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	start := payment.Status(req.StartStatus)
	if !payment.ValidStatus(start) {
		RespondBadRequest(c, "Unknown payment status: "+req.StartStatus)
		return
	}

	actions := make([]payment.Action, 0, len(req.Actions))
	for _, raw := range req.Actions {
		action := payment.Action(raw)
		if !payment.ValidAction(action) {
			RespondBadRequest(c, "Unknown lifecycle action: "+raw)
			return
		}
		actions = append(actions, action)
	}

	result := payment.ValidateActionSequence(start, actions)

	RespondOK(c, SequenceValidationResponse{
		Valid:        result.Valid,
		EndStatus:    string(result.EndStatus),
		FailedAction: string(result.FailedAction),
		Message:      result.Message,
	})
}

// mapPaymentToResponse maps a payment entity to a payment response DTO
func mapPaymentToResponse(p *payment.Payment) PaymentResponse {
	response := PaymentResponse{
		ID:               p.ID.String(),
		CompanyID:        p.CompanyID.String(),
		VendorID:         p.VendorID.String(),
		Amount:           p.Amount.String(),
		Currency:         p.Amount.Currency(),
		Status:           string(p.Status),
		Version:          p.Version,
		AvailableActions: actionStrings(payment.AvailableActions(p.Status)),
		IdempotencyKey:   p.IdempotencyKey,
		CreatedBy:        p.CreatedBy.String(),
		CreatedAt:        p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        p.UpdatedAt.Format(time.RFC3339),
	}
	if p.ApprovedBy != nil {
		response.ApprovedBy = p.ApprovedBy.String()
	}
	if p.ApprovedAt != nil {
		response.ApprovedAt = p.ApprovedAt.Format(time.RFC3339)
	}
	return response
}

func actionStrings(actions []payment.Action) []string {
	out := make([]string, 0, len(actions))
	for _, action := range actions {
		out = append(out, string(action))
	}
	return out
}
