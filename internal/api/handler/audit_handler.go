package handler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/finopshq/payment-ledger/internal/api/middleware"
	"github.com/finopshq/payment-ledger/internal/domain/audit"
	"github.com/finopshq/payment-ledger/internal/domain/payment"
)

// AuditHandler serves the audit trail read model out of the archive
type AuditHandler struct {
	archive audit.Archive
	store   PaymentService
	logger  *slog.Logger
}

// NewAuditHandler creates a new audit trail handler
func NewAuditHandler(logger *slog.Logger, archive audit.Archive, store PaymentService) *AuditHandler {
	return &AuditHandler{
		archive: archive,
		store:   store,
		logger:  logger,
	}
}

// GetPaymentTrail retrieves the archived audit trail of one payment, newest
// first. The payment is resolved through the store first so foreign-tenant
// payments stay indistinguishable from missing ones.
func (h *AuditHandler) GetPaymentTrail(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid payment ID")
		return
	}

	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters: "+err.Error())
		return
	}

	actor := middleware.GetActor(c)

	if _, err := h.store.GetByID(c.Request.Context(), actor.TenantID, id); err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound{}) {
			RespondNotFound(c, "Payment not found")
			return
		}
		h.logger.Error("Failed to resolve payment for audit trail", "payment_id", id.String(), "error", err)
		RespondInternalError(c)
		return
	}

	urn := audit.PaymentURN(id)
	offset := (pagination.Page - 1) * pagination.PerPage

	events, err := h.archive.GetByEntityURN(c.Request.Context(), actor.TenantID, urn, pagination.PerPage, offset)
	if err != nil {
		h.logger.Error("Failed to read audit trail", "entity_urn", urn, "error", err)
		RespondInternalError(c)
		return
	}

	total, err := h.archive.CountByEntityURN(c.Request.Context(), actor.TenantID, urn)
	if err != nil {
		h.logger.Error("Failed to count audit trail", "entity_urn", urn, "error", err)
		RespondInternalError(c)
		return
	}

	response := AuditTrailResponse{Events: make([]AuditEventResponse, 0, len(events))}
	for _, event := range events {
		response.Events = append(response.Events, mapEventToResponse(event))
	}

	RespondWithPaginatedData(c, 200, response, pagination.Page, pagination.PerPage, int(total))
}

// mapEventToResponse maps an archived audit event to a response DTO
func mapEventToResponse(event *audit.Event) AuditEventResponse {
	return AuditEventResponse{
		ID:            event.ID.String(),
		EventType:     event.EventType,
		EntityURN:     event.EntityURN,
		Action:        event.Payload.Action,
		Before:        event.Payload.Before,
		After:         event.Payload.After,
		UserID:        event.Actor.UserID.String(),
		CorrelationID: event.CorrelationID,
		CreatedAt:     event.CreatedAt.Format(time.RFC3339),
	}
}
