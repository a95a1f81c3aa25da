package handler

// CreatePaymentRequest represents a request to record a new payment
type CreatePaymentRequest struct {
	CompanyID      string `json:"company_id" binding:"required,uuid"`
	VendorID       string `json:"vendor_id" binding:"required,uuid"`
	Amount         string `json:"amount" binding:"required"`
	Currency       string `json:"currency" binding:"required,len=3"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// TransitionPaymentRequest represents a lifecycle action request.
// ExpectedVersion of zero means "whatever version is current".
type TransitionPaymentRequest struct {
	Action          string `json:"action" binding:"required"`
	ExpectedVersion int64  `json:"expected_version" binding:"min=0"`
}

// ValidateSequenceRequest represents a dry-run of a sequence of lifecycle
// actions from a starting status
type ValidateSequenceRequest struct {
	StartStatus string   `json:"start_status" binding:"required"`
	Actions     []string `json:"actions" binding:"required"`
}

// PaymentResponse represents a payment in API responses
type PaymentResponse struct {
	ID               string   `json:"id"`
	CompanyID        string   `json:"company_id"`
	VendorID         string   `json:"vendor_id"`
	Amount           string   `json:"amount"`
	Currency         string   `json:"currency"`
	Status           string   `json:"status"`
	Version          int64    `json:"version"`
	AvailableActions []string `json:"available_actions"`
	IdempotencyKey   string   `json:"idempotency_key,omitempty"`
	CreatedBy        string   `json:"created_by"`
	CreatedAt        string   `json:"created_at"`
	ApprovedBy       string   `json:"approved_by,omitempty"`
	ApprovedAt       string   `json:"approved_at,omitempty"`
	UpdatedAt        string   `json:"updated_at"`
}

// PaymentListResponse represents a list of payments in API responses
type PaymentListResponse struct {
	Payments []PaymentResponse `json:"payments"`
}

// SequenceValidationResponse represents the outcome of a lifecycle dry-run
type SequenceValidationResponse struct {
	Valid        bool   `json:"valid"`
	EndStatus    string `json:"end_status"`
	FailedAction string `json:"failed_action,omitempty"`
	Message      string `json:"message,omitempty"`
}

// AuditEventResponse represents an archived audit event in API responses
type AuditEventResponse struct {
	ID            string `json:"id"`
	EventType     string `json:"event_type"`
	EntityURN     string `json:"entity_urn"`
	Action        string `json:"action"`
	Before        string `json:"before,omitempty"`
	After         string `json:"after,omitempty"`
	UserID        string `json:"user_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// AuditTrailResponse represents the audit trail of one payment
type AuditTrailResponse struct {
	Events []AuditEventResponse `json:"events"`
}

// ListPaymentsParams represents the filters of the payment listing endpoint
type ListPaymentsParams struct {
	Status    string `form:"status"`
	CompanyID string `form:"company_id" binding:"omitempty,uuid"`
	VendorID  string `form:"vendor_id" binding:"omitempty,uuid"`
	From      string `form:"from" binding:"omitempty"`
	To        string `form:"to" binding:"omitempty"`
}

// PaginationParams represents pagination parameters for list endpoints
type PaginationParams struct {
	Page    int `form:"page,default=1" binding:"min=1"`
	PerPage int `form:"per_page,default=10" binding:"min=1,max=100"`
}
