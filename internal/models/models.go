// Package models defines the core data structures for PromptBridge.
//
// It includes the normalized inbound message, conversation turns, delivery outcomes
// and the JSON envelopes returned by the HTTP surface.
package models

import (
	"errors"
	"fmt"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleSystem marks the system prompt turn.
	RoleSystem Role = "system"
	// RoleUser marks a turn written by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks a turn produced by the LLM.
	RoleAssistant Role = "assistant"
)

// ErrInvalidRole is returned when a turn carries an unknown role.
var ErrInvalidRole = errors.New("invalid conversation role")

// Validate reports whether r is one of the known roles.
func (r Role) Validate() error {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, string(r))
	}
}

// ConversationTurn is one entry of a conversation log.
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// MessageKind distinguishes text messages from everything else.
type MessageKind string

const (
	// MessageKindText is a plain text message.
	MessageKindText MessageKind = "text"
	// MessageKindNonText covers media, reactions, locations and similar.
	MessageKindNonText MessageKind = "non_text"
)

// InboundMessage is the normalized form of a webhook payload.
// ContentType carries the platform's type string when Kind is MessageKindNonText.
type InboundMessage struct {
	Sender      string      `json:"sender"`
	Text        string      `json:"text"`
	Kind        MessageKind `json:"kind"`
	ContentType string      `json:"content_type,omitempty"`
}

// DeliveryOutcome is the terminal result of processing one webhook request.
type DeliveryOutcome string

const (
	// OutcomeDelivered means the reply reached the delivery channel.
	OutcomeDelivered DeliveryOutcome = "delivered"
	// OutcomeQueued means a reply was generated but direct delivery failed.
	OutcomeQueued DeliveryOutcome = "queued_or_unconfirmed"
	// OutcomeRejected means no reply was generated.
	OutcomeRejected DeliveryOutcome = "rejected"
)

// RejectReason explains an OutcomeRejected result.
type RejectReason string

const (
	RejectNonMessageEvent    RejectReason = "non_message_event"
	RejectUnsupportedContent RejectReason = "unsupported_content_type"
	RejectRateLimited        RejectReason = "rate_limited"
	RejectProcessingFailed   RejectReason = "processing_failed"
)

// Fixed detail strings reported to webhook callers.
const (
	DetailNonMessageEvent  = "ignored: non-message event"
	DetailRateLimited      = "rate limit exceeded"
	DetailQueued           = "queued"
	DetailProcessingFailed = "processing failed"
)

// WebhookResponse is the JSON envelope returned for every accepted webhook request.
type WebhookResponse struct {
	Delivered bool    `json:"delivered"`
	Detail    *string `json:"detail"`

	Outcome DeliveryOutcome `json:"-"`
	Reason  RejectReason    `json:"-"`
}

// Delivered builds the success response.
func Delivered() WebhookResponse {
	return WebhookResponse{Delivered: true, Outcome: OutcomeDelivered}
}

// Queued builds the response for a generated reply whose delivery failed.
func Queued() WebhookResponse {
	return WebhookResponse{Detail: detail(DetailQueued), Outcome: OutcomeQueued}
}

// Rejected builds a not-delivered response with the given reason and detail text.
func Rejected(reason RejectReason, text string) WebhookResponse {
	return WebhookResponse{Detail: detail(text), Outcome: OutcomeRejected, Reason: reason}
}

// UnsupportedContent builds the response for a non-text native message.
func UnsupportedContent(contentType string) WebhookResponse {
	return Rejected(RejectUnsupportedContent, "unsupported message type: "+contentType)
}

// DetailText returns the detail string or "" when absent.
func (r WebhookResponse) DetailText() string {
	if r.Detail == nil {
		return ""
	}
	return *r.Detail
}

func detail(s string) *string {
	return &s
}

// HealthStatus is the overall service status reported by the health endpoint.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
)

// Health check values.
const (
	CheckOK            = "ok"
	CheckFailed        = "failed"
	CheckNotConfigured = "not_configured"
)

// HealthChecks lists the individual dependency checks.
type HealthChecks struct {
	Store               string `json:"store"`
	DeliveryCredentials string `json:"delivery_credentials"`
}

// HealthReport is returned by GET /health.
type HealthReport struct {
	Status HealthStatus `json:"status"`
	Checks HealthChecks `json:"checks"`
}

// NewHealthReport derives the overall status from the individual checks.
// Only the store check affects the overall status.
func NewHealthReport(storeOK, credentialsConfigured bool) HealthReport {
	report := HealthReport{
		Status: HealthOK,
		Checks: HealthChecks{Store: CheckOK, DeliveryCredentials: CheckOK},
	}
	if !storeOK {
		report.Status = HealthDegraded
		report.Checks.Store = CheckFailed
	}
	if !credentialsConfigured {
		report.Checks.DeliveryCredentials = CheckNotConfigured
	}
	return report
}

// API Response types for non-webhook JSON responses

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithResult(result).Build()
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithMessage(message).WithResult(result).Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusError).WithMessage(message).Build()
}
