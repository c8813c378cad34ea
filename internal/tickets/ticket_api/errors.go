package ticket_api

import (
	"errors"
	"net/http"

	"ms-ticket-gate/internal/tickets/service"
	"ms-ticket-gate/internal/utils"
)

const (
	CodeValidation       = "validation_error"
	CodeInvalidSignature = "invalid_signature"
	CodeMalformedPayload = "malformed_payload"
	CodeNotFound         = "not_found"
	CodeAlreadyUsed      = "already_used"
	CodeUnavailable      = "unavailable"
	CodeInternal         = "internal_error"
)

// errorResponse maps a service error onto a status code and a body that is
// safe to return. Causes below "invalid signature" and storage details never
// reach the caller.
func errorResponse(err error) (int, utils.ErrorResponse) {
	var (
		verr  *service.ValidationError
		used  *service.AlreadyUsedError
		infra *service.InfrastructureError
	)

	switch {
	case errors.As(err, &verr):
		resp := utils.NewErrorResponse(CodeValidation, verr.Error())
		resp.Field = verr.Field
		return http.StatusBadRequest, resp
	case errors.Is(err, service.ErrInvalidSignature):
		return http.StatusUnauthorized, utils.NewErrorResponse(CodeInvalidSignature, "invalid signature")
	case errors.Is(err, service.ErrMalformedPayload), errors.Is(err, ErrMalformedProof):
		return http.StatusBadRequest, utils.NewErrorResponse(CodeMalformedPayload, "malformed payload")
	case errors.Is(err, service.ErrOrderNotFound):
		return http.StatusNotFound, utils.NewErrorResponse(CodeNotFound, "order not found")
	case errors.As(err, &used):
		resp := utils.NewErrorResponse(CodeAlreadyUsed, "ticket already used")
		usedAt := used.UsedAt
		resp.UsedAt = &usedAt
		return http.StatusConflict, resp
	case errors.As(err, &infra):
		return http.StatusServiceUnavailable, utils.NewErrorResponse(CodeUnavailable, "service temporarily unavailable, retry later")
	default:
		return http.StatusInternalServerError, utils.NewErrorResponse(CodeInternal, "internal error")
	}
}
