package app

import (
	"errors"
	"fmt"
	"net/http"

	"artiklo/api/internal/auth"
	"artiklo/api/internal/export"
	"artiklo/api/internal/intake"
	"artiklo/api/internal/pipeline"
	"artiklo/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var kindStatus = map[pipeline.Kind]int{
	pipeline.KindEmptySubmission:      http.StatusUnprocessableEntity,
	pipeline.KindInvalidSubmission:    http.StatusUnprocessableEntity,
	pipeline.KindRateLimited:          http.StatusTooManyRequests,
	pipeline.KindSubmissionInProgress: http.StatusConflict,
	pipeline.KindTransportFailure:     http.StatusBadGateway,
	pipeline.KindNormalization:        http.StatusBadGateway,
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var pipelineErr *pipeline.Error
	if errors.As(err, &pipelineErr) {
		status, ok := kindStatus[pipelineErr.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		return status, string(pipelineErr.Kind), pipeline.Encode(pipeline.Failed{Err: pipelineErr}).Error.Message, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, intake.ErrEmptyCapture) || errors.Is(err, intake.ErrInvalidCapture) {
		return http.StatusUnprocessableEntity, "INVALID_CAPTURE", err.Error(), nil
	}
	if errors.Is(err, export.ErrUnsupportedFormat) {
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Unsupported export format", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return http.StatusNotImplemented, "EXPORT_UNAVAILABLE", "Export renderer is not installed", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
