package app

import (
	"errors"
	"fmt"
	"net/http"

	"aidoc/editor/internal/editor"
	"aidoc/editor/internal/history"
	"aidoc/editor/internal/remote"
	"aidoc/editor/internal/reorder"
	"aidoc/editor/internal/section"
	"aidoc/editor/internal/tracker"
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var validation *editor.ValidationError
	if errors.As(err, &validation) {
		return http.StatusUnprocessableEntity, "VALIDATION", validation.Message, map[string]any{"field": validation.Field}
	}
	var busy *tracker.BusyError
	if errors.As(err, &busy) {
		return http.StatusConflict, "SECTION_BUSY", busy.Error(), map[string]any{
			"sectionId": busy.SectionID,
			"active":    busy.Active,
			"requested": busy.Requested,
		}
	}
	var transport *remote.TransportError
	if errors.As(err, &transport) {
		details := map[string]any{"operation": transport.Op}
		if transport.Status != 0 {
			details["status"] = transport.Status
		}
		return http.StatusBadGateway, "BACKEND_ERROR", transport.Error(), details
	}

	switch {
	case errors.Is(err, section.ErrInvariant):
		return http.StatusConflict, "CONFLICT", err.Error(), nil
	case errors.Is(err, editor.ErrSectionNotFound), errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", err.Error(), nil
	case errors.Is(err, reorder.ErrIndexOutOfRange):
		return http.StatusBadRequest, "INVALID_INDEX", err.Error(), nil
	case errors.Is(err, reorder.ErrClosed), errors.Is(err, editor.ErrNotLoaded), errors.Is(err, errSessionsClosed):
		return http.StatusServiceUnavailable, "UNAVAILABLE", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
