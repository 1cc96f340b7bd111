package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/CrowderSoup/kanban-sync/database"
)

var errStoreUnavailable = errors.New("store unavailable")

// DomainError is a failure the HTTP layer reports to the caller
type DomainError struct {
	Status  int
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message}
}

// asDomainError maps store and board errors onto HTTP failures
func asDomainError(err error) error {
	if err == nil {
		return nil
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de
	}
	switch {
	case errors.Is(err, database.ErrWIPLimitExceeded):
		return domainError(http.StatusConflict, "wip_limit_exceeded", err.Error())
	case errors.Is(err, database.ErrDuplicateCard):
		return domainError(http.StatusConflict, "duplicate_card", err.Error())
	case errors.Is(err, database.ErrCardNotFound):
		return domainError(http.StatusNotFound, "card_not_found", err.Error())
	case errors.Is(err, database.ErrLabelNotFound):
		return domainError(http.StatusNotFound, "label_not_found", err.Error())
	case errors.Is(err, database.ErrInvalidColumn):
		return domainError(http.StatusBadRequest, "invalid_column", err.Error())
	case errors.Is(err, errStoreUnavailable):
		return domainError(http.StatusServiceUnavailable, "store_unavailable", "board store is unavailable")
	}
	return err
}
