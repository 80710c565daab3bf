package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

// Category groups error codes by how a caller is expected to react to them.
type Category string

const (
	CategoryValidation   Category = "validation"
	CategoryPrecondition Category = "precondition"
	CategoryConflict     Category = "conflict"
	CategoryGuard        Category = "resource_guard"
	CategoryExternal     Category = "external_dependency"
	CategoryAuthz        Category = "authorization"
	CategoryInternal     Category = "internal"
)

const (
	ErrInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrInvalidAmount       ErrorCode = "INVALID_AMOUNT"
	ErrMissingExpectations ErrorCode = "MISSING_EXPECTATIONS"
	ErrUnknownProofType    ErrorCode = "UNKNOWN_PROOF_TYPE"

	ErrOrderNotFound     ErrorCode = "ORDER_NOT_FOUND"
	ErrWalletNotFound    ErrorCode = "WALLET_NOT_FOUND"
	ErrUserNotFound      ErrorCode = "USER_NOT_FOUND"
	ErrPayoutNotFound    ErrorCode = "PAYOUT_NOT_FOUND"
	ErrDealNotFound      ErrorCode = "DEAL_NOT_FOUND"
	ErrOrderNotFrozen    ErrorCode = "ORDER_NOT_FROZEN"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrFrozen            ErrorCode = "FROZEN"

	ErrConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"
	ErrAlreadyDeleted         ErrorCode = "ALREADY_DELETED"
	ErrPayoutAlreadyProcessed ErrorCode = "PAYOUT_ALREADY_PROCESSED"

	ErrInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"
	ErrWalletNotEmpty    ErrorCode = "WALLET_NOT_EMPTY"
	ErrPayoutPending     ErrorCode = "PAYOUT_PENDING"
	ErrUserHasCampaigns  ErrorCode = "USER_HAS_CAMPAIGNS"
	ErrUserHasDeals      ErrorCode = "USER_HAS_DEALS"
	ErrUserHasOrders     ErrorCode = "USER_HAS_ORDERS"
	ErrUserHasPayouts    ErrorCode = "USER_HAS_PAYOUTS"

	ErrExtractionFailed  ErrorCode = "EXTRACTION_FAILED"
	ErrExtractionTimeout ErrorCode = "EXTRACTION_TIMEOUT"

	ErrCannotSelfSuspend ErrorCode = "CANNOT_SELF_SUSPEND"
	ErrUserPrivileged    ErrorCode = "USER_PRIVILEGED"

	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"
)

var categories = map[ErrorCode]Category{
	ErrInvalidInput:        CategoryValidation,
	ErrInvalidAmount:       CategoryValidation,
	ErrMissingExpectations: CategoryValidation,
	ErrUnknownProofType:    CategoryValidation,

	ErrOrderNotFound:     CategoryPrecondition,
	ErrWalletNotFound:    CategoryPrecondition,
	ErrUserNotFound:      CategoryPrecondition,
	ErrPayoutNotFound:    CategoryPrecondition,
	ErrDealNotFound:      CategoryPrecondition,
	ErrOrderNotFrozen:    CategoryPrecondition,
	ErrInvalidTransition: CategoryPrecondition,
	ErrFrozen:            CategoryPrecondition,

	ErrConcurrentModification: CategoryConflict,
	ErrAlreadyDeleted:         CategoryConflict,
	ErrPayoutAlreadyProcessed: CategoryConflict,

	ErrInsufficientFunds: CategoryGuard,
	ErrWalletNotEmpty:    CategoryGuard,
	ErrPayoutPending:     CategoryGuard,
	ErrUserHasCampaigns:  CategoryGuard,
	ErrUserHasDeals:      CategoryGuard,
	ErrUserHasOrders:     CategoryGuard,
	ErrUserHasPayouts:    CategoryGuard,

	ErrExtractionFailed:  CategoryExternal,
	ErrExtractionTimeout: CategoryExternal,

	ErrCannotSelfSuspend: CategoryAuthz,
	ErrUserPrivileged:    CategoryAuthz,

	ErrInternalServer: CategoryInternal,
}

// CategoryOf returns the category a code belongs to. Unknown codes are internal.
func CategoryOf(code ErrorCode) Category {
	if c, ok := categories[code]; ok {
		return c
	}
	return CategoryInternal
}

type APIError struct {
	Code     ErrorCode   `json:"code"`
	Category Category    `json:"category"`
	Message  string      `json:"message"`
	Details  interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	if details != nil {
		logrus.WithField("code", code).Error(details)
	}
	return APIError{
		Code:     code,
		Category: CategoryOf(code),
		Message:  message,
		Details:  details,
	}
}

// As extracts an APIError from err, following wrapped errors.
func As(err error) (APIError, bool) {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return APIError{}, false
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	apiErr, ok := As(err)
	return ok && apiErr.Code == code
}

func MapErrorToHTTPStatus(err error) int {
	apiErr, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch apiErr.Category {
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryPrecondition:
		switch apiErr.Code {
		case ErrOrderNotFound, ErrWalletNotFound, ErrUserNotFound, ErrPayoutNotFound, ErrDealNotFound:
			return http.StatusNotFound
		}
		return http.StatusUnprocessableEntity
	case CategoryConflict:
		return http.StatusConflict
	case CategoryGuard:
		return http.StatusConflict
	case CategoryExternal:
		if apiErr.Code == ErrExtractionTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case CategoryAuthz:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
