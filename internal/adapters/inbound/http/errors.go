package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/archon-research/stl-exchange/internal/domain/entity"
	"github.com/archon-research/stl-exchange/internal/ports/outbound"
)

const (
	msgUnauthenticated = "Unauthenticated."
	msgTooManyRequests = "Too Many Attempts."
	msgNotOwner        = "You can only cancel your own orders"
	msgNotOpen         = "Only open orders can be cancelled"
	msgNotFound        = "Not found."
	msgConflict        = "The order could not be processed because of a concurrent update. Please retry."
	msgInternal        = "Server Error"
)

// statusFor maps a service error to an HTTP status and client message.
func statusFor(err error) (int, string) {
	var funds *entity.InsufficientFundsError
	var assets *entity.InsufficientAssetsError

	switch {
	case errors.As(err, &funds):
		return http.StatusConflict, fmt.Sprintf(
			"Insufficient USD balance. You need $%s but only have $%s available.",
			formatUSD(funds.Required.Decimal()), formatUSD(funds.Available.Decimal()))
	case errors.As(err, &assets):
		return http.StatusConflict, fmt.Sprintf(
			"Insufficient %s. You need %s but only have %s available.",
			assets.Symbol, assets.Required, assets.Available)
	case errors.Is(err, entity.ErrNotOwner):
		return http.StatusForbidden, msgNotOwner
	case errors.Is(err, entity.ErrInvalidState):
		return http.StatusUnprocessableEntity, msgNotOpen
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound, msgNotFound
	case errors.Is(err, entity.ErrValidation):
		return http.StatusUnprocessableEntity, validationMessage(err)
	case errors.Is(err, outbound.ErrTxConflict):
		return http.StatusConflict, msgConflict
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// validationMessage strips the sentinel prefix from a wrapped validation error.
func validationMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), entity.ErrValidation.Error()+": ")
	if msg == "" {
		return "The given data was invalid."
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}

// formatUSD renders d rounded to cents with thousands separators, e.g. "45,500.00".
func formatUSD(d decimal.Decimal) string {
	s := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + "." + frac
}
