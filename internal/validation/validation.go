package validation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"frame-commerce-api/internal/models"
)

var validate = validator.New()

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidatePurchaseRequest checks that productId, txHash and buyerAddress are
// present. Formats are not checked.
func ValidatePurchaseRequest(req models.RecordPurchaseRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ValidationError{
			Field:   jsonFieldName(fe.Field()),
			Message: messageFor(fe),
		}
	}
	return &ValidationError{Field: "body", Message: err.Error()}
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	default:
		return "is invalid"
	}
}

// jsonFieldName maps a Go field name to its JSON key (ProductID -> productId).
func jsonFieldName(field string) string {
	switch field {
	case "ProductID":
		return "productId"
	case "TxHash":
		return "txHash"
	case "BuyerAddress":
		return "buyerAddress"
	}
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

// ParseFID parses a Farcaster id from a query or path parameter.
func ParseFID(raw, fieldName string) (int64, error) {
	raw = SanitizeString(raw)
	if raw == "" {
		return 0, &ValidationError{Field: fieldName, Message: "is required"}
	}
	fid, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || fid <= 0 {
		return 0, &ValidationError{Field: fieldName, Message: "must be a positive integer"}
	}
	return fid, nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}
