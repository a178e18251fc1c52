package inventory

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ValidationError reports malformed input: unknown ids, non-positive quantities,
// missing fields. It is returned before any ledger or reservation state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a reference to an order, menu item or ingredient that does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// Shortage describes one ingredient that cannot cover the requested demand.
type Shortage struct {
	IngredientID string          `json:"ingredientId"`
	Name         string          `json:"name,omitempty"`
	Unit         string          `json:"unit,omitempty"`
	Available    decimal.Decimal `json:"available"`
	Required     decimal.Decimal `json:"required"`
}

// InsufficientStockError is returned when a confirmation fails its feasibility check.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (available %s, required %s)",
			s.IngredientID, s.Available.String(), s.Required.String()))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

// ConflictError reports a lost race or a transition that the current state does not allow.
// Callers should refresh their view and retry.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Reason
}

// NewConflictError builds a ConflictError.
func NewConflictError(format string, args ...any) *ConflictError {
	return &ConflictError{Reason: fmt.Sprintf(format, args...)}
}

// DataIntegrityWarning flags a ledger value that the allocator had to clamp.
// It is logged and reported, never returned as an error.
type DataIntegrityWarning struct {
	IngredientID string          `json:"ingredientId"`
	OnHand       decimal.Decimal `json:"onHand"`
	Message      string          `json:"message"`
}

func (w DataIntegrityWarning) String() string {
	return fmt.Sprintf("%s: %s (on hand %s)", w.IngredientID, w.Message, w.OnHand.String())
}
