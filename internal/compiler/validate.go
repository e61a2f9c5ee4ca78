package compiler

import (
	"errors"
	"fmt"

	"github.com/roach88/mutual/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrKindInvalid        = "E101" // kind fails ir.KindSpec.Validate
	ErrDuplicateKind      = "E102" // two kinds share a name
	ErrMissingAntecedent  = "E103" // versioned kind without an antecedent string
	ErrOwnerTargetPrivate = "E104" // split kinds encrypt to themselves
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Kind    string `json:"kind"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s.%s: %s", e.Code, e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Kind, e.Message)
}

// Validate checks a set of kinds. Returns all errors found (does not
// fail-fast).
func Validate(specs []ir.KindSpec) []ValidationError {
	var errs []ValidationError
	names := make(map[string]bool)

	for _, k := range specs {
		if names[k.Name] {
			errs = append(errs, ValidationError{
				Kind:    k.Name,
				Message: "declared twice",
				Code:    ErrDuplicateKind,
			})
		}
		names[k.Name] = true

		if err := k.Validate(); err != nil {
			ve := ValidationError{Kind: k.Name, Message: err.Error(), Code: ErrKindInvalid}
			var ke *ir.KindError
			if errors.As(err, &ke) {
				ve.Kind, ve.Field, ve.Message = ke.Kind, ke.Field, ke.Message
			}
			errs = append(errs, ve)
		}

		// The versioned store chains entries through the payload's
		// antecedent field.
		if k.Store == ir.StoreVersioned {
			p, ok := k.PublicProperty("antecedent")
			if !ok || p.Type != ir.TypeString {
				errs = append(errs, ValidationError{
					Kind:    k.Name,
					Field:   "antecedent",
					Message: "versioned kinds declare an antecedent string",
					Code:    ErrMissingAntecedent,
				})
			}
		}

		if k.Store == ir.StoreSplit && k.EncryptTo != ir.EncryptSelf {
			errs = append(errs, ValidationError{
				Kind:    k.Name,
				Field:   "encrypt_to",
				Message: "split kinds encrypt their private half to themselves",
				Code:    ErrOwnerTargetPrivate,
			})
		}
	}
	return errs
}
