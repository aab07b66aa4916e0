// Package validator checks struct tags with go-playground/validator and
// flattens the failures into one readable error.
package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Struct returns nil or an error listing every failed field.
func (sv *Validator) Struct(i any) error {
	if err := sv.v.Struct(i); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			msgs := make([]string, 0, len(ve))
			for _, fe := range ve {
				msgs = append(msgs, fieldError(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

func fieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " boş olamaz"
	case "email":
		return field + " geçerli bir e-posta adresi olmalı"
	case "min", "max":
		return fmt.Sprintf("%s uzunluğu sınırların dışında (%s=%s)", field, fe.Tag(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s en az %s olmalı", field, fe.Param())
	default:
		return fmt.Sprintf("%s doğrulanamadı (%s)", field, fe.Tag())
	}
}
