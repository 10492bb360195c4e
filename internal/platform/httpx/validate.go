package httpx

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/schoolledger/feeledger/internal/shared"
)

// Validator checks request DTOs carrying `validate` tags.
type Validator struct {
	v *validator.Validate
}

// NewValidator returns a Validator using the default go-playground rules.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

// Struct validates dto and folds field errors into one shared.ErrValidation.
func (v *Validator) Struct(dto any) error {
	err := v.v.Struct(dto)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := fe.Field() + " failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	sort.Strings(msgs)
	return fmt.Errorf("%w: %s", shared.ErrValidation, strings.Join(msgs, "; "))
}
