package model

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sells-group/market-signals/internal/resilience"
)

// validate is shared by every record type in this package.
var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct runs struct-tag validation and converts failures into a
// resilience.ValidationError naming the offending fields.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return resilience.NewValidationError("", err)
	}
	fields := make([]string, 0, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Namespace())
		msgs = append(msgs, fe.Namespace()+" failed "+fe.Tag())
	}
	return resilience.NewValidationError(strings.Join(fields, ","), errors.New(strings.Join(msgs, "; ")))
}
