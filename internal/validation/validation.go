package validation

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validator.Validate caches struct metadata and is safe for concurrent use.
var validate = validator.New()

// Error lists the fields that failed their validate tags as "field (tag)".
type Error struct {
	Fields []string
}

func (e *Error) Error() string {
	return "invalid input: " + strings.Join(e.Fields, ", ")
}

// Struct checks v against its validate tags. Tag failures come back as
// *Error; anything else (for example a non-struct argument) is returned as is.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" ("+fe.Tag()+")")
	}
	return &Error{Fields: fields}
}
