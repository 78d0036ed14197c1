package pkg

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate runs struct validation using go-playground/validator tags.
func Validate(s interface{}) error {
	return validate.Struct(s)
}

// ValidationMessage renders a validator error into spec.md §7's combined
// "<loc>: <msg>, ..." string and the list of offending field paths.
func ValidationMessage(err error) (message string, fields []string) {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error(), nil
	}

	parts := make([]string, 0, len(verrs))
	fields = make([]string, 0, len(verrs))
	for _, e := range verrs {
		// Namespace is "StructName.Field.Nested"; drop the leading struct
		// name so locations read as the JSON-ish path a client recognizes.
		loc := e.Namespace()
		if idx := strings.IndexByte(loc, '.'); idx >= 0 {
			loc = loc[idx+1:]
		}
		parts = append(parts, fmt.Sprintf("%s: %s", loc, e.Tag()))
		fields = append(fields, loc)
	}
	return strings.Join(parts, ", "), fields
}
