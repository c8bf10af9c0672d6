package respond

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// FieldErrors flattens validator errors into a field -> reason map.
// It returns nil when err carries no field errors.
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, e := range verrs {
		out[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
	}
	return out
}

// BindError writes a 400 validation envelope for a failed request bind.
func BindError(c *gin.Context, err error) {
	if fields := FieldErrors(err); fields != nil {
		Error(c, 400, "validation_error", "invalid request body", fields)
		return
	}
	Error(c, 400, "validation_error", "invalid request body", nil)
}
