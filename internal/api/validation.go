package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ValidationError describes one failed field rule.
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// ValidationFailure is the body of a 400 caused by field rules.
type ValidationFailure struct {
	Error   string            `json:"error"`
	Details []ValidationError `json:"details"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Money fields compare as floats so gt/gte/lte tags apply to them.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

var ruleMessages = map[string]string{
	"required": "%s is required",
	"url":      "%s must be a valid URL",
	"uuid":     "%s must be a UUID",
	"min":      "%s must be at least %s",
	"max":      "%s must be at most %s",
	"gt":       "%s must be greater than %s",
	"gte":      "%s must be greater than or equal to %s",
	"lte":      "%s must be less than or equal to %s",
}

func describe(fe validator.FieldError) string {
	format, ok := ruleMessages[fe.Tag()]
	if !ok {
		return fe.Field() + " is invalid"
	}
	if fe.Param() == "" {
		return fmt.Sprintf(format, fe.Field())
	}
	return fmt.Sprintf(format, fe.Field(), fe.Param())
}

// ValidateStruct runs the validate tags of s and returns one entry per failed rule.
func ValidateStruct(s interface{}) []ValidationError {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{{Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{Field: fe.Field(), Tag: fe.Tag(), Message: describe(fe)})
	}
	return out
}

// BindAndValidate decodes the JSON body into req and validates it. On failure
// the response is written and false is returned.
func BindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		Abort(c, http.StatusBadRequest, "invalid request body")
		return false
	}
	if errs := ValidateStruct(req); len(errs) > 0 {
		RespondWithValidationErrors(c, errs)
		return false
	}
	return true
}

func RespondWithValidationErrors(c *gin.Context, errs []ValidationError) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ValidationFailure{Error: "validation failed", Details: errs})
}
