package ops

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message,omitempty"`
}

// BindJSON decodes and validates the body into out. On failure it writes the
// 400 response itself and returns false.
func BindJSON(ctx *gin.Context, out any) bool {
	err := ctx.ShouldBindJSON(out)

	if err != nil {
		RespondBadRequest(ctx, "Invalid request body", parseBindError(err))
		return false
	}

	return true
}

func parseBindError(err error) any {
	// validator errors (struct binding tags)
	var validatorError validator.ValidationErrors

	if errors.As(err, &validatorError) {
		fields := make([]FieldError, 0, len(validatorError))

		for _, fieldError := range validatorError {
			rule := fieldError.Tag()
			param := fieldError.Param()

			fields = append(fields, FieldError{
				Field:   strings.ToLower(fieldError.Field()[:1]) + fieldError.Field()[1:],
				Rule:    rule,
				Param:   param,
				Message: validationMessage(rule, param),
			})
		}
		return gin.H{"fields": fields}
	}

	// bad json
	var syntaxError *json.SyntaxError

	if errors.As(err, &syntaxError) {
		return gin.H{"json": "invalid_json_syntax"}
	}

	// type mismatch
	var typeError *json.UnmarshalTypeError

	if errors.As(err, &typeError) {
		return gin.H{
			"json":  "invalid_json_type",
			"field": typeError.Field,
			"fields": []FieldError{
				{
					Field:   typeError.Field,
					Rule:    "type",
					Message: fmt.Sprintf("must be of type %s", typeError.Type.String()),
				},
			},
		}
	}

	// fallback if the error could not be deciphered
	return gin.H{"reason": err.Error()}
}

func validationMessage(rule, param string) string {
	switch rule {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + param
	case "max":
		return "must be at most " + param
	case "oneof":
		return "must be one of " + strings.ReplaceAll(param, " ", ", ")
	case "excludes":
		return "must not contain " + param
	default:
		if param != "" {
			return fmt.Sprintf("failed %s validation (%s)", rule, param)
		}
		return "failed " + rule + " validation"
	}
}
