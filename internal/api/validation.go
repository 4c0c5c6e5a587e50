package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// validate checks frames that do not pass through gin binding, using the same tags.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	return v
}

// bindJSON decodes the body into v, answering 400 with readable field errors on failure.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request body",
			"details": validationMessages(err),
		})
		return false
	}
	return true
}

func validationMessages(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{"malformed JSON"}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := snakeCase(fe.Field())
		switch fe.Tag() {
		case "required":
			out = append(out, field+" is required")
		case "email":
			out = append(out, field+" must be a valid email address")
		case "min":
			out = append(out, field+" must be at least "+fe.Param()+" characters")
		case "max":
			out = append(out, field+" must be at most "+fe.Param()+" characters")
		case "url":
			out = append(out, field+" must be a valid URL")
		default:
			out = append(out, field+" is invalid")
		}
	}
	return out
}

func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func validationError(err error) string {
	return strings.Join(validationMessages(err), "; ")
}
