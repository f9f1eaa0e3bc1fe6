package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

// dateOnly is accepted for expires_at alongside RFC3339, matching what an
// HTML date input submits.
const dateOnly = "2006-01-02"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("expiry", isExpiry)

	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func isExpiry(fl validator.FieldLevel) bool {
	_, err := parseExpiry(fl.Field().String())
	return err == nil
}

func parseExpiry(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(dateOnly, s)
}

// fieldError is one entry of the details array on a 400 response.
type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var errInvalidJSON = errors.New("invalid JSON body")

// decode reads a JSON body into dst and runs struct validation. An empty
// body decodes as the zero value.
func decode(w http.ResponseWriter, r *http.Request, dst any) ([]fieldError, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return nil, errInvalidJSON
	}

	err := validate.Struct(dst)
	if err == nil {
		return nil, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, err
	}
	details := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fieldError{Field: fe.Field(), Message: formatFieldError(fe)})
	}
	return details, nil
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "expiry":
		return fmt.Sprintf("%s must be an RFC3339 timestamp or a YYYY-MM-DD date", fe.Field())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
