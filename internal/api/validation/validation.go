// Package validation provides request decoding, validation and custom validators.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/form/v4"
	"github.com/go-playground/validator/v10"

	"github.com/rjadr/historymemes/internal/api/response"
	"github.com/rjadr/historymemes/internal/models"
)

// ErrInvalidJSON is returned when a request body is not a single JSON object.
var ErrInvalidJSON = errors.New("invalid JSON body")

var (
	// validate and decoder are safe for concurrent use once configured.
	// Registrations are not: they happen in init() only.
	validate *validator.Validate
	decoder  *form.Decoder
)

func init() {
	validate = validator.New()
	decoder = form.NewDecoder()

	if err := validate.RegisterValidation("search_mode", validateSearchMode); err != nil {
		slog.Error("Failed to register search_mode validator", "error", err)
	}

	if err := validate.RegisterValidation("no_null_bytes", validateNoNullBytes); err != nil {
		slog.Error("Failed to register no_null_bytes validator", "error", err)
	}

	// Report JSON/form names in messages instead of Go field names.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			if name, _, _ := strings.Cut(f.Tag.Get(tag), ","); name != "" && name != "-" {
				return name
			}
		}

		return f.Name
	})
}

// ValidateStruct validates s and returns a readable error listing every failed field.
func ValidateStruct(s any) error {
	if err := validate.Struct(s); err != nil {
		return formatValidationErrors(err)
	}

	return nil
}

// fieldErrors keeps the validator errors next to the formatted message so handlers can
// still list per-field details.
type fieldErrors struct {
	msg  string
	errs validator.ValidationErrors
}

func (e *fieldErrors) Error() string { return e.msg }

func (e *fieldErrors) Unwrap() error { return e.errs }

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("validation failed: %w", err)
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		messages = append(messages, formatFieldError(fieldError))
	}

	return &fieldErrors{msg: "validation failed: " + strings.Join(messages, "; "), errs: validationErrors}
}

func formatFieldError(fieldError validator.FieldError) string {
	field := fieldError.Field()

	switch fieldError.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fieldError.Param())
	case "max":
		if fieldError.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fieldError.Param())
		}

		return fmt.Sprintf("%s must be at most %s", field, fieldError.Param())
	case "search_mode":
		return field + " must be one of: " + strings.Join(modeSlugs(models.Modality(fieldError.Param())), ", ")
	case "no_null_bytes":
		return field + " must not contain NULL bytes"
	default:
		return field + " is invalid"
	}
}

// GetValidationErrorDetails extracts field-level details for an RFC 7807 response.
func GetValidationErrorDetails(err error) []response.ErrorDetail {
	var details []response.ErrorDetail

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, fieldError := range validationErrors {
			details = append(details, response.ErrorDetail{
				Location: fieldError.Field(),
				Message:  formatFieldError(fieldError),
				Value:    fieldError.Value(),
			})
		}
	}

	return details
}

// RespondValidationError writes a 400 problem+json listing the failed fields.
func RespondValidationError(w http.ResponseWriter, err error) {
	response.RespondProblem(w, response.ProblemDetails{
		Type:   "about:blank",
		Title:  "Validation Error",
		Status: http.StatusBadRequest,
		Detail: err.Error(),
		Errors: GetValidationErrorDetails(err),
	})
}

// DecodeForm decodes url.Values (query string or multipart fields) into dst.
func DecodeForm(values url.Values, dst any) error {
	if err := decoder.Decode(dst, values); err != nil {
		return fmt.Errorf("failed to decode form: %w", err)
	}

	return nil
}

// DecodeAndValidateForm decodes values into dst and validates it.
func DecodeAndValidateForm(values url.Values, dst any) error {
	if err := DecodeForm(values, dst); err != nil {
		return err
	}

	return ValidateStruct(dst)
}

// DecodeJSON decodes a single JSON object from the request body, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}

	if dec.More() {
		return fmt.Errorf("%w: trailing data after object", ErrInvalidJSON)
	}

	return nil
}

// modeSlugs lists the mode slugs, restricted to one query modality when modality is set.
func modeSlugs(modality models.Modality) []string {
	var slugs []string

	for _, m := range models.SearchModes() {
		if modality == "" || m.QueryModality() == modality {
			slugs = append(slugs, m.String())
		}
	}

	return slugs
}

// validateSearchMode accepts a mode slug or label. The optional param ("text" or "image")
// restricts the query modality.
func validateSearchMode(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() != reflect.String {
		return false
	}

	mode, err := models.ParseSearchMode(field.String())
	if err != nil || !mode.IsSet() {
		return false
	}

	want := models.Modality(fl.Param())

	return want == "" || mode.QueryModality() == want
}

// validateNoNullBytes rejects strings containing NULL bytes. Non-strings pass.
func validateNoNullBytes(fl validator.FieldLevel) bool {
	field := fl.Field()

	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			return true
		}

		field = field.Elem()
	}

	if field.Kind() != reflect.String {
		return true
	}

	return !strings.Contains(field.String(), "\x00")
}
