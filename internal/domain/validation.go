package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var idPrefixPattern = regexp.MustCompile(`^[A-Za-z][0-9]{3}$`)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is the structured rejection of caller input. It is
// returned before any hashing, signing or persistence happens.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: fmt.Sprintf(format, args...)}}}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NewValidator returns a validator with the domain tags registered:
// idprefix, notfuture, insttype, certtype and jsondoc. Field names in errors
// follow json tags.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	mustRegister(v, "idprefix", func(fl validator.FieldLevel) bool {
		return idPrefixPattern.MatchString(fl.Field().String())
	})
	mustRegister(v, "notfuture", func(fl validator.FieldLevel) bool {
		t, ok := fl.Field().Interface().(time.Time)
		return ok && !t.After(time.Now())
	})
	mustRegister(v, "insttype", func(fl validator.FieldLevel) bool {
		return InstitutionType(fl.Field().String()).Valid()
	})
	mustRegister(v, "certtype", func(fl validator.FieldLevel) bool {
		return CertificateType(fl.Field().String()).Valid()
	})
	mustRegister(v, "jsondoc", func(fl validator.FieldLevel) bool {
		raw, ok := fl.Field().Interface().(json.RawMessage)
		return ok && json.Valid(raw)
	})

	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

var defaultValidator = NewValidator()

// Validate checks s against its validate tags and converts failures into a
// *ValidationError.
func Validate(s any) error {
	err := defaultValidator.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate %T: %w", s, err)
	}

	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Message: describe(fe)})
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "idprefix":
		return "must be one letter followed by three digits (e.g. Y123)"
	case "notfuture":
		return "must not be in the future"
	case "insttype":
		return fmt.Sprintf("unknown institution type %q", fe.Value())
	case "certtype":
		return fmt.Sprintf("unknown certificate type %q", fe.Value())
	case "jsondoc":
		return "must be valid JSON"
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
