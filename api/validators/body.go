package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/apexlabs-backend/pkg/errors"
)

// DefaultMaxBodyBytes caps admin request bodies.
const DefaultMaxBodyBytes = 64 << 10

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

// DecodeOptions tunes DecodeJSON.
type DecodeOptions struct {
	MaxBytes int64
	// AllowUnknown accepts fields the destination does not declare.
	AllowUnknown bool
	// SkipValidation leaves struct tags to the caller's own validation.
	SkipValidation bool
}

// DecodeJSONBody decodes a strict admin body and runs its validate tags.
func DecodeJSONBody(r *http.Request, dest any) error {
	return DecodeJSON(r, dest, DecodeOptions{})
}

// DecodeJSON reads exactly one JSON value from the body into dest.
func DecodeJSON(r *http.Request, dest any, opts DecodeOptions) error {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBodyBytes
	}
	body := io.LimitReader(r.Body, opts.MaxBytes+1)
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()

	counted := &countingReader{r: body}
	decoder := json.NewDecoder(counted)
	if !opts.AllowUnknown {
		decoder.DisallowUnknownFields()
	}
	if err := decoder.Decode(dest); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return pkgerrors.New(pkgerrors.CodeValidation, "request body is required")
		case counted.n > opts.MaxBytes:
			return pkgerrors.New(pkgerrors.CodePayloadTooLarge, "request body too large").
				WithDetails(map[string]any{"limit_bytes": opts.MaxBytes})
		}
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").WithDetails(map[string]any{"error": err.Error()})
	}
	if decoder.More() {
		return pkgerrors.New(pkgerrors.CodeValidation, "request body must contain a single JSON object")
	}
	if opts.SkipValidation {
		return nil
	}
	if err := validate.Struct(dest); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func formatValidationErrors(err error) *pkgerrors.Error {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = validationMessage(fieldErr)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "email":
		return "must be a valid email"
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	}
	return "is invalid"
}
