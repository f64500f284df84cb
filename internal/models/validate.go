package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"

	apperrors "github.com/alexjbarnes/oauthd/internal/errors"
)

// validate is shared because it caches struct metadata.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validating %T: %w", v, err)
	}

	ve := &apperrors.ValidationError{}
	for _, fe := range fieldErrs {
		ve.Add(fe.Field(), reason(fe))
	}

	return ve
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.Join(strings.Fields(fe.Param()), ", ")
	case "url":
		return "must be an absolute URI"
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// decodeObject unmarshals raw into dst and returns a presence check for
// top-level keys of the original document.
func decodeObject(raw []byte, dst any) (func(key string) bool, error) {
	if !gjson.ValidBytes(raw) {
		return nil, apperrors.NewValidationError("body", "must be valid JSON")
	}

	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, apperrors.NewValidationError("body", "must be a JSON object")
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return nil, apperrors.NewValidationError(typeErr.Field, "must not be a "+typeErr.Value)
		}

		return nil, apperrors.NewValidationError("body", err.Error())
	}

	has := func(key string) bool {
		return doc.Get(key).Exists()
	}

	return has, nil
}

// normalizeSet trims entries and drops duplicates, keeping first
// occurrence order. The result is never nil.
func normalizeSet(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))

	for _, v := range in {
		v = strings.TrimSpace(v)
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	return out
}
