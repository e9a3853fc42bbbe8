// ABOUTME: Input validation with go-playground/validator and field-level error messages
// ABOUTME: ValidationError maps JSON field names to human-readable problems

package console

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	telegramTokenRe = regexp.MustCompile(`^[0-9]{5,}:[A-Za-z0-9_-]{35}$`)
	shopDomainRe    = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*\.myshopify\.com$`)
)

var fieldMessages = map[string]string{
	"required":       "is required",
	"email":          "must be a valid email address",
	"min":            "must be at least %s characters",
	"max":            "must be at most %s characters",
	"gte":            "must be greater than or equal to %s",
	"lte":            "must be less than or equal to %s",
	"oneof":          "must be one of: %s",
	"hexcolor":       "must be a hex colour such as #1a2b3c",
	"http_url":       "must be an http or https URL",
	"iso4217":        "must be an ISO 4217 currency code",
	"numeric":        "must contain only digits",
	"unique":         "must not contain duplicates",
	"telegram_token": "must look like 123456789:ABC... as issued by BotFather",
	"shopify_domain": "must be a *.myshopify.com domain",
}

// ValidationError reports invalid input, keyed by JSON field name.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+e.Fields[name])
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("telegram_token", func(fl validator.FieldLevel) bool {
		return telegramTokenRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("shopify_domain", func(fl validator.FieldLevel) bool {
		return shopDomainRe.MatchString(strings.ToLower(fl.Field().String()))
	})
	return v
}

// check validates v and converts failures into a *ValidationError.
func (s *Service) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating input: %w", err)
	}

	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		name := fe.Field()
		if _, seen := out.Fields[name]; seen {
			continue
		}
		out.Fields[name] = message(fe)
	}
	return out
}

func message(fe validator.FieldError) string {
	msg, ok := fieldMessages[fe.Tag()]
	if !ok {
		return "is invalid"
	}
	if strings.Contains(msg, "%s") {
		param := fe.Param()
		if fe.Tag() == "oneof" {
			param = strings.ReplaceAll(param, " ", ", ")
		}
		return fmt.Sprintf(msg, param)
	}
	return msg
}
