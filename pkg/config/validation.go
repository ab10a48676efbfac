package config

import (
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	aceerrors "github.com/XiaoConstantine/ace-go/pkg/errors"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validate checks a configuration against its struct tags.
func Validate(cfg *Config) error {
	if cfg == nil {
		return aceerrors.New(aceerrors.InvalidInput, "config is nil")
	}

	validateOnce.Do(func() {
		validate = validator.New()
	})

	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !stderrors.As(err, &errs) {
		return aceerrors.Wrap(err, aceerrors.ValidationFailed, "config validation failed")
	}

	messages := make([]string, 0, len(errs))
	for _, fe := range errs {
		messages = append(messages, describeFieldError(fe))
	}
	return aceerrors.WithFields(
		aceerrors.New(aceerrors.ValidationFailed, "config validation failed"),
		aceerrors.Fields{"errors": strings.Join(messages, "; ")})
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
