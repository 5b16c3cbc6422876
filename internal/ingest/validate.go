package ingest

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/example/delivery-pipeline/internal/message"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(channelRules(v), Request{})
	return v
}

// channelRules applies the per-channel addressing and content rules.
func channelRules(v *validator.Validate) validator.StructLevelFunc {
	return func(sl validator.StructLevel) {
		req := sl.Current().Interface().(Request)
		switch req.Channel {
		case message.ChannelEmail:
			if v.Var(req.From.Email, "required,email") != nil {
				sl.ReportError(req.From.Email, "from.email", "From", "email", "")
			}
			for i, to := range req.To {
				if v.Var(to, "email") != nil {
					sl.ReportError(to, fmt.Sprintf("to[%d]", i), "To", "email", "")
				}
			}
			if strings.TrimSpace(req.Subject) == "" {
				sl.ReportError(req.Subject, "subject", "Subject", "required", "")
			}
			if req.HTMLBody == "" && req.TextBody == "" {
				sl.ReportError(req.HTMLBody, "html_body", "HTMLBody", "body", "")
			}
		case message.ChannelWhatsApp:
			for i, to := range req.To {
				if v.Var(strings.TrimPrefix(to, "+"), "numeric,min=8,max=15") != nil {
					sl.ReportError(to, fmt.Sprintf("to[%d]", i), "To", "phone", "")
				}
			}
			if req.TextBody == "" && req.TemplateName == "" {
				sl.ReportError(req.TextBody, "text_body", "TextBody", "content", "")
			}
		}
	}
}

// toValidationError flattens validator output into field -> problem.
func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldKey(fe)] = describe(fe)
	}
	return &message.ValidationError{Fields: fields}
}

func fieldKey(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must contain at least " + fe.Param() + " item(s)"
	case "phone":
		return "must be a phone number in international format"
	case "body":
		return "html_body or text_body is required"
	case "content":
		return "text_body or template_name is required"
	}
	return "failed " + fe.Tag() + " check"
}
