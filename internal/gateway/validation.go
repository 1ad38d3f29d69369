package gateway

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const maxMessageBodyLen = 1000

// requestValidator is shared across requests; go-playground/validator's
// Validate is safe for concurrent use once built, same as the webhook
// validator it's modeled on.
var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("e164", e164Tag)
	return v
}

// e164Tag adapts validateE164 into a validator.Func for the
// submitMessageRequest.SenderNumber `validate:"required,e164"` tag.
func e164Tag(fl validator.FieldLevel) bool {
	return validateE164(fl.Field().String()) == nil
}

// validateE164 checks sender_number per spec.md §4.5: leading '+',
// 1-15 digits, first digit not zero.
func validateE164(number string) error {
	if len(number) < 2 || number[0] != '+' {
		return &ErrValidation{Field: "sender_number", Reason: "must start with '+'"}
	}
	digits := number[1:]
	if len(digits) < 1 || len(digits) > 15 {
		return &ErrValidation{Field: "sender_number", Reason: "must have 1-15 digits after '+'"}
	}
	if digits[0] == '0' {
		return &ErrValidation{Field: "sender_number", Reason: "first digit must not be zero"}
	}
	for _, r := range digits {
		if !unicode.IsDigit(r) {
			return &ErrValidation{Field: "sender_number", Reason: "must contain only digits after '+'"}
		}
	}
	return nil
}

// validateSubmitRequest runs the struct-tag rules on req (required
// fields, E.164 shape) and reports the first failure. Field-level
// detail that needs a transformed value — the trimmed body, the
// 1000-character cap — stays in validateMessageBody.
func validateSubmitRequest(req *submitMessageRequest) error {
	if err := requestValidator.Struct(req); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok || len(verrs) == 0 {
			return &ErrValidation{Field: "request", Reason: err.Error()}
		}
		fe := verrs[0]
		return &ErrValidation{Field: jsonFieldName(fe.Field()), Reason: describeTag(fe)}
	}
	return nil
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must not be empty"
	case "e164":
		return "must start with '+' followed by 1-15 digits, first digit nonzero"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

func jsonFieldName(structField string) string {
	switch structField {
	case "SenderNumber":
		return "sender_number"
	case "MessageBody":
		return "message_body"
	default:
		return structField
	}
}

// validateMessageBody checks message_body per spec.md §4.5: non-empty
// after trimming, length <= 1000 characters.
func validateMessageBody(body string) (string, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return "", &ErrValidation{Field: "message_body", Reason: "must not be empty"}
	}
	if len([]rune(trimmed)) > maxMessageBodyLen {
		return "", &ErrValidation{Field: "message_body", Reason: "must be at most 1000 characters"}
	}
	return trimmed, nil
}
