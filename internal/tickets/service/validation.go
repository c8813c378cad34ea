package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"ms-ticket-gate/internal/models"
)

const maxNameLength = 120

// IssueInput is the checkout request as received at the boundary.
type IssueInput struct {
	Name           string `validate:"required"`
	Email          string `validate:"required,email,max=254"`
	TicketType     string `validate:"required"`
	IdempotencyKey string `validate:"omitempty,max=128,printascii"`
}

var fieldNames = map[string]string{
	"Name":           "name",
	"Email":          "email",
	"TicketType":     "ticketType",
	"IdempotencyKey": "idempotencyKey",
}

type inputValidator struct {
	validate      *validator.Validate
	ticketTypes   models.TicketTypeSet
	nameMinLength int
}

func newInputValidator(types []models.TicketType, nameMinLength int) *inputValidator {
	if nameMinLength < 1 {
		nameMinLength = 1
	}
	return &inputValidator{
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		ticketTypes:   models.NewTicketTypeSet(types),
		nameMinLength: nameMinLength,
	}
}

// check trims the input, validates it and resolves the ticket type. The first
// failing field is reported.
func (v *inputValidator) check(in IssueInput) (IssueInput, models.TicketType, error) {
	in.Name = strings.Join(strings.Fields(in.Name), " ")
	in.Email = strings.TrimSpace(in.Email)
	in.TicketType = strings.TrimSpace(in.TicketType)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)

	if err := v.validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return in, "", fieldError(fieldErrs[0])
		}
		return in, "", &ValidationError{Field: "request", Message: err.Error()}
	}

	if n := len([]rune(in.Name)); n < v.nameMinLength {
		return in, "", &ValidationError{Field: "name", Message: fmt.Sprintf("must be at least %d characters", v.nameMinLength)}
	} else if n > maxNameLength {
		return in, "", &ValidationError{Field: "name", Message: fmt.Sprintf("must be at most %d characters", maxNameLength)}
	}

	ticketType, ok := v.ticketTypes.Resolve(in.TicketType)
	if !ok {
		return in, "", &ValidationError{Field: "ticketType", Message: fmt.Sprintf("unknown ticket type %q", in.TicketType)}
	}

	return in, ticketType, nil
}

func fieldError(fe validator.FieldError) *ValidationError {
	field, ok := fieldNames[fe.Field()]
	if !ok {
		field = fe.Field()
	}

	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "email":
		msg = "must be a valid email address"
	case "max":
		msg = fmt.Sprintf("must be at most %s characters", fe.Param())
	case "printascii":
		msg = "must contain printable ASCII only"
	default:
		msg = fmt.Sprintf("failed %s check", fe.Tag())
	}
	return &ValidationError{Field: field, Message: msg}
}
