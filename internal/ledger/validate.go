package ledger

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Clark-Hu/votetally/internal/domain"
)

type ballot struct {
	VoterID string `json:"voterId" validate:"required,max=255"`
	ItemID  string `json:"itemId" validate:"required,max=255"`
	Score   int    `json:"score" validate:"min=0,max=5"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// validateBallot reports the first rejected field as a *domain.ValidationError.
func (l *Ledger) validateBallot(b ballot) error {
	err := l.validate.Struct(b)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validate ballot: %w", err)
	}
	fe := verrs[0]
	return &domain.ValidationError{Field: fe.Field(), Message: describe(fe)}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "max":
		if fe.Field() == "score" {
			return fmt.Sprintf("must be between %d and %d", domain.MinScore, domain.MaxScore)
		}
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
