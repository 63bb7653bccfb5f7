package excel

import (
	"context"
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"sis-gradesync/internal/model"
	"sis-gradesync/pkg/errors"
)

// Validator checks parsed rows against the GradeRow input schema.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

func (v *Validator) Validate(ctx context.Context, grades []model.GradeRow) error {
	if len(grades) == 0 {
		return errors.ErrSchemaValidation
	}

	for i := range grades {
		if err := v.validateGrade(&grades[i], i+2); err != nil {
			return err
		}
	}

	return nil
}

func (v *Validator) validateGrade(grade *model.GradeRow, rowNum int) error {
	err := v.validate.Struct(grade)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	fe := fieldErrs[0]
	return errors.ValidationError{
		Field:   fe.Field(),
		Value:   fe.Value(),
		Message: fmt.Sprintf("row %d: failed %q check", rowNum, fe.Tag()),
	}
}
