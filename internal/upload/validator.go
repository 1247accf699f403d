package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"datagrid-backend/internal/metadata"
	"datagrid-backend/internal/rules"
)

// FieldError is a failed check on one record field. Column is the record key;
// an empty Column marks a record level failure.
type FieldError struct {
	Column   string
	Message  string
	Expected []string
}

// Validator checks a transformed record before it is accepted.
type Validator interface {
	Validate(ctx context.Context, record map[string]any) []FieldError
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, record map[string]any) []FieldError

func (f ValidatorFunc) Validate(ctx context.Context, record map[string]any) []FieldError {
	return f(ctx, record)
}

// use a single instance, it caches tag parsing
var (
	validate *validator.Validate
	trans    ut.Translator
)

func init() {
	en := en.New()
	uni := ut.New(en, en)
	trans, _ = uni.GetTranslator("en")

	validate = validator.New(validator.WithRequiredStructEnabled())
	if err := en_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		panic(err)
	}
}

// SchemaValidator checks records against column tags and table rules.
// Column checks run first; rules only run on records whose columns pass.
type SchemaValidator struct {
	columns []ColumnTemplate
	rules   []*metadata.Rule
	action  string
}

// NewSchemaValidator builds the default validator for a template. Rules may be nil.
func NewSchemaValidator(columns []ColumnTemplate, tableRules []*metadata.Rule) *SchemaValidator {
	return &SchemaValidator{columns: columns, rules: tableRules, action: "create"}
}

func (v *SchemaValidator) Validate(ctx context.Context, record map[string]any) []FieldError {
	var errs []FieldError
	for _, col := range v.columns {
		val := record[col.Key]
		if val == nil {
			if col.Required {
				// a typed zero value makes the validator report required
				errs = append(errs, translate(col, check("", "required"))...)
			}
			continue
		}
		if col.Validate == "" {
			continue
		}
		if err := check(val, col.Validate); err != nil {
			errs = append(errs, translate(col, err)...)
		}
	}
	if len(errs) > 0 || len(v.rules) == 0 {
		return errs
	}

	for _, violation := range rules.Evaluate(ctx, v.rules, record, nil, v.action) {
		errs = append(errs, FieldError{Column: violation.Field, Message: violation.Message})
	}
	return errs
}

// check runs validator tags on a single value. Unknown tags panic inside the
// validator and come back as an error.
func check(val any, tag string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid validation tag %q: %v", tag, r)
		}
	}()
	return validate.Var(val, tag)
}

func translate(col ColumnTemplate, err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		// bad tag in the column definition
		return []FieldError{{Column: col.Key, Message: fmt.Sprintf("%s: %v", col.Label, err)}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, e := range verrs {
		fe := FieldError{
			Column:  col.Key,
			Message: strings.TrimSpace(col.Label + " " + strings.TrimSpace(e.Translate(trans))),
		}
		if e.Tag() == "oneof" {
			fe.Expected = strings.Fields(e.Param())
		}
		out = append(out, fe)
	}
	return out
}
