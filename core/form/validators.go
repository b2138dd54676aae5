package form

import (
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/studenthub/core"
)

// InitValidators registers form-specific validators & translations
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	core.RegisterCustomTranslation(validate, translator, "fieldtype", "{0} is not a valid field type")
	core.RegisterCustomTranslation(validate, translator, "windoworder", "{0} must not be before visible_from")
	core.RegisterCustomTranslation(validate, translator, "selectoptions", "{0} of type \"select\" must have at least one option")
	core.RegisterCustomTranslation(validate, translator, "nooptions", "{0} must not have options")

	_ = validate.RegisterValidation("fieldtype", fieldTypeValidation)

	validate.RegisterStructValidation(newFormStructValidation, NewForm{})
	validate.RegisterStructValidation(updateFormStructValidation, UpdateForm{})
}

func fieldTypeValidation(fl validator.FieldLevel) bool {
	typ := FieldType(fl.Field().String())
	for _, t := range AllFieldTypes {
		if typ == t {
			return true
		}
	}
	return false
}

func newFormStructValidation(sl validator.StructLevel) {
	nf := sl.Current().Interface().(NewForm)
	validateWindow(sl, nf.VisibleFrom, nf.VisibleUntil)
	validateFields(sl, nf.Fields)
}

func updateFormStructValidation(sl validator.StructLevel) {
	uf := sl.Current().Interface().(UpdateForm)
	validateWindow(sl, uf.VisibleFrom, uf.VisibleUntil)
	validateFields(sl, uf.Fields)
}

func validateWindow(sl validator.StructLevel, from, until *time.Time) {
	if from != nil && until != nil && until.Before(*from) {
		sl.ReportError(until, "visible_until", "VisibleUntil", "windoworder", "")
	}
}

func validateFields(sl validator.StructLevel, fields []Field) {
	for _, fld := range fields {
		if fld.Type == FieldTypeSelect {
			if len(fld.Options) == 0 {
				sl.ReportError(fld.Options, fld.Label, "Options", "selectoptions", "")
			}
		} else if len(fld.Options) > 0 {
			sl.ReportError(fld.Options, fld.Label, "Options", "nooptions", "")
		}
	}
}
