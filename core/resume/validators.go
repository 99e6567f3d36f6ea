package resume

import (
	"regexp"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/gakuten/core"
)

var (
	phoneTag   = "phone"
	phoneText  = "invalid phone number"
	phoneRegex = regexp.MustCompile(`^\+?[0-9][0-9\- ]{6,18}[0-9]$`)

	periodTag  = "period"
	periodText = "end must not be before start"
)

// InitValidators registers the resume validators and their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(phoneTag, phoneValidation)
	core.RegisterCustomTranslation(validate, translator, phoneTag, phoneText)

	validate.RegisterStructValidation(periodStructValidation, Education{}, WorkExperience{})
	core.RegisterCustomTranslation(validate, translator, periodTag, periodText)
}

func phoneValidation(fl validator.FieldLevel) bool {
	return phoneRegex.MatchString(fl.Field().String())
}

// periodStructValidation checks that End is not before Start when both are well-formed.
// YYYY-MM months compare as strings; malformed ones are reported by the yearmonth tag only.
func periodStructValidation(sl validator.StructLevel) {
	var start, end string
	switch v := sl.Current().Interface().(type) {
	case Education:
		start, end = v.Start, v.End
	case WorkExperience:
		start, end = v.Start, v.End
	default:
		return
	}
	if core.IsYearMonth(start) && core.IsYearMonth(end) && end < start {
		sl.ReportError(end, "end", "End", periodTag, "")
	}
}
