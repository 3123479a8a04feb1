package core

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

const (
	PhoneMinDigits = 10
	OTPDigits      = 6
	PINDigits      = 4
)

var (
	Validate   *validator.Validate
	Translator ut.Translator

	// custom validation tags & texts
	phoneTag  = "phonenum"
	phoneText = fmt.Sprintf("phone number must contain at least %d digits", PhoneMinDigits)

	otpCodeTag   = "otpcode"
	otpCodeText  = fmt.Sprintf("code must be exactly %d digits", OTPDigits)
	otpCodeRegex = regexp.MustCompile(fmt.Sprintf(`^[0-9]{%d}$`, OTPDigits))

	pinCodeTag   = "pincode"
	pinCodeText  = fmt.Sprintf("PIN must be exactly %d digits", PINDigits)
	pinCodeRegex = regexp.MustCompile(fmt.Sprintf(`^[0-9]{%d}$`, PINDigits))

	requiredTag  = "required"
	requiredText = "this field is required"
)

// Instantiate the validator for use.
func init() {
	Validate = validator.New()

	// Register the english error messages for validation errors.
	_en := en.New()
	uni := ut.New(_en, _en)
	Translator, _ = uni.GetTranslator("en")

	InitValidators(Validate, Translator)
}

// InitValidators registers the default translations, the JSON tag names and our custom validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// register custom validators
	_ = validate.RegisterValidation(phoneTag, phoneValidation)
	RegisterCustomTranslation(validate, translator, phoneTag, phoneText)

	_ = validate.RegisterValidation(otpCodeTag, otpCodeValidation)
	RegisterCustomTranslation(validate, translator, otpCodeTag, otpCodeText)

	_ = validate.RegisterValidation(pinCodeTag, pinCodeValidation)
	RegisterCustomTranslation(validate, translator, pinCodeTag, pinCodeText)

	RegisterCustomTranslation(validate, translator, requiredTag, requiredText, true)
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// ValidateStruct validates `s` and converts validator errors into a *ValidationError
// carrying the translated field errors.
func ValidateStruct(s interface{}) error {
	err := Validate.Struct(s)
	if err == nil {
		return nil
	}
	vErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	flds := make([]FieldError, 0, len(vErrs))
	for _, vErr := range vErrs {
		flds = append(flds, FieldError{Field: vErr.Field(), Error: vErr.Translate(Translator)})
	}
	return NewValidationError(nil, flds...)
}

// Custom Global Validators

// phoneValidation requires at least PhoneMinDigits digits once separators are dropped.
func phoneValidation(fl validator.FieldLevel) bool {
	return len(OnlyDigits(fl.Field().String())) >= PhoneMinDigits
}

func otpCodeValidation(fl validator.FieldLevel) bool {
	return otpCodeRegex.MatchString(fl.Field().String())
}

func pinCodeValidation(fl validator.FieldLevel) bool {
	return pinCodeRegex.MatchString(fl.Field().String())
}
