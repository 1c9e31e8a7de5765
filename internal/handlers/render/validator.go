package render

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	appvalidate "github.com/opensharehq/pointsledger/internal/service/validate"
)

func configureValidator(validate *validator.Validate) {
	_ = validate.RegisterValidation("idnumber", validateIDNumber)
	_ = validate.RegisterValidation("cnphone", validatePhone)
	_ = validate.RegisterValidation("bankaccount", validateBankAccount)
	validate.RegisterTagNameFunc(useJSONTagNames)
}

func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

func validateIDNumber(fl validator.FieldLevel) bool {
	return appvalidate.IDNumber(fl.Field().String()) == nil
}

func validatePhone(fl validator.FieldLevel) bool {
	return appvalidate.Phone(fl.Field().String()) == nil
}

func validateBankAccount(fl validator.FieldLevel) bool {
	_, err := appvalidate.BankAccount(fl.Field().String())
	return err == nil
}
