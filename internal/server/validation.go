package server

import (
	"errors"
	"strings"
	"sync"
	"unicode"

	"github.com/MarcoPoloResearchLab/bountyboard/internal/registry"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const maxCIDLength = 190

var (
	errUnexpectedValidatorEngine = errors.New("binding validator is not go-playground/validator")

	validatorsOnce sync.Once
	validatorsErr  error
)

// registerValidators installs the "account" and "cid" tags on gin's validator engine.
func registerValidators() error {
	validatorsOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			validatorsErr = errUnexpectedValidatorEngine
			return
		}
		if err := engine.RegisterValidation("account", validateAccount); err != nil {
			validatorsErr = err
			return
		}
		validatorsErr = engine.RegisterValidation("cid", validateCID)
	})
	return validatorsErr
}

func validateAccount(fl validator.FieldLevel) bool {
	_, err := registry.NewAccount(fl.Field().String())
	return err == nil
}

// validateCID accepts an opaque content identifier without whitespace.
func validateCID(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" || len(value) > maxCIDLength {
		return false
	}
	return strings.IndexFunc(value, unicode.IsSpace) < 0
}
