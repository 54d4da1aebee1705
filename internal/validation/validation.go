/*
 * Copyright 2026 The Wavelet Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package validation validates values received from clients and operators:
// document identities, inbound frames and configuration strings.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
)

const (
	// slugRegexString follows the unreserved characters of RFC 3986 section 2.3.
	slugRegexString               = `^[a-z0-9\-._~]+$`
	caseSensitiveSlugRegexString  = `^[a-zA-Z0-9\-._~]+$`
	timeDurationFormatRegexString = `^(\d+h)?(\d+m)?(\d+s)?(\d+ms)?$`
)

var (
	slugRegex               = regexp.MustCompile(slugRegexString)
	caseSensitiveSlugRegex  = regexp.MustCompile(caseSensitiveSlugRegexString)
	timeDurationFormatRegex = regexp.MustCompile(timeDurationFormatRegexString)
)

var (
	defaultValidator = validator.New()
	defaultEn        = en.New()
	uni              = ut.New(defaultEn, defaultEn)
	trans, _         = uni.GetTranslator(defaultEn.Locale())
)

// ErrRegistration is returned when a built-in rule cannot be registered.
var ErrRegistration = errors.New("register validation rule")

// FieldLevel is the field level interface passed to custom rules.
type FieldLevel = validator.FieldLevel

// Violation is the error returned by the validation of a single value.
type Violation struct {
	Tag         string
	Field       string
	Err         error
	Description string
}

// Error returns the error message.
func (e Violation) Error() string {
	if e.Description != "" {
		return e.Description
	}
	return e.Err.Error()
}

// StructError is the error returned by the validation of struct.
type StructError struct {
	Violations []Violation
}

// Error returns the messages of all violations, one per line.
func (s StructError) Error() string {
	sb := strings.Builder{}

	for _, v := range s.Violations {
		sb.WriteString(v.Error())
		sb.WriteString("\n")
	}

	return strings.TrimSpace(sb.String())
}

// RegisterValidation registers a custom rule with the given tag.
func RegisterValidation(tag string, fn validator.Func) error {
	if err := defaultValidator.RegisterValidation(tag, fn); err != nil {
		return fmt.Errorf("register validation %s: %w", tag, err)
	}
	return nil
}

// RegisterTranslation registers the message shown when the rule of the given
// tag fails. {0} is replaced with the field name.
func RegisterTranslation(tag, msg string) error {
	if err := defaultValidator.RegisterTranslation(
		tag,
		trans,
		func(ut ut.Translator) error {
			return ut.Add(tag, msg, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(tag, fe.Field())
			return t
		},
	); err != nil {
		return fmt.Errorf("register translation %s: %w", tag, err)
	}
	return nil
}

// ValidateValue validates the value with the tag.
func ValidateValue(v interface{}, tag string) error {
	err := defaultValidator.Var(v, tag)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return err
	}

	return Violation{
		Tag:         errs[0].Tag(),
		Err:         errs[0],
		Description: errs[0].Translate(trans),
	}
}

// ValidateStruct validates the struct using its `validate` tags.
func ValidateStruct(s interface{}) error {
	err := defaultValidator.Struct(s)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err
	}

	structError := &StructError{}
	for _, e := range errs {
		structError.Violations = append(structError.Violations, Violation{
			Tag:         e.Tag(),
			Field:       e.StructField(),
			Err:         e,
			Description: e.Translate(trans),
		})
	}
	return structError
}

type rule struct {
	tag     string
	message string
	fn      validator.Func
}

var rules = []rule{
	{
		tag:     "slug",
		message: "{0} must only contain lowercase letters, numbers, hyphen, period, underscore, and tilde",
		fn: func(level validator.FieldLevel) bool {
			return slugRegex.MatchString(level.Field().String())
		},
	},
	{
		tag:     "case_sensitive_slug",
		message: "{0} must only contain letters, numbers, hyphen, period, underscore, and tilde",
		fn: func(level validator.FieldLevel) bool {
			return caseSensitiveSlugRegex.MatchString(level.Field().String())
		},
	},
	{
		tag:     "duration",
		message: "{0} must be a valid time duration string format",
		fn: func(level validator.FieldLevel) bool {
			val := level.Field().String()
			return val != "" && timeDurationFormatRegex.MatchString(val)
		},
	},
}

func init() {
	if err := entranslations.RegisterDefaultTranslations(defaultValidator, trans); err != nil {
		panic(fmt.Errorf("%w: default translations: %v", ErrRegistration, err))
	}

	for _, r := range rules {
		if err := RegisterValidation(r.tag, r.fn); err != nil {
			panic(fmt.Errorf("%w: %v", ErrRegistration, err))
		}
		if err := RegisterTranslation(r.tag, r.message); err != nil {
			panic(fmt.Errorf("%w: %v", ErrRegistration, err))
		}
	}
}
