package persistence

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"appchat_store/pkg/errorx"

	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
)

// inputValidator 入参校验，错误信息按 json 字段名翻译
type inputValidator struct {
	v     *validator.Validate
	trans ut.Translator
}

// newInputValidator locale 取 "en" 或 "zh"，其他值按英文处理
func newInputValidator(locale string) (*inputValidator, error) {
	v := validator.New()
	// 报错使用 json 字段名（fromId）而不是结构体字段名（FromID）
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	enT := en.New()
	uni := ut.New(enT, enT, zh.New())
	if locale != "zh" {
		locale = "en"
	}
	trans, ok := uni.GetTranslator(locale)
	if !ok {
		return nil, fmt.Errorf("uni.GetTranslator(%s) failed", locale)
	}
	var err error
	if locale == "zh" {
		err = zh_translations.RegisterDefaultTranslations(v, trans)
	} else {
		err = en_translations.RegisterDefaultTranslations(v, trans)
	}
	if err != nil {
		return nil, err
	}
	return &inputValidator{v: v, trans: trans}, nil
}

// check 校验结构体，失败时返回 Validation 错误，消息为翻译后的字段提示
func (iv *inputValidator) check(in any) error {
	err := iv.v.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errorx.Wrap(err, errorx.CodeValidation, "Invalid input")
	}
	msgs := removeTopStruct(verrs.Translate(iv.trans))
	keys := make([]string, 0, len(msgs))
	for k := range msgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, msgs[k])
	}
	return errorx.New(errorx.CodeValidation, strings.Join(parts, "; "))
}

// removeTopStruct 去掉 "newUserInput.email" 里的结构体前缀
func removeTopStruct(fields map[string]string) map[string]string {
	res := make(map[string]string, len(fields))
	for field, msg := range fields {
		res[field[strings.Index(field, ".")+1:]] = msg
	}
	return res
}

func invalid(msg string) error {
	return errorx.New(errorx.CodeValidation, msg)
}

func invalidf(format string, args ...any) error {
	return errorx.Newf(errorx.CodeValidation, format, args...)
}
