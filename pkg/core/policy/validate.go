package policy

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	workflowIDPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]{0,127}$`)
	semverPattern     = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`)

	validateOnce sync.Once
	validate     *validator.Validate
)

// schemaValidator 懒加载的全局校验器，自定义 workflowid 与 semver 规则
func schemaValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("workflowid", func(fl validator.FieldLevel) bool {
			return workflowIDPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
			return semverPattern.MatchString(fl.Field().String())
		})
		validate = v
	})
	return validate
}

// Validate 校验配置，返回 *ValidationError 收集全部问题
func Validate(cfg *WorkflowConfig) error {
	if cfg == nil {
		return &ValidationError{Problems: []string{"配置不能为空"}}
	}
	err := schemaValidator().Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Key: cfg.Key(), Problems: []string{err.Error()}}
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, describe(fe))
	}
	return &ValidationError{Key: cfg.Key(), Problems: problems}
}

// describe 将单条字段错误转为可读描述，字段路径去掉顶层结构名
func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s 不能为空", field)
	case "workflowid":
		return fmt.Sprintf("%s 必须以字母开头，只含字母数字 . _ -", field)
	case "semver":
		return fmt.Sprintf("%s 必须是语义化版本号，如 1.0.0", field)
	case "min":
		return fmt.Sprintf("%s 不能小于 %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s 不能大于 %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s 必须是 [%s] 之一", field, fe.Param())
	case "ip|cidr":
		return fmt.Sprintf("%s 必须是IP或CIDR", field)
	default:
		return fmt.Sprintf("%s 不满足规则 %s", field, fe.Tag())
	}
}
