package validate

import (
	"reflect"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	termPattern     = regexp.MustCompile(`^\d{2}-\d{2}$`)
	semesterPattern = regexp.MustCompile(`^([ST]\d{1,2}|_)$`)
)

// Register 注册学年、学期格式校验，以及解码后 JSON 值的类型校验
//
//	term:       23-24
//	semester:   S1 / S2 / T1..T3，无学期划分的学校为 _
//	jsonstring: 字符串
//	jsonbool:   布尔
//	numorbool:  数字或布尔（false 表示无分数）
func Register(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"term":       matches(termPattern),
		"semester":   matches(semesterPattern),
		"jsonstring": kindIn(reflect.String),
		"jsonbool":   kindIn(reflect.Bool),
		"numorbool":  kindIn(reflect.Float64, reflect.Bool),
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	return nil
}

// New 创建读取 binding 标签的校验器，供 HTTP 之外的入口（CLI、服务层）复用规则
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.SetTagName("binding")
	if err := Register(v); err != nil {
		panic(err)
	}
	return v
}

func matches(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

// kindIn encoding/json 解码到 any 时数字为 float64
func kindIn(kinds ...reflect.Kind) validator.Func {
	return func(fl validator.FieldLevel) bool {
		k := fl.Field().Kind()
		for _, want := range kinds {
			if k == want {
				return true
			}
		}
		return false
	}
}
