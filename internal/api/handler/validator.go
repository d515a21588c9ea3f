package handler

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/graderoom/graderoom/pkg/validate"
)

// RegisterValidators 在 gin 绑定使用的校验器上注册自定义规则
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return validate.Register(v)
}
