package services

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/Daneel-Li/feedback-back/internal/models"
	"github.com/Daneel-Li/feedback-back/internal/types"

	"github.com/go-playground/validator/v10"
)

// 评论中出现链接即拒绝，不要求整段匹配
var urlPattern = regexp.MustCompile(`(?i)(https?://|www\.)[a-z0-9-]`)

var fieldLabels = map[string]string{
	"name":         "Name",
	"email":        "Email",
	"rating":       "Rating",
	"comment":      "Comment",
	"feedbackType": "Feedback Type",
}

// ModerationWorkflow 校验规则和审核状态机，无副作用
type ModerationWorkflow struct {
	validate *validator.Validate
}

func NewModerationWorkflow() *ModerationWorkflow {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("nourl", func(fl validator.FieldLevel) bool {
		return !urlPattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return &ModerationWorkflow{validate: v}
}

// Validate 收集全部字段错误，不在第一个错误处停下
func (w *ModerationWorkflow) Validate(item *models.Feedback) ValidationResult {
	var res ValidationResult
	if err := w.validate.Struct(item); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			res.add("", err.Error())
			return res
		}
		for _, fe := range verrs {
			res.add(fe.Field(), fieldMessage(fe))
		}
	}

	if item.FeedbackOrigin.RequiresEmail() {
		email := strings.TrimSpace(item.Email)
		if email == "" {
			res.add("email", "Email is required")
		} else if err := w.validate.Var(email, "email"); err != nil {
			res.add("email", "Email is not a valid email address.")
		}
	}
	return res
}

func fieldMessage(fe validator.FieldError) string {
	label, ok := fieldLabels[fe.Field()]
	if !ok {
		label = fe.Field()
	}
	switch fe.Tag() {
	case "required":
		return label + " is required"
	case "min", "max":
		return label + " must be between 1 and 5."
	case "nourl":
		return "Your comment cannot contain urls or links."
	}
	return fmt.Sprintf("%s is invalid (%s)", label, fe.Tag())
}

// Transition 三种状态之间可任意切换，返回新副本
func (w *ModerationWorkflow) Transition(item *models.Feedback, status types.FeedbackStatus) (*models.Feedback, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	next := *item
	next.FeedbackStatus = status
	return &next, nil
}
