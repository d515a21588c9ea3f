package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/graderoom/graderoom/internal/dto"
	"github.com/graderoom/graderoom/internal/model"
	"github.com/graderoom/graderoom/pkg/validate"
)

var canonicalFlags struct {
	school    string
	term      string
	semester  string
	className string
	teacher   string
	weights   string
	noWeights bool
}

var canonicalCmd = &cobra.Command{
	Use:   "canonical",
	Short: "教师标准权重",
}

var canonicalSetCmd = &cobra.Command{
	Use:     "set",
	Short:   "设置某门课程某位教师的标准权重，并移除相同的建议",
	Example: `  graderoomctl canonical set --school bellarmine --term 23-24 --semester S1 \
    --class Biology --teacher Smith --weights '{"Labs":60,"Tests":40}'
  graderoomctl canonical set --school basis --term 23-24 --semester S1 \
    --class "Study Hall" --teacher Lee --no-weights`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		f := canonicalFlags
		req, err := buildCanonicalRequest(f.school, f.term, f.semester, f.className, f.teacher, f.weights, !f.noWeights)
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		resp, err := a.services().Weight.SetCanonical(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

// buildCanonicalRequest 解析命令行参数并按 HTTP 接口相同的规则校验
func buildCanonicalRequest(school, term, semester, className, teacher, rawWeights string, hasWeights bool) (*dto.SetCanonicalRequest, error) {
	weights := model.Weights{}
	if rawWeights != "" {
		if err := json.Unmarshal([]byte(rawWeights), &weights); err != nil {
			return nil, fmt.Errorf("--weights 必须为 JSON 对象: %w", err)
		}
	}
	req := &dto.SetCanonicalRequest{
		School:      school,
		Term:        term,
		Semester:    semester,
		ClassName:   className,
		TeacherName: teacher,
		HasWeights:  &hasWeights,
		Weights:     weights,
	}
	if err := validate.New().Struct(req); err != nil {
		return nil, fmt.Errorf("参数校验失败: %w", err)
	}
	return req, nil
}

func init() {
	fl := canonicalSetCmd.Flags()
	fl.StringVar(&canonicalFlags.school, "school", "", "学校（bellarmine / basis / ndsj）")
	fl.StringVar(&canonicalFlags.term, "term", "", "学年，例如 23-24")
	fl.StringVar(&canonicalFlags.semester, "semester", "", "学期，例如 S1")
	fl.StringVar(&canonicalFlags.className, "class", "", "课程名")
	fl.StringVar(&canonicalFlags.teacher, "teacher", "", "教师名")
	fl.StringVar(&canonicalFlags.weights, "weights", "", `权重 JSON，例如 {"Labs":60,"Tests":40}`)
	fl.BoolVar(&canonicalFlags.noWeights, "no-weights", false, "该课程不按类别加权")
	for _, name := range []string{"school", "term", "semester", "class", "teacher"} {
		_ = canonicalSetCmd.MarkFlagRequired(name)
	}

	canonicalCmd.AddCommand(canonicalSetCmd)
}
