// Package scraper 定义与学校门户抓取器之间的事件协议。
//
// 一次抓取产生零个或多个 Progress 事件，最后恰好一个 Result 事件；
// 传输层故障以 Err 事件结束。事件通道在最后一个事件之后关闭。
package scraper

import (
	"context"
	"errors"

	"github.com/graderoom/graderoom/internal/model"
)

var (
	// ErrNoResult 抓取进程结束时没有输出结果
	ErrNoResult = errors.New("抓取器未返回结果")
	// ErrMalformedEvent 抓取器输出无法解析
	ErrMalformedEvent = errors.New("抓取器输出格式错误")
)

// TermRef 学年与学期
type TermRef struct {
	Term     string `json:"term"`
	Semester string `json:"semester"`
}

// Request 一次抓取请求
type Request struct {
	School   string `json:"school"`
	Username string `json:"username"`
	Password string `json:"password"`
	// 门户锁定时抓取器直接回传的提示数据：最近学期及其课程（不含作业）
	DataIfLocked     []model.ClassGrade `json:"data_if_locked,omitempty"`
	TermDataIfLocked *TermRef           `json:"term_data_if_locked,omitempty"`
	History          bool               `json:"get_history"`
}

// Progress 进度事件
type Progress struct {
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// Result 终止事件
type Result struct {
	Success    bool                               `json:"success"`
	Message    string                             `json:"message,omitempty"`
	NewGrades  model.TermMap[[]model.ClassGrade]  `json:"new_grades,omitempty"`
	NewWeights model.TermMap[[]model.ClassWeight] `json:"new_weights,omitempty"`
}

// Event 抓取事件；Progress、Result、Err 三者恰有其一非空
type Event struct {
	Progress *Progress
	Result   *Result
	Err      error
}

// Scraper 门户抓取器
type Scraper interface {
	// Scrape 启动抓取；ctx 取消时抓取终止，通道随之关闭
	Scrape(ctx context.Context, req Request) (<-chan Event, error)
}
