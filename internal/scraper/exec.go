package scraper

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"

	"go.uber.org/zap"
)

// maxLineSize 单行输出上限（完整成绩数据一行输出）
const maxLineSize = 16 << 20

// ExecScraper 以子进程方式运行抓取器：
// 请求以 JSON 写入 stdin，stdout 每行一个 JSON 事件
type ExecScraper struct {
	command string
	args    []string
	logger  *zap.Logger
}

// NewExecScraper 创建子进程抓取器
func NewExecScraper(command string, args []string, logger *zap.Logger) *ExecScraper {
	return &ExecScraper{command: command, args: args, logger: logger.Named("scraper")}
}

// Scrape 启动子进程并返回事件通道
func (s *ExecScraper) Scrape(ctx context.Context, req Request) (<-chan Event, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("序列化抓取请求失败: %w", err)
	}

	cmd := exec.CommandContext(ctx, s.command, s.args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("创建抓取器输出管道失败: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("启动抓取器失败: %w", err)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		gotResult := readEvents(ctx, stdout, events)
		// 读完输出后再 Wait，保证 stdout 不被提前关闭
		waitErr := cmd.Wait()
		if gotResult {
			return
		}
		if waitErr != nil {
			s.logger.Warn("抓取器异常退出",
				zap.String("school", req.School),
				zap.Bool("history", req.History),
				zap.String("stderr", truncate(stderr.String(), 512)),
				zap.Error(waitErr),
			)
			send(ctx, events, Event{Err: fmt.Errorf("抓取器退出: %w", waitErr)})
			return
		}
		send(ctx, events, Event{Err: ErrNoResult})
	}()

	return events, nil
}

// readEvents 逐行解析 stdout，转发到 events；读到 Result 后停止并返回 true
func readEvents(ctx context.Context, r io.Reader, events chan<- Event) bool {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := ParseLine(line)
		if err != nil {
			send(ctx, events, Event{Err: err})
			_, _ = io.Copy(io.Discard, r)
			return true
		}
		if !send(ctx, events, ev) {
			_, _ = io.Copy(io.Discard, r)
			return true
		}
		if ev.Result != nil {
			_, _ = io.Copy(io.Discard, r)
			return true
		}
	}
	if err := scanner.Err(); err != nil {
		send(ctx, events, Event{Err: fmt.Errorf("读取抓取器输出失败: %w", err)})
		return true
	}
	return false
}

// ParseLine 解析一行抓取器输出：含 "success" 字段为结果，其余对象均视为进度
func ParseLine(line []byte) (Event, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(line, &probe); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if _, ok := probe["success"]; ok {
		var res Result
		if err := json.Unmarshal(line, &res); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		return Event{Result: &res}, nil
	}
	var p Progress
	if err := json.Unmarshal(line, &p); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return Event{Progress: &p}, nil
}

func send(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
