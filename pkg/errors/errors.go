package errors

import "errors"

// ErrOptimisticLock 乐观锁冲突：记录已被其他操作修改
var ErrOptimisticLock = errors.New("数据已被其他操作修改，请刷新后重试")

// ── 错误分类 ──
// 各模块的业务错误通过 fmt.Errorf("%w: ...", ErrXxx) 归入以下类别，
// Handler 层按类别映射 HTTP 状态码。

var (
	// ErrValidation 请求数据不合法（权重、手动作业等），在任何写入之前拒绝
	ErrValidation = errors.New("参数校验失败")
	// ErrNotFound 用户、课程或文档不存在
	ErrNotFound = errors.New("资源不存在")
	// ErrConflict 资源状态冲突（例如同一用户的同步正在进行）
	ErrConflict = errors.New("资源状态冲突")
	// ErrUpstreamAuth 学校门户登录凭据错误，原样返回给调用方
	ErrUpstreamAuth = errors.New("门户登录失败")
	// ErrUpstreamData 门户无数据或账号失效，映射为专用的同步状态
	ErrUpstreamData = errors.New("门户数据不可用")
	// ErrUpstreamLocked 门户已锁定作业明细，仅降低比对精度
	ErrUpstreamLocked = errors.New("门户已锁定")
	// ErrUnclassified 未归类错误，对外只暴露错误码
	ErrUnclassified = errors.New("未归类错误")
)
