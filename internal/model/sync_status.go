package model

import (
	"strconv"
	"strings"
)

// SyncStatus 用户最近一次同步的状态
type SyncStatus string

const (
	SyncStatusIdle            SyncStatus = ""
	SyncStatusUpdating        SyncStatus = "UPDATING"
	SyncStatusComplete        SyncStatus = "COMPLETE"
	SyncStatusAlreadyDone     SyncStatus = "ALREADY_DONE"
	SyncStatusFailed          SyncStatus = "FAILED"
	SyncStatusNoData          SyncStatus = "NO_DATA"
	SyncStatusAccountInactive SyncStatus = "ACCOUNT_INACTIVE"
	SyncStatusHistory         SyncStatus = "HISTORY"
	SyncStatusNotSyncing      SyncStatus = "NOT_SYNCING"
)

// FailedWithCode FAILED-<code>
func FailedWithCode(code int) SyncStatus {
	return SyncStatus(string(SyncStatusFailed) + "-" + strconv.Itoa(code))
}

// ErrorCode 解析 FAILED-<code> 中的错误码
func (s SyncStatus) ErrorCode() (int, bool) {
	rest, ok := strings.CutPrefix(string(s), string(SyncStatusFailed)+"-")
	if !ok || rest == "" {
		return 0, false
	}
	code, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return code, true
}

// Valid 是否为合法状态值
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusIdle, SyncStatusUpdating, SyncStatusComplete, SyncStatusAlreadyDone,
		SyncStatusFailed, SyncStatusNoData, SyncStatusAccountInactive, SyncStatusHistory,
		SyncStatusNotSyncing:
		return true
	}
	_, ok := s.ErrorCode()
	return ok
}

// ── 门户返回的固定消息 ──

const (
	ScrapeMsgIncorrectLogin = "Incorrect login details."
	ScrapeMsgNoClassData    = "No class data."
	ScrapeMsgErrorPrefix    = "Error: "
)

// AccountInactiveMessage 门户账号失效消息
func AccountInactiveMessage(school string) string {
	return "Your " + PortalName(school) + " account is no longer active."
}

// NoGradesMessage 门户无成绩消息
func NoGradesMessage(school string) string {
	return "No " + PortalName(school) + " grades found for this term."
}
