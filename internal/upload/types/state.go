package types

// State 上传状态机的状态。迁移动作以目标状态命名。
type State string

const (
	// StateIdle 新建或自我修正后的初始状态
	StateIdle State = "idle"
	// StateReceiving 正在接收分片
	StateReceiving State = "receiving"
	// StateReceived 所有分片已接收
	StateReceived State = "received"
	// StateReceiveFailure 接收失败，等待重试
	StateReceiveFailure State = "receive_failure"
	// StateMerged 已在对象存储完成合并（终态）
	StateMerged State = "merged"
	// StateMergeFailure 合并失败，等待重试
	StateMergeFailure State = "merge_failure"
)

// Valid 检查状态是否有效
func (s State) Valid() bool {
	switch s {
	case StateIdle, StateReceiving, StateReceived, StateReceiveFailure, StateMerged, StateMergeFailure:
		return true
	}
	return false
}

// String 返回字符串表示
func (s State) String() string {
	return string(s)
}

// ParseState 解析外部传入的状态名
func ParseState(s string) (State, bool) {
	st := State(s)
	return st, st.Valid()
}
