package env

// Status 环境生命周期状态
type Status int

const (
	StatusUninitialized Status = iota // 尚未Reset
	StatusReady                      // Reset完成，等待第一步
	StatusRunning                    // 回合进行中
	StatusDoneHorizon                // 到达时长上限
	StatusDoneCrash                  // 仿真器故障或碰撞
	StatusDoneTerminal               // 终止谓词满足或全部到达
)

func (s Status) String() string {
	return [...]string{
		"UNINITIALIZED",
		"READY",
		"RUNNING",
		"DONE_HORIZON",
		"DONE_CRASH",
		"DONE_TERMINAL_CONDITION",
	}[s]
}

// Done 判断是否处于终局状态
func (s Status) Done() bool {
	return s >= StatusDoneHorizon
}

// Reason 获取终局原因标签，非终局状态为空串
func (s Status) Reason() string {
	switch s {
	case StatusDoneHorizon:
		return "HORIZON"
	case StatusDoneCrash:
		return "CRASH"
	case StatusDoneTerminal:
		return "TERMINAL_CONDITION"
	default:
		return ""
	}
}
