package engine

import (
	"context"
	"fmt"

	"github.com/tsinghua-fib-lab/trafficgym-go/connector"
	"github.com/tsinghua-fib-lab/trafficgym-go/scenario"
)

// Local 进程内连接器
// 功能：以参考引擎实现连接器协议，默认连接器，无进程与网络开销
// 说明：Start重建引擎即完成重置；进程内调用不会阻塞等待外部响应，
// ctx参数仅为满足连接器契约
type Local struct {
	eng *Engine
}

// NewLocal 创建进程内连接器
func NewLocal() *Local {
	return &Local{}
}

// Start 以场景定义初始化（或重置）引擎
func (l *Local) Start(ctx context.Context, def *scenario.Definition) (*connector.StepResult, error) {
	eng, err := New(def)
	if err != nil {
		return nil, &connector.ProtocolError{Op: "start", Err: err}
	}
	l.eng = eng
	return eng.Result(), nil
}

// Step 推送指令批并推进一步
func (l *Local) Step(ctx context.Context, batch *connector.CommandBatch) (*connector.StepResult, error) {
	if l.eng == nil {
		return nil, &connector.ProtocolError{Op: "step", Err: fmt.Errorf("engine not started")}
	}
	res, err := l.eng.Advance(batch)
	if err != nil {
		return nil, &connector.ProtocolError{Op: "step", Err: err}
	}
	return res, nil
}

// Close 结束会话并丢弃引擎
func (l *Local) Close() error {
	l.eng = nil
	return nil
}
