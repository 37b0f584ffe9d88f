package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/trafficgym-go/scenario"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/config"
)

// 就绪探测的重试间隔
const readyInterval = 500 * time.Millisecond

// HTTP 跨进程HTTP连接器
// 功能：通过HTTP/JSON协议与外部仿真器进程交换场景定义、指令批与车辆状态
// 说明：两种工作模式，base_url连接已运行的仿真器，binary+listen由
// 连接器拉起仿真器子进程并在Close时回收；协议端点为
// POST /init、POST /step、POST /close与GET /ping
type HTTP struct {
	baseURL      string
	client       *http.Client
	stepTimeout  time.Duration
	startTimeout time.Duration

	// 由连接器拉起的仿真器进程，连接既有仿真器时为nil
	cmd     *exec.Cmd
	exited  chan error
	exitErr error
}

// NewHTTP 按连接配置创建HTTP连接器
// 功能：连接（或拉起）仿真器并等待其就绪
// 返回：就绪的连接器；仿真器在启动超时内未就绪时返回ProtocolError
func NewHTTP(cfg config.Connector) (*HTTP, error) {
	h := &HTTP{
		client:       &http.Client{},
		stepTimeout:  time.Duration(cfg.StepTimeout * float64(time.Second)),
		startTimeout: time.Duration(cfg.StartTimeout * float64(time.Second)),
	}
	switch {
	case cfg.BaseURL != "":
		h.baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	case cfg.Binary != "":
		if cfg.Listen == "" {
			return nil, fmt.Errorf("connector: listen address required to launch %s", cfg.Binary)
		}
		if err := h.launch(cfg.Binary, cfg.Listen); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("connector: http connector needs base_url or binary")
	}
	if err := h.waitReady(); err != nil {
		h.Close()
		// 子进程中途退出不算超时
		return nil, &ProtocolError{Op: "start", Timeout: h.exitErr == nil, Err: err}
	}
	return h, nil
}

// launch 拉起仿真器子进程
// 说明：子进程的标准输出与标准错误转写到本侧日志，
// 退出状态由独立协程回收
func (h *HTTP) launch(binary, listen string) error {
	h.baseURL = "http://" + listen
	cmd := exec.Command(binary, "-listen", listen)
	cmd.Stdout = log.WriterLevel(logrus.InfoLevel)
	cmd.Stderr = log.WriterLevel(logrus.WarnLevel)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("connector: launch %s: %w", binary, err)
	}
	log.Infof("launched simulator %s (pid %d) on %s", binary, cmd.Process.Pid, listen)
	h.cmd = cmd
	h.exited = make(chan error, 1)
	go func() {
		h.exited <- cmd.Wait()
	}()
	return nil
}

// waitReady 等待仿真器就绪
// 功能：通过HTTP请求检查仿真器是否已经启动并可以响应
// 算法说明：
// 1. 创建HTTP客户端，超时时间取重试间隔
// 2. 循环发送GET请求到/ping端点
// 3. 如果请求成功，关闭响应体并返回nil
// 4. 如果请求失败，等待一个间隔后重试，重试总时长覆盖启动超时
func (h *HTTP) waitReady() error {
	retryCount := int(h.startTimeout / readyInterval)
	if retryCount < 1 {
		retryCount = 1
	}
	client := &http.Client{
		Timeout: readyInterval,
	}
	for i := 0; i < retryCount; i++ {
		resp, err := client.Get(h.baseURL + "/ping")
		if err == nil {
			resp.Body.Close()
			return nil
		}
		if err := h.alive(); err != nil {
			return err
		}
		time.Sleep(readyInterval)
	}
	return fmt.Errorf("simulator `%v` did not become ready after %d retries", h.baseURL, retryCount)
}

// alive 检查被拉起的仿真器进程是否仍在运行
func (h *HTTP) alive() error {
	if h.exitErr != nil {
		return h.exitErr
	}
	if h.exited == nil {
		return nil
	}
	select {
	case werr := <-h.exited:
		if werr != nil {
			h.exitErr = fmt.Errorf("simulator process exited: %v", werr)
		} else {
			h.exitErr = fmt.Errorf("simulator process exited")
		}
		return h.exitErr
	default:
		return nil
	}
}

// post 发送一次JSON请求并解析应答
// 说明：超时（包括对端死锁导致的截止期超出）映射为Timeout协议错误，
// 非200应答把应答体前若干字节作为错误信息
func (h *HTTP) post(ctx context.Context, op, path string, payload, reply any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &ProtocolError{Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &ProtocolError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return &ProtocolError{Op: op, Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &ProtocolError{Op: op, Err: fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))}
	}
	if reply != nil {
		if err := json.NewDecoder(resp.Body).Decode(reply); err != nil {
			return &ProtocolError{Op: op, Err: err}
		}
	}
	return nil
}

// isTimeout 判断请求错误是否为超时
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Start 以场景定义初始化（或重置）仿真器
func (h *HTTP) Start(ctx context.Context, def *scenario.Definition) (*StepResult, error) {
	if err := h.alive(); err != nil {
		return nil, &ProtocolError{Op: "start", Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, h.startTimeout)
	defer cancel()
	res := &StepResult{}
	if err := h.post(ctx, "start", "/init", def, res); err != nil {
		return nil, err
	}
	log.Infof("simulator started with %d vehicles at step %d", len(res.States), res.Step)
	return res, nil
}

// Step 推送指令批并推进一步
func (h *HTTP) Step(ctx context.Context, batch *CommandBatch) (*StepResult, error) {
	if err := h.alive(); err != nil {
		return nil, &ProtocolError{Op: "step", Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, h.stepTimeout)
	defer cancel()
	res := &StepResult{}
	if err := h.post(ctx, "step", "/step", batch, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Close 结束会话并回收子进程
// 功能：通知仿真器结束会话，拉起模式下等待子进程退出，
// 限期未退出则强制终止
func (h *HTTP) Close() error {
	if h.baseURL != "" && h.alive() == nil {
		ctx, cancel := context.WithTimeout(context.Background(), h.stepTimeout)
		if err := h.post(ctx, "close", "/close", struct{}{}, nil); err != nil {
			log.Debugf("close request failed: %v", err)
		}
		cancel()
	}
	if h.cmd == nil {
		return nil
	}
	if h.exitErr == nil {
		select {
		case <-h.exited:
		case <-time.After(2 * time.Second):
			if err := h.cmd.Process.Kill(); err != nil {
				log.Warnf("kill simulator process: %v", err)
			}
			<-h.exited
		}
	}
	log.Infof("simulator process %d reclaimed", h.cmd.Process.Pid)
	h.cmd = nil
	return nil
}
