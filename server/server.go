// 仿真器守护进程的HTTP表面
//
// 把参考引擎封装为独立进程可访问的JSON/HTTP服务，端点与跨进程连接器
// 约定的协议一致：POST /init、POST /step、POST /close、GET /ping。
// 守护进程同一时间只持有一个会话，重复POST /init即丢弃旧会话重建。
package server

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tsinghua-fib-lab/trafficgym-go/connector"
	"github.com/tsinghua-fib-lab/trafficgym-go/engine"
	"github.com/tsinghua-fib-lab/trafficgym-go/scenario"
)

// session 一次仿真会话
type session struct {
	id  string
	eng *engine.Engine
}

// Server 仿真器守护进程
// 功能：接收场景定义建立会话，逐步接收指令批并回报车辆状态
// 说明：会话操作串行化，协议本身即一步一批的锁步交换
type Server struct {
	http.Server

	mu      sync.Mutex
	session *session
}

// New 创建守护进程服务
// 参数：addr-监听地址
func New(addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: g,
		},
	}
	g.Use(loggerMiddleware)
	g.Use(gin.Recovery())

	g.GET("/ping", s.ping)
	g.POST("/init", s.initSession)
	g.POST("/step", s.step)
	g.POST("/close", s.closeSession)
	return s
}

func (s *Server) ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// initSession 建立（或重建）仿真会话
func (s *Server) initSession(c *gin.Context) {
	def := &scenario.Definition{}
	if err := c.ShouldBindJSON(def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("bad definition: %v", err)})
		return
	}
	eng, err := engine.New(def)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	sess := &session{id: uuid.NewString(), eng: eng}
	s.mu.Lock()
	if s.session != nil {
		log.Infof("session %s discarded at step %d", s.session.id, s.session.eng.Step())
	}
	s.session = sess
	s.mu.Unlock()
	log.Infof("session %s started: seed %d, %d vehicles", sess.id, def.Seed, len(def.Placements))
	c.Header("X-Session-ID", sess.id)
	c.JSON(http.StatusOK, eng.Result())
}

// step 接收指令批并推进一步
func (s *Server) step(c *gin.Context) {
	batch := &connector.CommandBatch{}
	if err := c.ShouldBindJSON(batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("bad command batch: %v", err)})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		c.JSON(http.StatusConflict, gin.H{"message": "no active session, POST /init first"})
		return
	}
	res, err := s.session.eng.Advance(batch)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// closeSession 结束会话
func (s *Server) closeSession(c *gin.Context) {
	s.mu.Lock()
	if s.session != nil {
		log.Infof("session %s closed at step %d", s.session.id, s.session.eng.Step())
		s.session = nil
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"message": "closed"})
}
