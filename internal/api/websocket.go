// internal/api/websocket.go
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/SceneDirector/internal/services"
	"github.com/Corphon/SceneDirector/internal/utils"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// TaskWebSocket 把任务进度推送给客户端，任务结束后关闭连接
func (h *Handler) TaskWebSocket(c *gin.Context) {
	tracker, ok := h.Progress.GetTracker(c.Param("id"))
	if !ok {
		h.Response.NotFound(c, ErrorTaskNotFound, "task not found")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", map[string]interface{}{"err": err.Error()})
		return
	}
	defer conn.Close()

	updates := tracker.Subscribe()
	defer tracker.Unsubscribe(updates)

	// 读循环只用于发现客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := writeUpdate(conn, update); err != nil {
				return
			}
			if update.Status != services.TaskStatusRunning {
				// 最后一条消息附带结果
				snapshot := tracker.Snapshot()
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				conn.WriteJSON(snapshot)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, update.Status),
					time.Now().Add(wsWriteWait))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeUpdate(conn *websocket.Conn, update services.ProgressUpdate) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(update); err != nil {
		utils.GetLogger().Debug("websocket write failed", map[string]interface{}{
			"task_id": update.TaskID,
			"err":     err.Error(),
		})
		return err
	}
	return nil
}
