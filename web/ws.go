package web

import (
	"KnifeDetServer/codec"
	"KnifeDetServer/logger"
	"errors"
	"net"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WsResult is sent for every frame received on /ws/detect.
type WsResult struct {
	Seq int `json:"seq"`
	DetectionResponse
	Error string `json:"error,omitempty"`
}

// wsFrameImage extracts image bytes: binary frames are raw file bytes, text
// frames are base64 with an optional data: URL prefix.
func wsFrameImage(mt int, msg []byte) ([]byte, error) {
	switch mt {
	case websocket.BinaryMessage:
		return msg, nil
	case websocket.TextMessage:
		return codec.Base64Bytes(string(msg))
	default:
		return nil, errors.New("unsupported message type")
	}
}

func (s *Server) wsDetect(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	id := requestID(c)
	conn.SetReadLimit(wsReadLimit)
	idle := s.opts.WsIdleTimeout

	for seq := 1; ; seq++ {
		if idle > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(idle))
		}
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "idle timeout"),
					time.Now().Add(time.Second))
			}
			logger.Log().Info("websocket closed", zap.String(requestIDKey, id), zap.Int("Frames", seq-1), zap.Error(err))
			return
		}

		out := WsResult{Seq: seq}
		data, err := wsFrameImage(mt, msg)
		if err == nil {
			res, perr := s.pool.Submit(c.Request.Context(), data)
			if perr == nil {
				out.DetectionResponse, perr = newDetectionResponse(res)
			}
			err = perr
		}
		if err != nil {
			out.Error = err.Error()
		}
		if err := conn.WriteJSON(out); err != nil {
			logger.Log().Warn("websocket write failed", zap.String(requestIDKey, id), zap.Error(err))
			return
		}
	}
}
