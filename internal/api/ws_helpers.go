package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tellmewhen/internal/logging"
)

const wsReadBufferSize = 1024
const wsWriteBufferSize = 1024
const wsWriteTimeout = 10 * time.Second
const wsCloseTimeout = time.Second

type wsStreamConfig[T any] struct {
	Conn         *websocket.Conn
	Output       <-chan T
	BuildPayload func(T) (any, bool)
	WriteTimeout time.Duration
	Logger       *logging.Logger
}

// wsError describes a stream request refused before the upgrade.
type wsError struct {
	Status  int
	Message string
	Err     error
}

var errWSNilOutput = errors.New("websocket output channel is nil")

type wsWriteLoop struct {
	Conn     *websocket.Conn
	stopOnce sync.Once
	done     chan struct{}
	exited   chan struct{}
}

func (loop *wsWriteLoop) Stop() {
	if loop == nil {
		return
	}
	loop.stopOnce.Do(func() {
		close(loop.done)
	})
	<-loop.exited
}

func requireWSToken(w http.ResponseWriter, r *http.Request, token string, logger *logging.Logger) bool {
	if !validateToken(r, token) {
		rejectWS(w, r, logger, wsError{
			Status:  http.StatusUnauthorized,
			Message: "unauthorized",
		})
		return false
	}
	return true
}

func upgradeWebSocket(w http.ResponseWriter, r *http.Request, allowedOrigins []string) (*websocket.Conn, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, allowedOrigins)
		},
	}
	return upgrader.Upgrade(w, r, nil)
}

func startWSWriteLoop[T any](config wsStreamConfig[T]) (*wsWriteLoop, error) {
	if config.Output == nil {
		return nil, errWSNilOutput
	}
	conn := config.Conn

	writeTimeout := config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = wsWriteTimeout
	}

	buildPayload := config.BuildPayload
	if buildPayload == nil {
		buildPayload = func(value T) (any, bool) {
			return value, true
		}
	}

	loop := &wsWriteLoop{
		Conn:   conn,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	go func() {
		defer close(loop.exited)
		for {
			select {
			case value, ok := <-config.Output:
				if !ok {
					return
				}
				payload, ok := buildPayload(value)
				if !ok {
					continue
				}
				if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
					return
				}
				if err := conn.WriteJSON(payload); err != nil {
					// Unblock the reader so the handler can return.
					_ = conn.Close()
					return
				}
			case <-loop.done:
				return
			}
		}
	}()

	return loop, nil
}

// serveWSStream writes Output to the connection until the client goes away
// or the request context ends, in which case the client gets a going-away
// close frame. Client frames are read and discarded so close frames are
// processed.
func serveWSStream[T any](r *http.Request, config wsStreamConfig[T]) {
	conn := config.Conn
	defer conn.Close()

	loop, err := startWSWriteLoop(config)
	if err != nil {
		logWSError(config.Logger, r, wsError{
			Status:  http.StatusInternalServerError,
			Message: "websocket stream failed",
			Err:     err,
		})
		return
	}
	defer loop.Stop()

	stop := context.AfterFunc(r.Context(), func() {
		deadline := time.Now().Add(wsCloseTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		_ = conn.Close()
	})
	defer stop()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// rejectWS answers a stream request that will not be upgraded.
func rejectWS(w http.ResponseWriter, r *http.Request, logger *logging.Logger, wsErr wsError) {
	if wsErr.Status == 0 {
		wsErr.Status = http.StatusInternalServerError
	}
	message := strings.TrimSpace(wsErr.Message)
	if message == "" {
		message = http.StatusText(wsErr.Status)
	}
	wsErr.Message = message
	logWSError(logger, r, wsErr)
	writeJSON(w, wsErr.Status, errorResponse{Message: message, Code: codeForStatus(wsErr.Status)})
}

func logWSError(logger *logging.Logger, r *http.Request, wsErr wsError) {
	if logger == nil || r == nil {
		return
	}

	fields := logging.Fields{
		"path":    r.URL.Path,
		"status":  strconv.Itoa(wsErr.Status),
		"message": wsErr.Message,
	}
	if r.RemoteAddr != "" {
		fields["remote_addr"] = r.RemoteAddr
	}
	if wsErr.Err != nil {
		fields["error"] = wsErr.Err.Error()
	}

	if wsErr.Status >= http.StatusInternalServerError {
		logger.Error("websocket error", fields)
	} else {
		logger.Warn("websocket error", fields)
	}
}

// validateToken accepts a bearer header or a token query parameter. An empty
// token disables the check.
func validateToken(r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	presented := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		presented = strings.TrimPrefix(auth, "Bearer ")
	}
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1
}

// isOriginAllowed accepts requests without an Origin header, origins listed in
// allowed (full origin or bare host), and otherwise only same-host origins.
func isOriginAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Hostname() == "" {
		return false
	}
	originHost := parsed.Hostname()

	if len(allowed) > 0 {
		for _, candidate := range allowed {
			if strings.EqualFold(origin, candidate) || strings.EqualFold(originHost, candidate) {
				return true
			}
		}
		return false
	}
	return strings.EqualFold(originHost, hostOnly(r.Host))
}

func hostOnly(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return strings.Trim(hostport, "[]")
}
