package api

import (
	"net/http"

	"tellmewhen/internal/logging"
)

type wsLogStreamConfig struct {
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
	// Source is the logger whose entries are streamed.
	Source *logging.Logger
}

// serveWSLogStream streams live log entries at or above the optional "level"
// query parameter.
func serveWSLogStream(w http.ResponseWriter, r *http.Request, config wsLogStreamConfig) {
	if !requireWSToken(w, r, config.AuthToken, config.Logger) {
		return
	}
	minLevel, err := parseLevelQuery(r)
	if err != nil {
		rejectWS(w, r, config.Logger, wsError{
			Status:  http.StatusBadRequest,
			Message: err.Message,
		})
		return
	}

	output, cancel := config.Source.Subscribe(minLevel)
	if output == nil {
		rejectWS(w, r, config.Logger, wsError{
			Status:  http.StatusServiceUnavailable,
			Message: "log stream unavailable",
		})
		return
	}
	defer cancel()

	conn, upgradeErr := upgradeWebSocket(w, r, config.AllowedOrigins)
	if upgradeErr != nil {
		logWSError(config.Logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     upgradeErr,
		})
		return
	}

	serveWSStream(r, wsStreamConfig[logging.LogEntry]{
		Conn:   conn,
		Logger: config.Logger,
		Output: output,
	})
}

func parseLevelQuery(r *http.Request) (logging.Level, *apiError) {
	raw := r.URL.Query().Get("level")
	if raw == "" {
		return "", nil
	}
	level, ok := logging.ParseLevel(raw)
	if !ok {
		return "", &apiError{Status: http.StatusBadRequest, Message: "invalid log level", Code: codeInvalidLevel}
	}
	return level, nil
}
