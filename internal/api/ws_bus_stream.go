package api

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"tellmewhen/internal/event"
	"tellmewhen/internal/logging"
)

const defaultStreamBuffer = 256

type wsBusStreamConfig struct {
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
	Bus            *event.Bus[event.Message]
	// BufferSize bounds the messages queued for one client. Messages beyond it
	// are dropped for that client only.
	BufferSize int
}

// busStream is one client's subscription. The bus callback never blocks.
type busStream struct {
	output  chan event.Message
	dropped atomic.Uint64
	limiter *rate.Limiter
	logger  *logging.Logger
}

func (s *busStream) offer(message event.Message) {
	select {
	case s.output <- message:
	default:
		dropped := s.dropped.Add(1)
		if s.limiter.Allow() {
			s.logger.Warn("event stream client too slow, dropping messages", logging.Fields{
				"dropped": strconv.FormatUint(dropped, 10),
			})
		}
	}
}

// serveWSBusStream subscribes to the bus and streams matching messages to a
// websocket connection.
func serveWSBusStream(w http.ResponseWriter, r *http.Request, config wsBusStreamConfig) {
	if !requireWSToken(w, r, config.AuthToken, config.Logger) {
		return
	}
	if config.Bus == nil {
		rejectWS(w, r, config.Logger, wsError{
			Status:  http.StatusServiceUnavailable,
			Message: "event stream unavailable",
		})
		return
	}
	filter, err := parseMessageFilter(r)
	if err != nil {
		rejectWS(w, r, config.Logger, wsError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
		})
		return
	}

	conn, err := upgradeWebSocket(w, r, config.AllowedOrigins)
	if err != nil {
		logWSError(config.Logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     err,
		})
		return
	}

	size := config.BufferSize
	if size <= 0 {
		size = defaultStreamBuffer
	}
	stream := &busStream{
		output:  make(chan event.Message, size),
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 1),
		logger:  logging.OrNop(config.Logger).With(logging.Fields{"remote_addr": r.RemoteAddr}),
	}
	id := config.Bus.SubscribeFiltered(filter, stream.offer)
	defer config.Bus.Unsubscribe(id)

	serveWSStream(r, wsStreamConfig[event.Message]{
		Conn:   conn,
		Logger: config.Logger,
		Output: stream.output,
		BuildPayload: func(message event.Message) (any, bool) {
			return newMessagePayload(message), true
		},
	})
}

// parseMessageFilter reads the optional comma separated "domain" and "type"
// query parameters. A nil filter accepts every message.
func parseMessageFilter(r *http.Request) (func(event.Message) bool, error) {
	domains := splitQuery(r.URL.Query().Get("domain"))
	types := splitQuery(r.URL.Query().Get("type"))
	if len(domains) == 0 && len(types) == 0 {
		return nil, nil
	}
	domainSet := make(map[event.Domain]struct{}, len(domains))
	for _, domain := range domains {
		parsed, ok := parseDomain(domain)
		if !ok {
			return nil, &unknownDomainError{domain: domain}
		}
		domainSet[parsed] = struct{}{}
	}
	typeSet := make(map[string]struct{}, len(types))
	for _, name := range types {
		typeSet[name] = struct{}{}
	}
	return func(message event.Message) bool {
		if len(domainSet) > 0 {
			if _, ok := domainSet[message.Domain()]; !ok {
				return false
			}
		}
		if len(typeSet) > 0 {
			if _, ok := typeSet[message.Type()]; !ok {
				return false
			}
		}
		return true
	}, nil
}

type unknownDomainError struct {
	domain string
}

func (e *unknownDomainError) Error() string {
	return "unknown domain " + strconv.Quote(e.domain)
}

func splitQuery(value string) []string {
	var parts []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
