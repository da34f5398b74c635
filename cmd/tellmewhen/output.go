package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"tellmewhen/internal/event"
)

type printer struct {
	mutex sync.Mutex
	out   io.Writer
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

func (p *printer) print(message event.Message) {
	line := formatMessage(message)
	p.mutex.Lock()
	defer p.mutex.Unlock()
	_, _ = fmt.Fprintln(p.out, line)
}

// formatMessage renders "<time> <source> <type> <summary>".
func formatMessage(message event.Message) string {
	summary := ""
	if stringer, ok := message.Data.(fmt.Stringer); ok {
		summary = stringer.String()
	}
	return fmt.Sprintf("%s %s %s %s",
		message.PublishedAt.UTC().Format(time.RFC3339Nano),
		message.Source,
		message.Type(),
		summary,
	)
}
