package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rickgao/wsclient/internal/broadcast"
	"github.com/rickgao/wsclient/internal/connection"
)

// printer writes the client's streams to out, one line per item.
type printer struct {
	out     io.Writer
	verbose bool

	statuses *broadcast.Subscription[connection.Status]
	messages *broadcast.Subscription[connection.Message]
	events   *broadcast.Subscription[connection.Event]
}

func (p *printer) subscribe(client *connection.Client) {
	p.statuses = client.StatusStream().Subscribe()
	p.messages = client.MessageStream().Subscribe()
	p.events = client.EventStream().Subscribe()
}

// backlog is the number of items waiting to be printed.
func (p *printer) backlog() int {
	return p.statuses.Pending() + p.messages.Pending() + p.events.Pending()
}

// run prints until all three streams close.
func (p *printer) run() {
	statuses, messages, events := p.statuses.C(), p.messages.C(), p.events.C()
	for statuses != nil || messages != nil || events != nil {
		select {
		case s, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			p.printf("status %s\n", s)
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			p.printEvent(e)
		case m, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			p.printMessage(m)
		}
	}
}

func (p *printer) printEvent(e connection.Event) {
	if e.Err != nil {
		p.printf("event %s conn=%s err=%q\n", e.Type, e.ConnID, e.Err.Error())
		return
	}
	p.printf("event %s conn=%s\n", e.Type, e.ConnID)
}

func (p *printer) printMessage(m connection.Message) {
	var (
		data []byte
		err  error
	)
	if p.verbose {
		data, err = json.MarshalIndent(m.Payload, "", "  ")
	} else {
		data, err = json.Marshal(m.Payload)
	}
	if err != nil {
		data = []byte(fmt.Sprintf("%v", m.Payload))
	}
	p.printf("message conn=%s at=%s %s\n", m.ConnID, m.ReceivedAt.Format(time.RFC3339Nano), data)
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}
