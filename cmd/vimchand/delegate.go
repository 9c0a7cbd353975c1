package main

import (
	"encoding/json"

	"github.com/baberthal/vimchannelkit/channel"
	"github.com/baberthal/vimchannelkit/internal/clog"
)

// echoDelegate is a minimal channel.Delegate: it replies "got it!" to any
// request (spec.md §8 scenario 1) and logs every response to a command it
// sent itself. It is meant as a starting point for a real plugin host,
// not a complete one.
type echoDelegate struct {
	logger *clog.Logger
}

func newEchoDelegate(logger *clog.Logger) *echoDelegate {
	return &echoDelegate{logger: logger}
}

func (d *echoDelegate) OnMessage(ch *channel.Channel, msg channel.Message) {
	d.logger.Dump("received message", msg)
	if err := ch.RespondTo(msg, "got it!"); err != nil {
		d.logger.Logf("failed to respond to id=%d: %v", msg.ID, err)
	}
}

func (d *echoDelegate) OnResponseToCommand(ch *channel.Channel, resp channel.Message, cmd channel.Command) {
	var val interface{}
	json.Unmarshal(resp.Body, &val)
	d.logger.Logf("response to %v command (id=%d): %v", cmd.Kind, resp.ID, val)
}
