// Package handlers contains default model.Handler handlers.
package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/kvmshare/securesocket/model"
	"github.com/m-lab/go/rtx"
)

type stdoutHandler struct{}

func (stdoutHandler) OnMeasurement(m model.Measurement) {
	data, err := json.Marshal(m)
	rtx.Must(err, "unexpected json.Marshal failure")
	fmt.Printf("%s\n", string(data))
}

// StdoutHandler is a Handler that logs on stdout.
var StdoutHandler stdoutHandler

type noHandler struct{}

func (noHandler) OnMeasurement(m model.Measurement) {}

// NoHandler is a Handler that does not print anything
var NoHandler noHandler

// Fanout dispatches each measurement to all the handlers in order.
type Fanout []model.Handler

// OnMeasurement implements model.Handler.OnMeasurement.
func (f Fanout) OnMeasurement(m model.Measurement) {
	for _, h := range f {
		h.OnMeasurement(m)
	}
}
