package counthandler

import (
	"sync"
	"testing"

	"github.com/kvmshare/securesocket/model"
)

func TestIntegration(t *testing.T) {
	const count = 3
	var (
		handler Handler
		wg      sync.WaitGroup
	)
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func() {
			handler.OnMeasurement(model.Measurement{})
			wg.Done()
		}()
	}
	wg.Wait()
	if handler.Load() != count {
		t.Fatal("did not record all emitted measurements")
	}
}
