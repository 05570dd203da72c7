package burst_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/execplan/backends"
	"github.com/gomlx/execplan/burst"
	"github.com/gomlx/execplan/graph"
)

type stubDevice struct {
	name string
}

func (d *stubDevice) Name() string     { return d.name }
func (d *stubDevice) IsSoftware() bool { return false }
func (d *stubDevice) PrepareModel(m *graph.Model, p backends.ExecutionPreference) (backends.PreparedModel, error) {
	panic("not used")
}

func TestControllerCaching(t *testing.T) {
	session := burst.NewSession()
	dev1 := &stubDevice{name: "npu0"}
	dev2 := &stubDevice{name: "npu1"}

	c1 := session.ControllerFor(dev1)
	c2 := session.ControllerFor(dev1)
	assert.Same(t, c1, c2, "one controller per device per session")

	c3 := session.ControllerFor(dev2)
	assert.NotSame(t, c1, c3)

	assert.Same(t, dev1, c1.Device())
	assert.Equal(t, int64(2), c1.(*burst.Controller).Uses())
	assert.Equal(t, int64(1), c3.(*burst.Controller).Uses())
}

func TestControllerForConcurrent(t *testing.T) {
	session := burst.NewSession()
	dev := &stubDevice{name: "npu0"}

	const goroutines = 16
	controllers := make([]*burst.Controller, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			controllers[i] = session.ControllerFor(dev).(*burst.Controller)
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		require.Same(t, controllers[0], controllers[i])
	}
	assert.Equal(t, int64(goroutines), controllers[0].Uses())
}
