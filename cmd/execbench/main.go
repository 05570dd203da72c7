// execbench exercises the execution orchestration end-to-end on the software
// device: it builds a small elementwise model, then times repeated
// invocations over the synchronous and burst compute paths.
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/gomlx/execplan/backends/software"
	"github.com/gomlx/execplan/burst"
	"github.com/gomlx/execplan/execution"
	"github.com/gomlx/execplan/graph"
	"github.com/gomlx/execplan/plan"
)

var (
	flagIterations = flag.Int("n", 1000, "Invocations per compute path.")
	flagElements   = flag.Int("elements", 1<<16, "Float32 elements per tensor.")
)

// benchModel is (a+b)*a followed by relu, so the interpreter exercises an
// intermediate operand as well as the boundary ones.
func benchModel(elements int) *graph.Model {
	dims := []uint32{uint32(elements)}
	tensor := graph.Operand{DType: dtypes.Float32, Dimensions: dims}
	return graph.NewModel(
		[]graph.Operand{tensor, tensor, tensor, tensor, tensor},
		[]int{0, 1}, // inputs: a, b
		[]int{4},    // output
		[]graph.Operation{
			{Type: graph.OpAdd, Inputs: []int{0, 1}, Outputs: []int{2}},
			{Type: graph.OpMul, Inputs: []int{2, 0}, Outputs: []int{3}},
			{Type: graph.OpRelu, Inputs: []int{3}, Outputs: []int{4}},
		})
}

type runStats struct {
	name    string
	total   time.Duration
	count   int
	payload uint64
}

func (s runStats) row() []string {
	perCall := s.total / time.Duration(s.count)
	throughput := float64(s.payload) / s.total.Seconds()
	return []string{
		s.name,
		fmt.Sprintf("%d", s.count),
		perCall.Round(time.Microsecond).String(),
		humanize.Bytes(uint64(throughput)) + "/s",
	}
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	device := software.New()
	model := benchModel(*flagElements)
	p := must.M1(plan.NewSimple(model, device))
	opts := execution.Options{
		Software:           device,
		ExplicitDeviceList: true,
		NumDevices:         1,
	}

	byteLen := *flagElements * 4
	inputA := make([]byte, byteLen)
	inputB := make([]byte, byteLen)
	for i := range inputA {
		inputA[i] = byte(rand.Uint32())
		inputB[i] = byte(rand.Uint32())
	}
	output := make([]byte, byteLen)
	payloadPerCall := uint64(3 * byteLen)

	runOne := func(session *burst.Session) {
		e := execution.New(model, p, opts)
		must.M(e.SetInput(0, nil, inputA))
		must.M(e.SetInput(1, nil, inputB))
		must.M(e.SetOutput(0, nil, output))
		if session != nil {
			must.M(e.BurstCompute(session))
		} else {
			must.M(e.Compute())
		}
	}

	bench := func(name string, session *burst.Session) runStats {
		bar := progressbar.NewOptions(*flagIterations,
			progressbar.OptionSetDescription(name),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowIts(),
		)
		start := time.Now()
		for i := 0; i < *flagIterations; i++ {
			runOne(session)
			_ = bar.Add(1)
		}
		elapsed := time.Since(start)
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
		return runStats{
			name:    name,
			total:   elapsed,
			count:   *flagIterations,
			payload: payloadPerCall * uint64(*flagIterations),
		}
	}

	syncStats := bench("compute", nil)
	burstStats := bench("burst-compute", burst.NewSession())

	headerStyle := lipgloss.NewStyle().Bold(true)
	table := lgtable.New().
		Headers("PATH", "CALLS", "LATENCY", "THROUGHPUT").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle().PaddingRight(2)
		}).
		Row(syncStats.row()...).
		Row(burstStats.row()...)
	fmt.Printf("%d x %s float32 elementwise model on %q:\n%s\n",
		*flagIterations, humanize.Comma(int64(*flagElements)), device.Name(), table)
}
