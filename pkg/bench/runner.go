package bench

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/streamlog/pkg/client"
	"github.com/downfa11-org/streamlog/pkg/types"
)

type BenchmarkRunner struct {
	Addr              string
	Stream            types.Stream
	Segments          int
	NumProducers      int
	EventsPerProducer int
	PayloadSize       int
}

type Result struct {
	Events     int
	Failed     int
	Duration   time.Duration
	Throughput float64
}

func NewBenchmarkRunner(addr string, stream types.Stream, segments, producers, events, payloadSize int) *BenchmarkRunner {
	return &BenchmarkRunner{
		Addr:              addr,
		Stream:            stream,
		Segments:          segments,
		NumProducers:      producers,
		EventsPerProducer: events,
		PayloadSize:       payloadSize,
	}
}

func (b *BenchmarkRunner) Run(ctx context.Context) Result {
	controller := client.NewStaticController(b.Addr, b.Segments)
	connections := client.NewTCPConnectionFactory(nil)
	defer connections.Close()

	totalEvents := b.NumProducers * b.EventsPerProducer
	start := time.Now()

	var failed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < b.NumProducers; i++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			c := &BenchClient{
				Controller:  controller,
				Connections: connections,
				Stream:      b.Stream,
				NumEvents:   b.EventsPerProducer,
				PayloadSize: b.PayloadSize,
			}
			if err := c.Run(ctx, pid); err != nil {
				fmt.Printf("Producer %d error: %v\n", pid, err)
				failed.Add(1)
			}
		}(i)
	}
	wg.Wait()

	duration := time.Since(start)
	res := Result{
		Events:     totalEvents,
		Failed:     int(failed.Load()),
		Duration:   duration,
		Throughput: float64(totalEvents) / duration.Seconds(),
	}

	fmt.Printf("\n🧪 BENCHMARK RESULT [%s] 🧪\n", b.Stream)
	fmt.Printf("-------------------------------------\n")
	fmt.Printf(" Producers     : %d\n", b.NumProducers)
	fmt.Printf(" Segments      : %d\n", b.Segments)
	fmt.Printf(" Payload Size  : %d bytes\n", b.PayloadSize)
	fmt.Printf(" Total Events  : %d\n", totalEvents)
	fmt.Printf(" Failed        : %d producers\n", res.Failed)
	fmt.Printf(" Duration      : %v\n", duration)
	fmt.Printf(" Throughput    : %.2f events/sec\n", res.Throughput)
	fmt.Printf("-------------------------------------\n")
	return res
}
