package main

import (
	"context"
	"flag"

	"github.com/downfa11-org/streamlog/pkg/bench"
	"github.com/downfa11-org/streamlog/pkg/types"
)

func main() {
	addr := flag.String("addr", "localhost:12345", "segment store address")
	scope := flag.String("scope", "bench", "stream scope")
	streamName := flag.String("stream", "bench-stream", "stream name")
	segments := flag.Int("segments", 12, "number of segments")
	producers := flag.Int("producers", 12, "number of producers")
	events := flag.Int("events", 100, "events per producer")
	payload := flag.Int("payload", 100, "payload size in bytes")
	flag.Parse()

	runner := bench.NewBenchmarkRunner(*addr, types.Stream{Scope: *scope, Name: *streamName}, *segments, *producers, *events, *payload)
	runner.Run(context.Background())
}
