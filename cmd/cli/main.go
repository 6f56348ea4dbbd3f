package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/downfa11-org/streamlog/pkg/client"
	"github.com/downfa11-org/streamlog/pkg/types"
)

const help = `Commands:
  WRITE <key> <payload>               write an event (key "-" routes randomly)
  CWRITE <key> <expectedLength> <payload>  conditional write
  FLUSH                               wait for all acknowledgements
  SEGMENTS                            list current segments
  EXIT`

func main() {
	addr := flag.String("addr", "localhost:12345", "segment store address")
	scope := flag.String("scope", "default", "stream scope")
	streamName := flag.String("stream", "default", "stream name")
	segments := flag.Int("segments", 4, "number of segments")
	flag.Parse()

	ctx := context.Background()
	connections := client.NewTCPConnectionFactory(nil)
	defer connections.Close()

	w, err := client.NewEventStreamWriter(ctx, types.Stream{Scope: *scope, Name: *streamName}, client.NewStaticController(*addr, *segments), connections)
	if err != nil {
		fmt.Println("❌ Failed to connect:", err)
		os.Exit(1)
	}
	defer w.Close(ctx)

	fmt.Println("🔹 Writer ready. Type HELP for commands.")
	fmt.Println("")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch strings.ToUpper(fields[0]) {
		case "EXIT":
			return
		case "HELP":
			fmt.Println(help)
		case "SEGMENTS":
			for _, s := range w.Selector().ListSegments() {
				fmt.Println(s)
			}
		case "FLUSH":
			fctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := w.Flush(fctx)
			cancel()
			printResult("flushed", err)
		case "WRITE":
			if len(fields) < 3 {
				fmt.Println("ERROR: usage WRITE <key> <payload>")
				continue
			}
			ack, err := w.WriteEvent(ctx, routingKey(fields[1]), []byte(strings.Join(fields[2:], " ")))
			waitAck(ctx, ack, err)
		case "CWRITE":
			if len(fields) < 4 {
				fmt.Println("ERROR: usage CWRITE <key> <expectedLength> <payload>")
				continue
			}
			expected, err := strconv.ParseInt(fields[2], 10, 64)
			if err != nil {
				fmt.Println("ERROR: invalid expected length:", fields[2])
				continue
			}
			ack, err := w.WriteConditionalEvent(ctx, routingKey(fields[1]), expected, []byte(strings.Join(fields[3:], " ")))
			waitAck(ctx, ack, err)
		default:
			fmt.Println("ERROR: unknown command. Type HELP for commands.")
		}
	}
}

func routingKey(k string) string {
	if k == "-" {
		return ""
	}
	return k
}

func waitAck(ctx context.Context, ack *client.AckFuture, err error) {
	if err != nil {
		printResult("", err)
		return
	}
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	printResult("OK", ack.Wait(wctx))
}

func printResult(ok string, err error) {
	if err != nil {
		fmt.Println("ERROR:", err)
		return
	}
	fmt.Println(ok)
}
