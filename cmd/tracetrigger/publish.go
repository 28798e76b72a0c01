package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"tracetrigger/config"
	inputredis "tracetrigger/internal/input/redis"
	"tracetrigger/internal/source"
	"tracetrigger/internal/transform/etwjson"
)

// runPublish pushes JSONL trace events onto the configured live input so
// running triggers see them as ordinary session traffic.
func runPublish(args []string) int {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	input := fs.String("input", "", "JSONL file of trace events")
	configArg := fs.String("config", "", "Config file naming the input transport")
	delay := fs.Duration("delay", 0, "Pause between events")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *input == "" {
		fmt.Fprintln(os.Stderr, "-input is required")
		return 2
	}

	cfg, err := config.LoadConfig(findConfigFile(*configArg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	applyDefaults(cfg)

	publish, closeFn, err := livePublisher(cfg.TraceTrigger.Input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open input: %v\n", err)
		return 1
	}
	defer closeFn()

	f, err := os.Open(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open %s: %v\n", *input, err)
		return 1
	}
	defer f.Close()

	sent, skipped := 0, 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if _, err := etwjson.Parse(line); err != nil {
			skipped++
			continue
		}
		if err := publish(line); err != nil {
			fmt.Fprintf(os.Stderr, "publish failed after %d events: %v\n", sent, err)
			return 1
		}
		sent++
		if *delay > 0 {
			time.Sleep(*delay)
		}
	}
	if err := sc.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", *input, err)
		return 1
	}
	fmt.Printf("published events=%d skipped=%d\n", sent, skipped)
	return 0
}

func livePublisher(cfg config.InputConfig) (func([]byte) error, func(), error) {
	switch cfg.Mode {
	case "redis":
		consumer, err := inputredis.NewConsumer(inputredis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
		if err != nil {
			return nil, nil, err
		}
		push := func(line []byte) error {
			return consumer.Push(context.Background(), append([]byte(nil), line...))
		}
		return push, func() { consumer.Close() }, nil
	case "nats":
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("tracetrigger-publish"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		publish := func(line []byte) error {
			ev, err := etwjson.Parse(line)
			if err != nil {
				return err
			}
			return source.Publish(nc, cfg.NATS.Subject, ev)
		}
		return publish, func() {
			nc.Flush()
			nc.Close()
		}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported input mode: %s", cfg.Mode)
	}
}
