package main

import (
	"context"
	"fmt"
	"log"
	"time"

	suitcase "github.com/bluesky/suitcase-core"
)

func main() {
	flow, err := suitcase.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink, batches, closeBatches := suitcase.NewChannelSink("fanout", 32)
	defer closeBatches()

	go fanoutWorker("ingest", batches)

	if err := flow.Run(ctx, suitcase.StreamOutSink(sink)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}

func fanoutWorker(name string, batches <-chan []*suitcase.Document) {
	for batch := range batches {
		fmt.Printf("[%s] forwarding %d documents at %s\n", name, len(batch), time.Now().Format(time.RFC3339))
	}
}
