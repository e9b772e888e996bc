package main

import (
	"context"
	"fmt"
	"log"

	"github.com/bluesky/suitcase-core/pkg/suitcase"
)

func main() {
	flow, err := suitcase.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	callback := func(batch []*suitcase.Document) error {
		for _, doc := range batch {
			fmt.Printf("%s uid=%s\n", doc.Kind, doc.UID())
		}
		return nil
	}

	if err := flow.Run(ctx, suitcase.StreamOutCallback("stdout", callback)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}
