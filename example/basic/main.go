package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/micaelbergeron/delegate"
	"github.com/micaelbergeron/delegate/transport"
)

func main() {

	log.SetFlags(log.Lshortfile | log.LstdFlags)

	t := transport.NewINMemory()
	t.Initialize()
	defer t.Shutdown()

	pool := delegate.NewPool(t)
	if err := pool.Start(); err != nil {
		log.Fatal(err.Error())
	}
	defer pool.Shutdown()

	registry := delegate.NewRegistry(t)
	if err := registry.Start(); err != nil {
		log.Fatal(err.Error())
	}
	defer registry.Dispose()

	upperID, _ := registry.Register(func(_ context.Context, args []json.RawMessage) ([]json.RawMessage, error) {
		var s string
		if err := json.Unmarshal(args[0], &s); err != nil {
			return nil, err
		}
		out, _ := json.Marshal(strings.ToUpper(s))
		return []json.RawMessage{out}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ack, err := registry.Announce(upperID)
	if err != nil {
		log.Fatal(err.Error())
	}
	if _, err := ack.Await(ctx); err != nil {
		log.Fatal(err.Error())
	}

	upper := pool.Proxy(upperID)

	arg, _ := json.Marshal("hello!")
	results, err := upper(ctx, []json.RawMessage{arg})
	if err != nil {
		log.Fatal(err.Error())
	}

	var s string
	json.Unmarshal(results[0], &s)
	fmt.Println(s)
}
