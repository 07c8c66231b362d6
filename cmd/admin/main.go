// Command admin drives the League Manager's operator interface from the
// command line: start the league or check its status.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/openleague/league-manager/internal/protocol"
	"github.com/openleague/league-manager/internal/transport"
)

func main() {
	lmURL := flag.String("lm", envOr("LM_URL", "http://localhost:8080"), "league manager base URL")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] start|status\n", os.Args[0])
		os.Exit(2)
	}

	var msgType protocol.MessageType
	switch flag.Arg(0) {
	case "start":
		msgType = protocol.MsgAdminStartLeagueRequest
	case "status":
		msgType = protocol.MsgAdminGetStatusRequest
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := transport.NewClient(transport.ClientConfig{
		Timeout: *timeout,
		Logger:  zap.NewNop(),
	})
	env := protocol.NewEnvelope(msgType, "admin")
	res, err := client.Call(ctx, *lmURL, env, nil)
	if err != nil {
		log.Fatalf("%s failed: %v", flag.Arg(0), err)
	}

	var pretty json.RawMessage = res.Payload
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		log.Fatalf("decode response: %v", err)
	}
	fmt.Println(string(out))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
