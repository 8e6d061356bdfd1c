// Command kiosk forwards card reads from a reader attached to stdin to the
// attendance gRPC service, one card id per line.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/grpc/status"

	"rollcall/attendance/internal/clients"
)

type tapper interface {
	Tap(ctx context.Context, studentID string) (map[string]interface{}, error)
}

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", envOr("KIOSK_GRPC_ADDR", "127.0.0.1:9090"), "attendance gRPC address")
	token := flag.String("token", os.Getenv("SERVICE_AUTH_TOKEN"), "service token")
	timeout := flag.Duration("timeout", 5*time.Second, "per tap timeout")
	flag.Parse()

	kiosk, err := clients.Dial(*addr, *token)
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer kiosk.Close()

	if err := run(context.Background(), kiosk, os.Stdin, os.Stdout, *timeout); err != nil {
		log.Fatalf("read cards: %v", err)
	}
}

// run taps every non-empty line and prints one outcome line per tap.
// Failed taps are reported and do not stop the loop.
func run(ctx context.Context, k tapper, in io.Reader, out io.Writer, timeout time.Duration) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		card := strings.TrimSpace(scanner.Text())
		if card == "" {
			continue
		}
		tapCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := k.Tap(tapCtx, card)
		cancel()
		if err != nil {
			st := status.Convert(err)
			fmt.Fprintf(out, "%s: rejected (%s)\n", card, st.Message())
			continue
		}
		msg, _ := resp["message"].(string)
		fmt.Fprintf(out, "%s: %s\n", card, msg)
	}
	return scanner.Err()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
