package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peerd/pkg/client"
	"peerd/pkg/version"
)

const usage = `usage: peerctl [flags] <command>

commands:
  status          show updater status
  zones           list zones and their peers
  render          print the configuration peerd would write
  update          trigger an update cycle
  journal         show recent update cycles (-n)
  watch           stream update cycle events
  login <user>    print a token for user (password from PEERD_PASSWORD)
`

func main() {
	defaultAddr := os.Getenv("PEERD_ADDR")
	if defaultAddr == "" {
		defaultAddr = "http://127.0.0.1:7070"
	}
	addr := flag.String("addr", defaultAddr, "peerd API base URL (env PEERD_ADDR)")
	token := flag.String("token", os.Getenv("PEERD_API_TOKEN"), "API token or JWT (env PEERD_API_TOKEN)")
	caFile := flag.String("ca", os.Getenv("PEERD_CA_FILE"), "CA file for API TLS (optional)")
	clientCert := flag.String("cert", "", "client TLS certificate (for mTLS)")
	clientKey := flag.String("key", "", "client TLS key (for mTLS)")
	insecure := flag.Bool("insecure", false, "skip TLS verify (not recommended)")
	limit := flag.Int("n", 20, "number of journal entries")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	showVersion := flag.Bool("v", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("peerctl version=%s\n", version.String())
		return
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c, err := client.New(*addr, *token, client.TLSOptions{
		CAFile:   *caFile,
		CertFile: *clientCert,
		KeyFile:  *clientKey,
		Insecure: *insecure,
	})
	if err != nil {
		log.Fatalf("client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := flag.Arg(0)
	if cmd == "watch" {
		if err := c.Events(ctx, printEvent); err != nil {
			log.Fatalf("watch: %v", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	switch cmd {
	case "status":
		printJSON(c.Status(ctx))
	case "zones":
		printJSON(c.Zones(ctx))
	case "update":
		printJSON(c.Update(ctx))
	case "journal":
		printJSON(c.Journal(ctx, *limit))
	case "render":
		r, err := c.Render(ctx)
		if err != nil {
			log.Fatalf("render: %v", err)
		}
		if r.Deferred {
			log.Fatalf("render deferred: zone %s is busy, try again", r.BusyZone)
		}
		for _, name := range r.Skipped {
			log.Printf("skipped peer with invalid bgp properties: %s", name)
		}
		fmt.Println(r.Config)
	case "login":
		if flag.NArg() < 2 {
			log.Fatal("login requires a user name")
		}
		tok, err := c.Login(ctx, flag.Arg(1), os.Getenv("PEERD_PASSWORD"))
		if err != nil {
			log.Fatalf("login: %v", err)
		}
		fmt.Println(tok)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func printJSON(v interface{}, err error) {
	if err != nil {
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("encode: %v", err)
	}
}

func printEvent(e client.Event) {
	ev, ok := e.Cycle()
	if !ok {
		fmt.Printf("%s %s\n", e.Type, e.Payload)
		return
	}
	line := fmt.Sprintf("%s cycle=%d retries=%d outcome=%s",
		ev.Timestamp.Format(time.RFC3339), ev.ID, ev.Retries, ev.Outcome)
	switch {
	case ev.BusyZone != "":
		line += " busy=" + ev.BusyZone
	case ev.Error != "":
		line += " error=" + ev.Error
	case ev.Lines > 0:
		line += fmt.Sprintf(" peers=%d", ev.Lines)
	}
	fmt.Println(line)
}
