// Command kadnode starts a single kadledger peer listening on 127.0.0.1 at
// self_port, optionally joining the overlay through a peer at
// bootstrap_port (spec §6 "cmd/kadnode <self_port> <bootstrap_port>").
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/kadledger/node/internal/config"
	"github.com/kadledger/node/internal/node"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("kadnode", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML file overriding k/alpha/difficulty/timeouts/log_level")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	positional := fs.Args()
	if len(positional) != 2 {
		fmt.Fprintln(os.Stderr, "usage: kadnode [-config path] <self_port> <bootstrap_port>")
		return 1
	}
	selfPort, err := strconv.Atoi(positional[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERR: invalid self_port:", err)
		return 1
	}
	bootstrapPort, err := strconv.Atoi(positional[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERR: invalid bootstrap_port:", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERR: loading config:", err)
		return 1
	}

	n, err := node.New(cfg, fmt.Sprintf("127.0.0.1:%d", selfPort))
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERR: starting node:", err)
		return 2
	}
	defer n.Close()

	fmt.Printf("node up: id=%s addr=%s\n", n.Self().ID, n.Address())

	// self_port == bootstrap_port means this peer IS the bootstrap: run
	// with no initial JOIN (spec §6).
	if selfPort != bootstrapPort {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.LookupTimeout)
		err := n.Bootstrap(ctx, fmt.Sprintf("127.0.0.1:%d", bootstrapPort))
		cancel()
		if err != nil {
			fmt.Fprintln(os.Stderr, "ERR: bootstrap join failed:", err)
			return 3
		}
		fmt.Printf("joined overlay through 127.0.0.1:%d\n", bootstrapPort)
	} else {
		fmt.Println("running as bootstrap, no initial JOIN")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("shutting down on signal")
	case <-n.Done():
		fmt.Println("shutting down on SHUTDOWN rpc")
	}
	return 0
}
