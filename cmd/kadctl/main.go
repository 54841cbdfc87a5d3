// Command kadctl sends administrative commands to local kadledger peers.
// Its only subcommand is "shutdown <port>...", which sends an authenticated
// SHUTDOWN RPC to each listed local peer (spec §6 "cmd/kadctl shutdown
// <port>...").
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kadledger/node/internal/identity"
	"github.com/kadledger/node/internal/routing"
	"github.com/kadledger/node/internal/rpc"
	"github.com/kadledger/node/pkg/logging"
)

const dialTimeout = 2 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 2 || args[0] != "shutdown" {
		fmt.Fprintln(os.Stderr, "usage: kadctl shutdown <port>...")
		return 1
	}

	// SHUTDOWN is authenticated by the transport (loopback address), not by
	// identity, so any throwaway keypair works as the caller's.
	self, err := identity.GenerateIdentity()
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERR: generating caller identity:", err)
		return 1
	}
	log := logging.New(&logging.Config{Level: "error"})

	failures := 0
	for _, portArg := range args[1:] {
		port, err := strconv.Atoi(portArg)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ERR: invalid port", portArg, ":", err)
			failures++
			continue
		}
		addr := fmt.Sprintf("127.0.0.1:%d", port)
		selfContact := routing.NewContact(self.ID, "127.0.0.1:0", self.Public)
		client := rpc.NewClient(self, selfContact, dialTimeout, nil, log)

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		err = client.Shutdown(ctx, routing.Contact{Address: addr})
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERR: shutdown %s: %v\n", addr, err)
			failures++
			continue
		}
		fmt.Printf("shutdown sent to %s\n", addr)
	}

	if failures > 0 {
		return 2
	}
	return 0
}
