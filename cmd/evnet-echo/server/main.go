// Echo server over FramedTcp: every Message it receives is sent straight
// back to its sender. Run with: go run ./cmd/evnet-echo/server [addr]
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/atsika/evnet"
)

func main() {
	addr := "127.0.0.1:9000"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	handler, listener, err := evnet.NewNode(nil, evnet.DefaultMaxBacklog, 256)
	if err != nil {
		log.Fatalf("new node: %v", err)
	}

	id, bound, err := handler.Network.ListenFramedTCP(addr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	fmt.Printf("[evnet] echo server listening on %s (resource %d)\n", bound, id)

	listener.ForEach(func(e evnet.NodeEvent) {
		if e.Kind != evnet.NodeEventNetwork {
			return
		}
		switch e.Network.Kind {
		case evnet.EventAccepted:
			fmt.Printf("[evnet] accepted %s\n", e.Network.Endpoint)
		case evnet.EventMessage:
			status := handler.Network.Send(e.Network.Endpoint, e.Network.Data)
			if status != evnet.Sent {
				log.Printf("echo to %s: %s", e.Network.Endpoint, status)
			}
		case evnet.EventDisconnected:
			fmt.Printf("[evnet] disconnected %s\n", e.Network.Endpoint)
		}
	})
}
