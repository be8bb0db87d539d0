// Echo client over FramedTcp: pipes stdin lines to the server and prints
// whatever comes back. Run with: go run ./cmd/evnet-echo/client [addr]
package main

import (
	"bufio"
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

	ep, err := handler.Network.ConnectSync(evnet.FramedTcp, evnet.Socket(addr))
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	fmt.Printf("[evnet] connected to %s\n", ep)

	task := listener.ForEachAsync(func(e evnet.NodeEvent) {
		if e.Kind != evnet.NodeEventNetwork {
			return
		}
		if e.Network.Kind == evnet.EventMessage {
			fmt.Printf("< %s\n", e.Network.Data)
		}
		if e.Network.Kind == evnet.EventDisconnected {
			fmt.Println("[evnet] server closed the connection")
			handler.Stop()
		}
	})

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if status := handler.Network.Send(ep, scanner.Bytes()); status != evnet.Sent {
			log.Printf("send: %s", status)
		}
	}

	handler.Stop()
	task.Join()
	fmt.Println("[evnet] client stopped")
}
