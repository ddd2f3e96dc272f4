// Command pfhandler is the userspace page-fault handler process: it accepts
// a one-shot attach handshake over a Unix socket, maps the snapshot memory
// image the VMM tells it about, and serves page faults off the fault
// channel fd passed over that socket until the connection-carrying process
// exits or a fatal fault-channel error occurs (spec §4.F, §6).
package main

import (
	"flag"
	"log"

	"github.com/blacktop/go-microvm/pagefault"
)

func main() {
	faultSize := flag.Uint64("fault-size", 4096, "bytes served per fault; must be a power of two")
	flag.Parse()

	if flag.NArg() != 2 {
		log.Fatalf("usage: %s [-fault-size bytes] <socket_path> <memory_file_path>", flag.CommandLine.Name())
	}
	socketPath := flag.Arg(0)
	memoryFilePath := flag.Arg(1)

	hs, err := pagefault.Accept(socketPath)
	if err != nil {
		log.Fatalf("attach: %v", err)
	}
	log.Printf("attached to pid=%d uid=%d gid=%d, %d regions", hs.PeerPID, hs.PeerUID, hs.PeerGID, len(hs.Regions))

	h, err := pagefault.NewHandler(hs, memoryFilePath, pagefault.Config{FaultSize: *faultSize})
	if err != nil {
		log.Fatalf("init handler: %v", err)
	}
	defer h.Close()

	if err := h.Run(4); err != nil {
		log.Fatalf("fault loop: %v", err)
	}
}
