// Command txpc-pipe is a loopback demonstration of the relay state
// machines: it opens one pty pair, runs a Relay on each end, and sends a
// single DATA message across to show the data-exchange path working
// without any real hardware. No RESET handshake is performed.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/txpc-project/txpc"
	"github.com/txpc-project/txpc/internal/crcprovider"
	"github.com/txpc-project/txpc/internal/ioadapter"
	"github.com/txpc-project/txpc/internal/relay"
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{Level: log.InfoLevel})

	master, slave, err := ioadapter.OpenPTYPair()
	if err != nil {
		logger.Fatal("open pty pair", "err", err)
	}
	defer master.Close()
	defer slave.Close()

	cfg := txpc.DefaultConnConfig()
	crc := crcprovider.ForBits(cfg.CRCBits)

	received := make(chan []byte, 1)
	listener := relay.New(slave, cfg, crc, func(hdr txpc.Header, payload []byte) bool {
		buf := append([]byte{}, payload...)
		received <- buf
		return true
	}, logger.WithPrefix("listener"))

	sender := relay.New(master, cfg, crc, func(txpc.Header, []byte) bool {
		return true
	}, logger.WithPrefix("sender"))

	status := sender.SendMsg(1, 1, []byte("hello over tinyxpc"))
	logger.Info("queued message", "status", status)

	deadline := time.After(2 * time.Second)
	for {
		sender.WriteContinue()
		listener.ReadContinue()
		listener.WriteContinue()
		sender.ReadContinue()

		select {
		case payload := <-received:
			fmt.Printf("received: %s\n", payload)
			return
		case <-deadline:
			logger.Fatal("timed out waiting for loopback message")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}
