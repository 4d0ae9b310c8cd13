// Command groupshared is a node in a peer-to-peer group file-sharing
// network: it advertises a pool of local files over UDP multicast,
// answers discovery/search/fetch/upload requests, and streams each
// transfer over an ephemeral TCP connection negotiated through the
// command channel.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"groupshare/config"
	"groupshare/dispatch"
	"groupshare/inventory"
	"groupshare/lifecycle"
	"groupshare/logging"
	"groupshare/mcast"
	"groupshare/metrics"
	"groupshare/statusapi"
)

const metricsFlushInterval = 30 * time.Second

func main() {
	cfg, err := config.FromArgs(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logging.Default("groupshared")

	inv, err := inventory.Open(cfg.SharedFolder, cfg.MaxSpace)
	if err != nil {
		log.Fatalf("open inventory: %v", err)
	}
	defer inv.Close()

	ep, err := mcast.Open(cfg.MulticastAddr, cfg.CmdPort)
	if err != nil {
		log.Fatalf("open multicast endpoint: %v", err)
	}

	recorder, err := metrics.Start(log, metricsFlushInterval)
	if err != nil {
		log.Fatalf("start metrics: %v", err)
	}
	defer recorder.Stop()

	pending := lifecycle.NewPendingUploads()
	manager := lifecycle.NewManager(pending, ep, log)
	ctx, wait := manager.Run()

	var status *statusapi.Server
	if cfg.StatusAddr != "" {
		status = statusapi.New(cfg.StatusAddr, inv, log)
		status.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			status.Shutdown(shutdownCtx)
		}()
	}

	d := dispatch.New(inv, ep, pending, cfg.Timeout, log, cfg.MaxSpace)

	log.Infof("groupshared: group=%s port=%d shared_folder=%s max_space=%s timeout=%s",
		cfg.MulticastAddr, cfg.CmdPort, cfg.SharedFolder, logging.Bytes(cfg.MaxSpace), cfg.Timeout)

	go func() {
		if err := d.Run(ctx); err != nil {
			log.Fatalf("dispatch loop: %v", err)
		}
	}()

	wait()
	os.Exit(1)
}
