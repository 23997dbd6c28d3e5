// Package main provides the entry point for the alarmgate alarm escalation gateway.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"alarmgate/internal/clients/pagerduty"
	"alarmgate/internal/config"
	"alarmgate/internal/gate"
	"alarmgate/internal/listener"
	"alarmgate/internal/server"
	"alarmgate/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Window and zone errors are configuration mistakes; fail at startup,
	// not on the first alarm.
	window, err := gate.NewWindow(cfg.Paging.WindowStart, cfg.Paging.WindowEnd, cfg.Paging.Zone)
	if err != nil {
		log.Fatalf("Invalid paging window: %v", err)
	}
	allow := gate.NewAllowlist(cfg.Paging.AlertTypeList())

	pager := pagerduty.NewClient(
		cfg.Paging.APIURL,
		cfg.Paging.Token,
		cfg.Paging.ServiceID,
		cfg.Paging.FromEmail,
		cfg.Paging.Urgency,
		cfg.Paging.GetTimeoutDuration(),
	)

	var auditStore listener.AuditStore
	var st *store.Store
	if cfg.Store.Enabled {
		st, err = store.New(cfg.Store.Path)
		if err != nil {
			log.Fatalf("Failed to open alarm store: %v", err)
		}
		if err := st.Migrate(); err != nil {
			log.Fatalf("Failed to migrate alarm store: %v", err)
		}
		auditStore = st
	}

	lst := listener.New(cfg, window, allow, pager, auditStore)
	if err := lst.Listen(); err != nil {
		log.Fatalf("Failed to start listener: %v", err)
	}

	var adminSrv *server.Server
	if cfg.Admin.Enabled {
		adminSrv = server.New(cfg, st)
		go func() {
			if err := adminSrv.Start(); err != nil {
				log.Printf("Admin server stopped: %v", err)
			}
		}()
	}

	go func() {
		if err := lst.Serve(); err != nil {
			log.Fatalf("Listener failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")
	lst.Close()
	if adminSrv != nil {
		adminSrv.Shutdown()
	}
	if st != nil {
		st.Close()
	}
}
