// Copyright (c) 2026 The beamshare Authors.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// beamshare is the process entry point wiring config, discovery, the
// session driver, and the UI event bridge together, in the shape of the
// teacher's zkserver.go _main()/main() split: _main does all the fallible
// bringup and returns an error, main reports it and sets the exit code.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/google/uuid"
	"github.com/marcopeereboom/goutil"

	"github.com/beamshare/beamshare/config"
	"github.com/beamshare/beamshare/discovery"
	"github.com/beamshare/beamshare/events"
	"github.com/beamshare/beamshare/session"
	"github.com/beamshare/beamshare/wire"
	"github.com/beamshare/beamshare/zlog"
)

var log = zlog.New("app")

func newEndpointID() [4]byte {
	var id [4]byte
	rand.Read(id[:])
	return id
}

// serve accepts inbound connections on ln until ctx is cancelled, spawning
// one Session per connection registered with hub under a fresh uuid.
func serve(ctx context.Context, ln *discovery.Listener, hub *events.Hub, local wire.EndpointInfo, cfg *config.Settings) {
	for {
		handoff, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Error("accept: %v", err)
				return
			}
		}

		id := uuid.NewString()
		eventsIn, commandsOut := hub.Register(id)
		s := session.New(session.Config{
			ID:                id,
			Role:              session.Inbound,
			Conn:              handoff.Conn,
			Local:             local,
			DownloadsRoot:     cfg.DownloadsRoot,
			Events:            eventsIn,
			Commands:          commandsOut,
			MaxHandshakeFrame: cfg.MaxHandshakeFrame,
			MaxPayloadFrame:   cfg.MaxPayloadChunk,
		})
		log.Info("accepted inbound session %v from %v", id, handoff.Addr)
		go func() {
			defer s.Close()
			if err := s.Run(ctx); err != nil {
				log.Warn("session %v ended: %v", id, err)
			}
		}()
	}
}

// send dials addr and drives one outbound session offering the named
// files, registered with hub so the UI can observe its progress.
func send(ctx context.Context, addr string, paths []string, hub *events.Hub, local wire.EndpointInfo, cfg *config.Settings) error {
	offers := make([]session.Offer, 0, len(paths))
	for i, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return err
		}
		digest, err := goutil.FileSHA256(p)
		if err != nil {
			return fmt.Errorf("could not digest %v: %w", p, err)
		}
		path := p
		offers = append(offers, session.Offer{
			Descriptor: wire.PayloadDescriptor{
				ID:       int64(i + 1),
				Kind:     wire.PayloadFile,
				Filename: filepath.Base(p),
				Size:     fi.Size(),
				Digest:   digest[:],
			},
			Open: func() (io.ReadCloser, error) { return os.Open(path) },
		})
	}

	handoff, err := discovery.Dial(ctx, addr)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	eventsIn, commandsOut := hub.Register(id)
	s := session.New(session.Config{
		ID:                id,
		Role:              session.Outbound,
		Conn:              handoff.Conn,
		Local:             local,
		Offers:            offers,
		Events:            eventsIn,
		Commands:          commandsOut,
		MaxHandshakeFrame: cfg.MaxHandshakeFrame,
		MaxPayloadFrame:   cfg.MaxPayloadChunk,
	})
	defer s.Close()
	log.Info("dialed outbound session %v to %v", id, addr)
	return s.Run(ctx)
}

func _main() error {
	uiAddr := flag.String("ui", "127.0.0.1:7762", "address to serve the UI event websocket on")
	listenAddr := flag.String("listen", ":0", "address to accept inbound transfers on")
	sendAddr := flag.String("send", "", "peer address to send files to; when set, positional args are file paths")
	flag.Parse()

	cfg, err := config.New()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Root, 0700); err != nil {
		return err
	}
	if err := cfg.Load(filepath.Join(cfg.Root, "beamshare.ini")); err != nil {
		return err
	}
	if cfg.Debug {
		log.SetDebug(true)
	}
	if cfg.Trace {
		log.SetTrace(true)
	}
	if cfg.LogFile != "" {
		if err := zlog.SetLogFile(cfg.LogFile); err != nil {
			return fmt.Errorf("log file %v: %w", cfg.LogFile, err)
		}
	}

	log.Info("beamshare starting, root=%v", cfg.Root)
	local := cfg.EndpointInfo(newEndpointID())

	hub := events.NewHub()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	uiServer := &http.Server{Addr: *uiAddr, Handler: mux}
	go func() {
		if err := uiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ui server: %v", err)
		}
	}()
	log.Info("ui event websocket listening on ws://%v/ws", *uiAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *sendAddr != "" {
		return send(ctx, *sendAddr, flag.Args(), hub, local, cfg)
	}

	ln, err := discovery.Listen(*listenAddr)
	if err != nil {
		return err
	}
	log.Info("accepting inbound transfers on %v", ln.Addr())
	go serve(ctx, ln, hub, local, cfg)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	log.Info("shutting down")
	cancel()
	ln.Close()
	uiServer.Close()
	return nil
}

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	if err := _main(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
