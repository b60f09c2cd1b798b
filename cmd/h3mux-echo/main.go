// Command h3mux-echo dials or listens for an HTTP-over-QUIC session and
// echoes every request it receives back to the sender, byte for byte. It
// exists to exercise transport/quicgo.go against a real QUIC socket instead
// of the in-memory loopback the package tests use.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"
	"sigs.k8s.io/yaml"

	"github.com/costinm/h3mux/h3"
	"github.com/costinm/h3mux/transport"
)

var (
	listen     = flag.String("listen", "", "address to listen on; if set, runs as server")
	dial       = flag.String("dial", "", "address to dial; if set, runs as client")
	configPath = flag.String("config", "", "optional YAML file overlaying EchoConfig")
)

// EchoConfig is the demo's config overlay, decoded from YAML via
// sigs.k8s.io/yaml the way the teacher's MeshSettings is loaded from a
// config file in cmd/hbone.
type EchoConfig struct {
	ALPN                      string `json:"alpn"`
	PartialReliabilityEnabled bool   `json:"partialReliabilityEnabled"`
	MaxReadsPerLoop           int    `json:"maxReadsPerLoop"`
}

func loadConfig(path string) (EchoConfig, error) {
	cfg := EchoConfig{ALPN: "h3-27"}
	if path == "" {
		return cfg, nil
	}
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func main() {
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("h3mux-echo: config: %v", err)
	}

	logger := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	sessCfg := h3.SessionConfig{
		ALPN:                      cfg.ALPN,
		PartialReliabilityEnabled: cfg.PartialReliabilityEnabled,
		MaxReadsPerLoop:           cfg.MaxReadsPerLoop,
		Log:                       &logger,
	}

	ctx := context.Background()
	switch {
	case *listen != "":
		if err := runServer(ctx, *listen, sessCfg, logger); err != nil {
			log.Fatalf("h3mux-echo: server: %v", err)
		}
	case *dial != "":
		if err := runClient(ctx, *dial, sessCfg, logger); err != nil {
			log.Fatalf("h3mux-echo: client: %v", err)
		}
	default:
		fmt.Fprintln(os.Stderr, "usage: h3mux-echo -listen addr | -dial addr")
		os.Exit(2)
	}
}

func devTLSConfig(alpn string) *tls.Config {
	cert, err := selfSignedCert()
	if err != nil {
		log.Fatalf("h3mux-echo: self-signed cert: %v", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpn},
	}
}

func runServer(ctx context.Context, addr string, cfg h3.SessionConfig, logger zerolog.Logger) error {
	ln, err := quic.ListenAddr(addr, devTLSConfig(cfg.ALPN), nil)
	if err != nil {
		return err
	}
	logger.Info().Str("addr", addr).Msg("h3mux-echo: listening")

	for {
		qconn, err := ln.Accept(ctx)
		if err != nil {
			return err
		}
		go func() {
			if err := serveConn(ctx, qconn, cfg, logger); err != nil {
				logger.Error().Err(err).Msg("h3mux-echo: connection ended")
			}
		}()
	}
}

func serveConn(ctx context.Context, qconn quic.Connection, cfg h3.SessionConfig, logger zerolog.Logger) error {
	loop := newDispatchLoop()
	qsess := transport.NewQuicGoSession(qconn, transport.RoleServer, loop.dispatch)

	cfg.OnNewPeerStream(func(s *h3.Stream) {
		s.SetHandler(&echoHandler{stream: s, log: logger})
	})

	sess, err := h3.NewServerSession(ctx, qsess, cfg)
	if err != nil {
		return err
	}
	loop.run(ctx, sess)
	return nil
}

func runClient(ctx context.Context, addr string, cfg h3.SessionConfig, logger zerolog.Logger) error {
	qconn, err := quic.DialAddr(ctx, addr, &tls.Config{InsecureSkipVerify: true, NextProtos: []string{cfg.ALPN}}, nil)
	if err != nil {
		return err
	}

	loop := newDispatchLoop()
	qsess := transport.NewQuicGoSession(qconn, transport.RoleClient, loop.dispatch)

	sess, err := h3.NewClientSession(ctx, qsess, cfg)
	if err != nil {
		return err
	}

	h := &echoHandler{log: logger, done: make(chan struct{})}
	st, err := sess.NewTransaction(h)
	if err != nil {
		return err
	}
	h.stream = st
	st.SendHeaders([]h3.HeaderField{{Name: ":method", Value: "GET"}, {Name: ":path", Value: "/echo"}})
	st.SendBody([]byte("hello from h3mux-echo\n"))
	st.SendEOM()

	go loop.run(ctx, sess)

	select {
	case <-h.done:
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("h3mux-echo: client timed out waiting for echo")
	}
	sess.CloseWhenIdle()
	return nil
}

// dispatchLoop funnels quic-go's per-stream accept-loop goroutine callbacks
// back onto a single goroutine running Session.Tick, satisfying the
// single-threaded cooperative contract transport/quicgo.go documents.
type dispatchLoop struct {
	work chan func()
}

func newDispatchLoop() *dispatchLoop {
	return &dispatchLoop{work: make(chan func(), 256)}
}

func (l *dispatchLoop) dispatch(fn func()) {
	l.work <- fn
}

func (l *dispatchLoop) run(ctx context.Context, sess *h3.Session) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.work:
			fn()
		case <-ticker.C:
			sess.Tick(1 << 20)
		}
	}
}
