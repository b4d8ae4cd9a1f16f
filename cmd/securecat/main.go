// securecat is a netcat like tool speaking secure sockets.
//
// Usage:
//
//   securecat -connect <address> [-profile <dir>] [-json]
//
//   securecat -listen <address> -cert <pem> [-metrics <address>] [-json]
//
//   securecat -config <file>
//
//   securecat -help
//
// As a client, securecat copies the standard input to the server and
// the server output to the standard output. It reconnects on failure
// unless the server is not trusted. As a server, it echoes what each
// client sends. With -json, every event is also printed on the standard
// output as a JSON line. Settings may be read from a TOML file, flags
// override the file.
//
// Examples:
//
//   ./sslfingerprint -cert synergy.pem -trust
//   ./securecat -listen 127.0.0.1:24800 -cert synergy.pem -metrics 127.0.0.1:9090
//   ./securecat -connect 127.0.0.1:24800
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/BurntSushi/toml"
	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/kvmshare/securesocket"
	"github.com/kvmshare/securesocket/cmd/common"
	"github.com/kvmshare/securesocket/handlers"
	"github.com/kvmshare/securesocket/handlers/logger"
	"github.com/kvmshare/securesocket/handlers/metrics"
	"github.com/kvmshare/securesocket/internal/retry"
	"github.com/kvmshare/securesocket/model"
	"github.com/m-lab/go/rtx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	flagCert     = flag.String("cert", "", "PEM file with certificate and key (server)")
	flagConfig   = flag.String("config", "", "TOML configuration file")
	flagConnect  = flag.String("connect", "", "Address to connect to")
	flagJSON     = flag.Bool("json", false, "Print events as JSON lines on stdout")
	flagListen   = flag.String("listen", "", "Address to listen on")
	flagMaxRetry = flag.Int("max-retry", 0, "Maximum number of consecutive TLS retries")
	flagMetrics  = flag.String("metrics", "", "Address where to expose prometheus metrics")
)

// settings is the content of the configuration file.
type settings struct {
	Cert     string `toml:"cert"`
	Connect  string `toml:"connect"`
	JSON     bool   `toml:"json"`
	Listen   string `toml:"listen"`
	MaxRetry int    `toml:"max_retry"`
	Metrics  string `toml:"metrics"`
	Profile  string `toml:"profile"`
	Verbose  bool   `toml:"verbose"`
}

// loadSettings reads the configuration file, if any, and then applies
// the flags that have been set on the command line.
func loadSettings() (settings, error) {
	var s settings
	if *flagConfig != "" {
		if _, err := toml.DecodeFile(*flagConfig, &s); err != nil {
			return s, err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "cert":
			s.Cert = *flagCert
		case "connect":
			s.Connect = *flagConnect
		case "json":
			s.JSON = *flagJSON
		case "listen":
			s.Listen = *flagListen
		case "max-retry":
			s.MaxRetry = *flagMaxRetry
		case "metrics":
			s.Metrics = *flagMetrics
		case "profile":
			s.Profile = *common.FlagProfile
		case "verbose":
			s.Verbose = *common.FlagVerbose
		}
	})
	return s, nil
}

func (s settings) config(handler model.Handler) securesocket.Config {
	return securesocket.Config{
		Handler:    handler,
		Logger:     log.Log,
		MaxRetry:   s.MaxRetry,
		ProfileDir: s.Profile,
	}
}

// handler returns the handler receiving the events of every socket.
func (s settings) handler(registry prometheus.Registerer) model.Handler {
	fanout := handlers.Fanout{logger.NewHandler(log.Log), metrics.New(registry)}
	if s.JSON {
		fanout = append(fanout, handlers.StdoutHandler)
	}
	return fanout
}

func main() {
	flag.Parse()
	if *common.FlagHelp {
		flag.CommandLine.SetOutput(os.Stdout)
		fmt.Printf("Usage: securecat [flags]\n")
		flag.PrintDefaults()
		fmt.Printf("\nExamples:\n")
		fmt.Printf("%s\n", "  ./securecat -listen 127.0.0.1:24800 -cert synergy.pem")
		fmt.Printf("%s\n", "  ./securecat -connect 127.0.0.1:24800")
		return
	}
	s, err := loadSettings()
	rtx.Must(err, "cannot load configuration")
	log.SetHandler(cli.Default)
	log.SetLevel(log.InfoLevel)
	if s.Verbose {
		log.SetLevel(log.DebugLevel)
	}
	registry := prometheus.NewRegistry()
	handler := s.handler(registry)
	if s.Metrics != "" {
		go serveMetrics(s.Metrics, registry)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	switch {
	case s.Listen != "":
		rtx.Must(listen(ctx, s, handler), "listen failed")
	case s.Connect != "":
		rtx.Must(connect(ctx, s, handler), "connect failed")
	default:
		log.Fatal("securecat: either -connect or -listen is required")
	}
}

func serveMetrics(address string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	log.WithField("address", address).Info("serving metrics")
	if err := http.ListenAndServe(address, mux); err != nil {
		log.WithError(err).Warn("metrics server failed")
	}
}

func connect(ctx context.Context, s settings, handler model.Handler) error {
	stopper := &retry.Stopper{}
	config := s.config(handlers.Fanout{handler, stopper})
	in := newPump(os.Stdin)
	return retry.Retry(ctx, stopper, func() error {
		conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", s.Connect)
		if err != nil {
			log.WithError(err).Warn("cannot connect")
			return err
		}
		sock, err := securesocket.NewClient(conn, config)
		if err != nil {
			conn.Close()
			return err
		}
		defer sock.Destroy()
		if err := sock.Wait(ctx); err != nil {
			return err
		}
		stream := sock.Stream()
		done := make(chan struct{})
		forwarded := make(chan struct{})
		go func() {
			defer close(forwarded)
			if err := in.forward(done, stream); err != nil && err != io.EOF {
				log.WithError(err).Debug("cannot forward stdin")
			}
		}()
		_, err = io.Copy(os.Stdout, stream)
		close(done)
		stream.Close()
		<-forwarded
		return err
	})
}

// pump reads its input in the background so that a single reader
// survives reconnections. A chunk that could not be written is kept and
// written again by the next call to forward.
type pump struct {
	chunks  chan []byte
	pending []byte
}

func newPump(r io.Reader) *pump {
	p := &pump{chunks: make(chan []byte)}
	go func() {
		defer close(p.chunks)
		for {
			buf := make([]byte, 4096)
			n, err := r.Read(buf)
			if n > 0 {
				p.chunks <- buf[:n]
			}
			if err != nil {
				return
			}
		}
	}()
	return p
}

// forward copies the input to w until done is closed, a write fails or
// the input is over, in which case it returns io.EOF. Calls to forward
// must not overlap.
func (p *pump) forward(done <-chan struct{}, w io.Writer) error {
	for {
		if len(p.pending) <= 0 {
			select {
			case <-done:
				return nil
			case chunk, ok := <-p.chunks:
				if !ok {
					return io.EOF
				}
				p.pending = chunk
			}
		}
		n, err := w.Write(p.pending)
		p.pending = p.pending[n:]
		if err != nil {
			return err
		}
	}
}

func listen(ctx context.Context, s settings, handler model.Handler) error {
	ln, err := net.Listen("tcp", s.Listen)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	log.WithField("address", ln.Addr().String()).Info("listening")
	config := s.config(handler)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go serve(ctx, conn, s.Cert, config)
	}
}

func serve(ctx context.Context, conn net.Conn, cert string, config securesocket.Config) {
	sock, err := securesocket.NewServer(conn, cert, config)
	if err != nil {
		log.WithError(err).Error("cannot create secure socket")
		return
	}
	defer sock.Destroy()
	if err := sock.Wait(ctx); err != nil {
		return
	}
	stream := sock.Stream()
	if _, err := io.Copy(stream, stream); err != nil {
		log.WithError(err).Debug("client went away")
	}
}
