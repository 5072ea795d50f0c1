package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"logtools/internal/parser"
	"logtools/internal/worker"

	"go.uber.org/zap"
)

// Submitter accepts parse jobs; *worker.Pool satisfies it.
type Submitter interface {
	Submit(job worker.Job)
}

// Server receives newline-framed log lines over TCP and UDP and hands
// them to the pool under a single source name.
type Server struct {
	Port   int
	Source string
	Parser parser.LogParser
	Pool   Submitter
	logger *zap.SugaredLogger

	tcp net.Listener
	udp net.PacketConn
	wg  sync.WaitGroup
}

func NewServer(port int, source string, p parser.LogParser, pool Submitter, logger *zap.SugaredLogger) *Server {
	return &Server{
		Port:   port,
		Source: source,
		Parser: p,
		Pool:   pool,
		logger: logger,
	}
}

// Start binds both listeners and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("0.0.0.0:%d", s.Port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("ingest tcp listen: %w", err)
	}
	// Reuse the TCP port for UDP when the kernel picked one.
	udpAddr := fmt.Sprintf("0.0.0.0:%d", ln.Addr().(*net.TCPAddr).Port)
	pc, err := net.ListenPacket("udp", udpAddr)
	if err != nil {
		ln.Close()
		return fmt.Errorf("ingest udp listen: %w", err)
	}
	s.tcp, s.udp = ln, pc
	s.logger.Infof("Ingest: listening on tcp %s and udp %s", ln.Addr(), pc.LocalAddr())

	s.wg.Add(2)
	go s.serveTCP(ctx)
	go s.serveUDP()

	go func() {
		<-ctx.Done()
		ln.Close()
		pc.Close()
	}()
	return nil
}

// Addr is the bound TCP address. Only valid after Start.
func (s *Server) Addr() net.Addr { return s.tcp.Addr() }

// UDPAddr is the bound UDP address. Only valid after Start.
func (s *Server) UDPAddr() net.Addr { return s.udp.LocalAddr() }

// Wait blocks until both listeners and all TCP connections are done.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) serveTCP(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.tcp.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warnf("Ingest: tcp accept error: %v", err)
			continue
		}
		s.wg.Add(1)
		go s.handleTCPConn(ctx, conn)
	}
}

func (s *Server) handleTCPConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.processLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warnf("Ingest: dropping rest of connection from %s: %v", conn.RemoteAddr(), err)
	}
}

func (s *Server) serveUDP() {
	defer s.wg.Done()
	buf := make([]byte, 65535)
	for {
		n, _, err := s.udp.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warnf("Ingest: udp read error: %v", err)
			continue
		}
		for _, line := range strings.Split(string(buf[:n]), "\n") {
			s.processLine(line)
		}
	}
}

func (s *Server) processLine(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	s.Pool.Submit(worker.Job{Source: s.Source, Line: line, Parser: s.Parser})
}
