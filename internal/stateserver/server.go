package stateserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/chemonoworld/focusbridge/internal/focus"
	"github.com/chemonoworld/focusbridge/internal/localsock"
	"github.com/chemonoworld/focusbridge/internal/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	maxLineSize  = 8 * 1024 * 1024
	writeTimeout = 5 * time.Second
)

// Server accepts local-socket clients and serves the line protocol
type Server struct {
	hub  *Hub
	name string
	log  *zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]net.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer creates a server for hub that will listen on the socket name
func NewServer(hub *Hub, name string) *Server {
	return &Server{
		hub:   hub,
		name:  name,
		log:   logger.WithComponent("stateserver"),
		conns: make(map[string]net.Conn),
	}
}

// Start binds the socket and begins accepting connections
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.New("state server already started")
	}

	l, err := localsock.Listen(s.name)
	if err != nil {
		return fmt.Errorf("failed to start state server: %w", err)
	}
	s.listener = l
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.acceptLoop(l)

	s.log.Info().Str("address", localsock.Address(s.name)).Msg("State server listening")
	return nil
}

// Stop closes the listener and every client connection, then waits for the
// connection handlers to exit
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	err := s.listener.Close()
	s.listener = nil
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info().Msg("State server stopped")
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Clients returns the number of connected clients
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) acceptLoop(l net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn().Err(err).Msg("Accept failed")
			time.Sleep(50 * time.Millisecond)
			continue
		}

		id := uuid.NewString()
		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[id] = conn
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handleConnection(id, conn)
	}
}

type line struct {
	data    []byte
	tooLong bool
	err     error
}

// handleConnection serves one client until it disconnects. Replies and
// broadcasts are written from this goroutine only, and a reply is always
// written before the broadcast produced by the same request.
func (s *Server) handleConnection(id string, conn net.Conn) {
	defer s.wg.Done()

	log := s.log.With().Str("conn", id).Logger()
	log.Info().Msg("Client connected")

	updates := s.hub.Subscribe()
	done := make(chan struct{})
	defer func() {
		close(done)
		s.hub.Unsubscribe(updates)
		_ = conn.Close()
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		log.Info().Msg("Client disconnected")
	}()

	lines := make(chan line)
	go readLines(conn, lines, done)

	w := bufio.NewWriter(conn)
	for {
		select {
		case <-s.ctx.Done():
			return

		case l, ok := <-lines:
			if !ok {
				return
			}
			if l.err != nil {
				log.Debug().Err(l.err).Msg("Read failed")
				return
			}
			var resp focus.Response
			if l.tooLong {
				log.Warn().Int("limit", maxLineSize).Msg("Request line too long")
				resp = focus.ErrorResponse("Invalid request: line too long")
			} else {
				resp = s.handleLine(l.data)
			}
			if err := writeResponse(conn, w, resp); err != nil {
				log.Debug().Err(err).Msg("Write failed")
				return
			}

		case st, ok := <-updates:
			if !ok {
				return
			}
			if err := writeResponse(conn, w, focus.StateResponse(st)); err != nil {
				log.Debug().Err(err).Msg("Broadcast write failed")
				return
			}
		}
	}
}

func (s *Server) handleLine(data []byte) focus.Response {
	var req focus.Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.log.Debug().Err(err).Bytes("line", data).Msg("Invalid request")
		return focus.ErrorResponse(fmt.Sprintf("Invalid request: %v", err))
	}
	s.log.Debug().Str("request", string(req.Type)).Msg("Handling request")
	return s.hub.Apply(req)
}

func readLines(conn net.Conn, out chan<- line, done <-chan struct{}) {
	defer close(out)

	r := bufio.NewReaderSize(conn, 64*1024)
	for {
		data, tooLong, err := readLine(r, maxLineSize)
		data = bytes.TrimSpace(data)
		if len(data) > 0 || tooLong {
			select {
			case out <- line{data: data, tooLong: tooLong}:
			case <-done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case out <- line{err: err}:
				case <-done:
				}
			}
			return
		}
	}
}

// readLine returns the next newline-terminated line. A line longer than
// limit is consumed up to its newline and reported as tooLong with no data.
func readLine(r *bufio.Reader, limit int) (data []byte, tooLong bool, err error) {
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(data)+len(chunk) > limit {
				tooLong = true
				data = nil
			} else {
				data = append(data, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return data, tooLong, err
	}
}

func writeResponse(conn net.Conn, w *bufio.Writer, resp focus.Response) error {
	data, err := resp.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := w.Write(append(data, '\n')); err != nil {
		return err
	}
	return w.Flush()
}
