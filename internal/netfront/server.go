package netfront

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"

	"github.com/google/uuid"

	"github.com/butterflydb/butterflydb/internal/admission"
	"github.com/butterflydb/butterflydb/internal/engine"
	"github.com/butterflydb/butterflydb/internal/pool"
	"github.com/butterflydb/butterflydb/internal/storage"
)

// Server is the unified TCP+HTTP front end bound to one address.
type Server struct {
	Catalog   *storage.Catalog
	Engine    *storage.Engine
	Pool      *pool.Pool
	Admission *admission.Controller
	Logger    *log.Logger
}

// ListenAndServe binds addr and accepts connections until ctx is done or
// an unrecoverable accept error occurs.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("netfront: listen %s: %w", addr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.logf("butterfly_db listening on %s (TCP + HTTP)", addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("netfront: accept: %w", err)
			}
		}
		connID := uuid.NewString()
		go s.handleConn(ctx, conn, connID)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// handleConn peeks the first bytes off conn to decide HTTP vs. binary
// framing: it waits for the first read, then peeks at up to 5 of the bytes
// that read buffered, without consuming them. A 4+-byte match against an
// HTTP verb prefix continues as HTTP; no match hands off to the binary
// path; fewer than 4 bytes (or a failed read) defaults to HTTP. Both paths
// read from the same buffered reader, so the peeked bytes are read again as
// the start of the request or frame.
func (s *Server) handleConn(ctx context.Context, conn net.Conn, connID string) {
	defer conn.Close()

	if s.Pool != nil {
		guard, err := s.Pool.Acquire(ctx)
		if err != nil {
			s.logf("conn %s: pool: %v", connID, err)
			return
		}
		defer guard.Release()
	}
	if s.Admission != nil {
		if err := s.Admission.Admit(); err != nil {
			s.logf("conn %s: refused: %v", connID, err)
			return
		}
	}

	br := bufio.NewReaderSize(conn, 4096)
	br.Peek(1)
	n := br.Buffered()
	if n > 5 {
		n = 5
	}
	peeked, _ := br.Peek(n)
	if len(peeked) < 4 {
		s.handleHTTP(conn, br, connID)
		return
	}
	if looksLikeHTTP(peeked) {
		s.handleHTTP(conn, br, connID)
		return
	}
	s.handleBinary(conn, br, connID)
}

func looksLikeHTTP(prefix []byte) bool {
	switch string(prefix[:4]) {
	case "GET ", "POST", "PUT ", "HEAD", "DELE", "OPTI":
		return true
	default:
		return false
	}
}

// handleBinary runs the frame request/response loop until a read error.
func (s *Server) handleBinary(conn net.Conn, br *bufio.Reader, connID string) {
	for {
		msg, err := ReadMessage(br)
		if err != nil {
			return
		}
		resp := s.dispatchBinary(msg)
		if err := resp.WriteTo(conn); err != nil {
			return
		}
	}
}

func (s *Server) dispatchBinary(msg Message) Message {
	switch msg.Type {
	case MessageQuery:
		result := s.execSQL(string(msg.Payload))
		payload, err := json.Marshal(result)
		if err != nil {
			return errorMessage(err.Error())
		}
		return resultMessage(payload)
	case MessagePing:
		return pongMessage()
	default:
		return errorMessage("Unknown command")
	}
}

// execSQL parses and executes every statement in sql, returning the
// result of the last one (a single Query frame may carry several
// semicolon-separated statements).
func (s *Server) execSQL(sql string) engine.ExecutionResult {
	stmts, err := engine.ParseStatements(sql)
	if err != nil {
		return engine.ExecutionResult{Kind: engine.ResultError, Message: err.Error()}
	}
	if len(stmts) == 0 {
		return engine.ExecutionResult{Kind: engine.ResultError, Message: "no SQL query provided"}
	}
	var last engine.ExecutionResult
	for _, stmt := range stmts {
		last = engine.Execute(s.Catalog, s.Engine, stmt)
	}
	return last
}
