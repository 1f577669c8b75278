package netfront

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/butterflydb/butterflydb/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	cat, err := storage.NewCatalog(filepath.Join(dir, "catalog.json"))
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	eng := storage.NewEngine(dir)
	return &Server{Catalog: cat, Engine: eng}
}

// servePipe runs handleConn against one side of an in-process net.Pipe and
// returns the other side for the test to drive.
func servePipe(t *testing.T, s *Server) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	go s.handleConn(nil, server, "test")
	t.Cleanup(func() { client.Close() })
	return client
}

func TestBinaryPingPong(t *testing.T) {
	s := newTestServer(t)
	client := servePipe(t, s)

	req := Message{Type: MessagePing}
	done := make(chan error, 1)
	go func() { done <- req.WriteTo(client) }()
	if err := <-done; err != nil {
		t.Fatalf("write ping: %v", err)
	}

	resp, err := ReadMessage(client)
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if resp.Type != MessagePong {
		t.Fatalf("expected Pong, got %s", resp.Type)
	}
	if len(resp.Payload) != 0 {
		t.Fatalf("expected empty pong payload, got %q", resp.Payload)
	}
}

func TestBinaryUnknownType(t *testing.T) {
	s := newTestServer(t)
	client := servePipe(t, s)

	req := Message{Type: MessageType(99)}
	go req.WriteTo(client)

	resp, err := ReadMessage(client)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != MessageError || string(resp.Payload) != "Unknown command" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestBinaryQueryRoundTrip(t *testing.T) {
	s := newTestServer(t)
	client := servePipe(t, s)

	sql := "CREATE DATABASE d; USE d; CREATE TABLE t (id INT); SELECT 1+1 AS two;"
	req := queryMessage(sql)
	go req.WriteTo(client)

	resp, err := ReadMessage(client)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != MessageResult {
		t.Fatalf("expected Result, got %s", resp.Type)
	}
	var decoded map[string]any
	if err := json.Unmarshal(resp.Payload, &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if _, ok := decoded["Rows"]; !ok {
		t.Fatalf("expected a Rows result, got %s", resp.Payload)
	}
}

func doHTTP(t *testing.T, s *Server, request string) string {
	t.Helper()
	client, server := net.Pipe()
	go s.handleConn(nil, server, "test")

	writeDone := make(chan struct{})
	go func() {
		client.Write([]byte(request))
		writeDone <- struct{}{}
	}()
	<-writeDone

	var buf bytes.Buffer
	r := bufio.NewReader(client)
	deadline := time.Now().Add(2 * time.Second)
	client.SetReadDeadline(deadline)
	for {
		b, err := r.ReadByte()
		if err != nil {
			break
		}
		buf.WriteByte(b)
	}
	client.Close()
	return buf.String()
}

func TestShortPeekDefaultsToHTTP(t *testing.T) {
	s := newTestServer(t)
	// Fewer than 4 bytes on the wire must route to HTTP, not hang waiting
	// on a 5-byte binary frame header.
	resp := doHTTP(t, s, "X\r\n")
	if !bytes.Contains([]byte(resp), []byte("400 Bad Request")) {
		t.Fatalf("expected a 400 for a malformed short request line, got %q", resp)
	}
}

func TestHTTPPing(t *testing.T) {
	s := newTestServer(t)
	resp := doHTTP(t, s, "GET /ping HTTP/1.1\r\nHost: x\r\n\r\n")
	if !bytes.Contains([]byte(resp), []byte("200 OK")) || !bytes.Contains([]byte(resp), []byte("pong\n")) {
		t.Fatalf("unexpected response: %q", resp)
	}
}

func TestHTTPHeartBeat(t *testing.T) {
	s := newTestServer(t)
	resp := doHTTP(t, s, "GET /heart-beat HTTP/1.1\r\nHost: x\r\n\r\n")
	if !bytes.Contains([]byte(resp), []byte("200 OK")) || !bytes.Contains([]byte(resp), []byte("OK\n")) {
		t.Fatalf("unexpected response: %q", resp)
	}
}

func TestHTTPNotFound(t *testing.T) {
	s := newTestServer(t)
	resp := doHTTP(t, s, "GET /nope HTTP/1.1\r\nHost: x\r\n\r\n")
	if !bytes.Contains([]byte(resp), []byte("404 Not Found")) {
		t.Fatalf("unexpected response: %q", resp)
	}
}

func TestHTTPMalformedRequestLine(t *testing.T) {
	s := newTestServer(t)
	resp := doHTTP(t, s, "POST\r\n\r\n")
	if !bytes.Contains([]byte(resp), []byte("400 Bad Request")) {
		t.Fatalf("unexpected response: %q", resp)
	}
}

func TestHTTPSQLAndTables(t *testing.T) {
	s := newTestServer(t)
	body := "CREATE DATABASE d2"
	req := "POST /sql HTTP/1.1\r\nHost: x\r\nContent-Length: " +
		itoa(len(body)) + "\r\n\r\n" + body
	resp := doHTTP(t, s, req)
	if !bytes.Contains([]byte(resp), []byte("200 OK")) {
		t.Fatalf("unexpected /sql response: %q", resp)
	}

	tablesResp := doHTTP(t, s, "GET /tables HTTP/1.1\r\nHost: x\r\n\r\n")
	if !bytes.Contains([]byte(tablesResp), []byte(`"tables"`)) {
		t.Fatalf("unexpected /tables response: %q", tablesResp)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
