package netfront

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/butterflydb/butterflydb/internal/engine"
)

var statusText = map[int]string{
	200: "OK",
	400: "Bad Request",
	404: "Not Found",
}

// httpResponse formats a minimal HTTP/1.1 response: a status line plus a
// fixed header block.
func httpResponse(status int, contentType, body string) string {
	text, ok := statusText[status]
	if !ok {
		text = "Error"
	}
	return fmt.Sprintf(
		"HTTP/1.1 %d %s\r\nContent-Type: %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status, text, contentType, len(body), body,
	)
}

func jsonError(status int, message string) string {
	return httpResponse(status, "application/json", fmt.Sprintf(`{"error":%q}`, message))
}

// handleHTTP serves exactly one request off conn (Connection: close),
// reusing whatever the protocol sniff already buffered in br.
func (s *Server) handleHTTP(conn net.Conn, br *bufio.Reader, connID string) {
	response := s.buildHTTPResponse(br)
	_, _ = io.WriteString(conn, response)
}

func (s *Server) buildHTTPResponse(br *bufio.Reader) string {
	requestLine, err := br.ReadString('\n')
	if err != nil && requestLine == "" {
		return jsonError(400, "Bad Request")
	}
	method, path, ok := parseRequestLine(requestLine)
	if !ok {
		return jsonError(400, "Bad Request")
	}

	headers, err := readHeaders(br)
	if err != nil {
		return jsonError(400, "Bad Request")
	}

	switch {
	case method == "GET" && path == "/ping":
		return httpResponse(200, "text/plain", "pong\n")
	case method == "GET" && path == "/heart-beat":
		return httpResponse(200, "text/plain", "OK\n")
	case (method == "GET" || method == "POST") && path == "/sql":
		return s.handleSQLRequest(br, headers)
	case method == "GET" && path == "/tables":
		return s.handleTablesRequest()
	default:
		return jsonError(404, "Not Found")
	}
}

// parseRequestLine splits "METHOD /path HTTP/1.1\r\n" into method and path
// via a plain whitespace split.
func parseRequestLine(line string) (method, path string, ok bool) {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func readHeaders(br *bufio.Reader) (map[string]string, error) {
	headers := map[string]string{}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return headers, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return headers, nil
		}
		name, value, found := strings.Cut(line, ":")
		if found {
			headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
		}
	}
}

func (s *Server) handleSQLRequest(br *bufio.Reader, headers map[string]string) string {
	body := readBody(br, headers)
	body = strings.TrimSpace(body)
	if body == "" {
		return jsonError(400, "No SQL query provided")
	}
	result := s.execSQL(body)
	payload, err := json.Marshal(result)
	if err != nil {
		return jsonError(400, err.Error())
	}
	if result.Kind == engine.ResultError {
		return httpResponse(400, "application/json", string(payload))
	}
	return httpResponse(200, "application/json", string(payload))
}

func readBody(br *bufio.Reader, headers map[string]string) string {
	n := contentLength(headers)
	if n <= 0 {
		return ""
	}
	buf := make([]byte, n)
	read, _ := io.ReadFull(br, buf)
	return string(buf[:read])
}

func contentLength(headers map[string]string) int {
	v, ok := headers["content-length"]
	if !ok {
		return 0
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func (s *Server) handleTablesRequest() string {
	tables, err := s.Catalog.ListTables()
	if err != nil {
		return jsonError(400, err.Error())
	}
	if tables == nil {
		tables = []string{}
	}
	payload, err := json.Marshal(map[string][]string{"tables": tables})
	if err != nil {
		return jsonError(400, err.Error())
	}
	return httpResponse(200, "application/json", string(payload))
}
