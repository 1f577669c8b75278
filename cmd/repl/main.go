// Command repl is a line-oriented client for butterfly_db's binary wire
// protocol.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/butterflydb/butterflydb/internal/netfront"
)

var (
	flagAddr = flag.String("addr", "127.0.0.1:6379", "butterfly_db server address")
	flagEcho = flag.Bool("echo", false, "echo SQL statements before execution")
)

func main() {
	flag.Parse()

	conn, err := net.DialTimeout("tcp", *flagAddr, 5*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect error:", err)
		os.Exit(1)
	}
	defer conn.Close()

	runREPL(conn, *flagEcho)
}

func runREPL(conn net.Conn, echo bool) {
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 1024), 4*1024*1024)

	var buf strings.Builder
	firstPrompt := true

	interactive := false
	if fi, err := os.Stdin.Stat(); err == nil {
		interactive = (fi.Mode() & os.ModeCharDevice) != 0
	}
	if interactive {
		fmt.Println("butterfly_db REPL. Terminate a statement with ';'. '.ping' checks the connection, '.exit' quits.")
	}

	for {
		if buf.Len() == 0 {
			if interactive {
				if !firstPrompt {
					fmt.Println()
				}
				firstPrompt = false
				fmt.Print("sql> ")
			}
		} else if interactive {
			fmt.Print(" ... ")
		}

		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				fmt.Fprintln(os.Stderr, "read error:", err)
			}
			return
		}

		raw := sc.Text()
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		if buf.Len() == 0 && strings.HasPrefix(line, ".") {
			if handleMeta(conn, line) {
				continue
			}
		}

		buf.WriteString(line)
		buf.WriteString(" ")
		if strings.HasSuffix(line, ";") {
			q := strings.TrimSpace(buf.String())
			buf.Reset()

			if echo {
				fmt.Println("--", q)
			}
			if err := sendQuery(conn, q); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
		}
	}
}

// handleMeta services a leading-dot REPL command. Reports whether line was
// consumed as a meta-command (vs. the start of a SQL statement).
func handleMeta(conn net.Conn, line string) bool {
	switch line {
	case ".ping":
		ok, err := ping(conn)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ping error:", err)
		} else {
			fmt.Println("pong:", ok)
		}
		return true
	case ".exit", ".quit":
		os.Exit(0)
	}
	return false
}

func ping(conn net.Conn) (bool, error) {
	msg := netfront.Message{Type: netfront.MessagePing}
	if err := msg.WriteTo(conn); err != nil {
		return false, err
	}
	resp, err := netfront.ReadMessage(conn)
	if err != nil {
		return false, err
	}
	return resp.Type == netfront.MessagePong, nil
}

func sendQuery(conn net.Conn, sql string) error {
	msg := netfront.Message{Type: netfront.MessageQuery, Payload: []byte(sql)}
	if err := msg.WriteTo(conn); err != nil {
		return err
	}
	resp, err := netfront.ReadMessage(conn)
	if err != nil {
		return err
	}
	return printResult(resp)
}

func printResult(resp netfront.Message) error {
	switch resp.Type {
	case netfront.MessageError:
		fmt.Println("ERR:", string(resp.Payload))
		return nil
	case netfront.MessageResult:
		return printExecutionResult(resp.Payload)
	default:
		fmt.Println("unexpected response type:", resp.Type)
		return nil
	}
}

func printExecutionResult(payload []byte) error {
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return err
	}
	switch {
	case decoded["Rows"] != nil:
		return printRows(decoded["Rows"])
	case decoded["RowsAffected"] != nil:
		var body struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(decoded["RowsAffected"], &body); err != nil {
			return err
		}
		fmt.Printf("OK (%d rows affected)\n", body.Count)
	case decoded["Success"] != nil:
		var body struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(decoded["Success"], &body); err != nil {
			return err
		}
		fmt.Println(body.Message)
	case decoded["Error"] != nil:
		var body struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(decoded["Error"], &body); err != nil {
			return err
		}
		fmt.Println("ERR:", body.Message)
	default:
		fmt.Println(string(payload))
	}
	return nil
}

func printRows(raw json.RawMessage) error {
	var body struct {
		Columns []string         `json:"columns"`
		Rows    []map[string]any `json:"rows"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return err
	}
	fmt.Println(strings.Join(body.Columns, "\t"))
	for _, row := range body.Rows {
		cells := make([]string, len(body.Columns))
		for i, col := range body.Columns {
			cells[i] = fmt.Sprintf("%v", row[col])
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
	fmt.Printf("(%d rows)\n", len(body.Rows))
	return nil
}
