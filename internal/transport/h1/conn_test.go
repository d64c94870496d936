package h1

import (
	"bufio"
	"io"
	"net"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/lmousom/hyperhttp/internal/bufpool"
	"github.com/lmousom/hyperhttp/internal/core"
)

func serverSide(t *testing.T, script func(br *bufio.Reader, bw *bufio.Writer)) net.Conn {
	client, server := net.Pipe()
	go func() {
		br := bufio.NewReader(server)
		bw := bufio.NewWriter(server)
		script(br, bw)
		server.Close()
	}()
	return client
}

func mustURL(t *testing.T, raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	return u
}

func TestRoundTripContentLengthReuse(t *testing.T) {
	nc := serverSide(t, func(br *bufio.Reader, bw *bufio.Writer) {
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			if strings.TrimRight(line, "\r\n") == "" {
				break
			}
		}
		bw.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")
		bw.Flush()
	})
	defer nc.Close()

	c := New(nc, bufpool.New(4))
	req := core.NewRequest("GET", mustURL(t, "http://example.com/"), map[string][]string{}, nil)

	resp, keepAlive, err := c.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "hello" {
		t.Fatalf("expected body %q, got %q", "hello", body)
	}
	if !keepAlive {
		t.Error("expected keep-alive reuse")
	}
	if c.h1State() != StateIdle {
		t.Errorf("expected connection back to Idle, got %v", c.h1State())
	}
}

func TestRoundTripConnectionClose(t *testing.T) {
	nc := serverSide(t, func(br *bufio.Reader, bw *bufio.Writer) {
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			if strings.TrimRight(line, "\r\n") == "" {
				break
			}
		}
		bw.WriteString("HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 2\r\n\r\nhi")
		bw.Flush()
	})
	defer nc.Close()

	c := New(nc, bufpool.New(4))
	req := core.NewRequest("GET", mustURL(t, "http://example.com/"), map[string][]string{}, nil)

	resp, keepAlive, err := c.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	io.ReadAll(resp.Body)
	resp.Body.Close()
	if keepAlive {
		t.Error("expected Connection: close to disable reuse")
	}
	if c.h1State() != StateClosing {
		t.Errorf("expected Closing, got %v", c.h1State())
	}
}

func TestRoundTripChunkedBody(t *testing.T) {
	nc := serverSide(t, func(br *bufio.Reader, bw *bufio.Writer) {
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			if strings.TrimRight(line, "\r\n") == "" {
				break
			}
		}
		bw.WriteString("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n")
		bw.WriteString("5\r\nhello\r\n0\r\n\r\n")
		bw.Flush()
	})
	defer nc.Close()

	c := New(nc, bufpool.New(4))
	req := core.NewRequest("GET", mustURL(t, "http://example.com/"), map[string][]string{}, nil)

	resp, _, err := c.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading chunked body: %v", err)
	}
	if string(body) != "hello" {
		t.Fatalf("expected %q got %q", "hello", body)
	}
}

func TestRoundTripRequestBodyFraming(t *testing.T) {
	var seen string
	done := make(chan struct{})
	nc := serverSide(t, func(br *bufio.Reader, bw *bufio.Writer) {
		var b strings.Builder
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			b.WriteString(line)
			if strings.TrimRight(line, "\r\n") == "" {
				break
			}
		}
		payload := make([]byte, 4)
		io.ReadFull(br, payload)
		b.Write(payload)
		seen = b.String()
		close(done)
		bw.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
		bw.Flush()
	})
	defer nc.Close()

	c := New(nc, bufpool.New(4))
	req := core.NewRequest("POST", mustURL(t, "http://example.com/submit"),
		map[string][]string{"Content-Type": {"text/plain"}},
		core.NewFixedBody([]byte("body")))

	resp, _, err := c.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	resp.Body.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("server never saw request")
	}
	if !strings.HasPrefix(seen, "POST /submit HTTP/1.1\r\n") {
		t.Errorf("unexpected request line in: %q", seen)
	}
	if !strings.Contains(seen, "Content-Length: 4\r\n") {
		t.Errorf("expected Content-Length: 4 header, got %q", seen)
	}
	if !strings.HasSuffix(seen, "body") {
		t.Errorf("expected body to end with %q, got %q", "body", seen)
	}
}
