// Command streamsyncctl sends control commands and reconnect signals to a
// running proxy.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/streamsync/internal/control"
)

const defaultAddr = "http://localhost:8080"

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	addr := os.Getenv("STREAMSYNC_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	if err := runCLI(context.Background(), newClient(addr, &http.Client{Timeout: 30 * time.Second}), os.Stdout, os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("streamsyncctl")
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: streamsyncctl <command> [args]")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  size               Print the total bytes held in every store")
	fmt.Fprintln(w, "  clear              Delete every store")
	fmt.Fprintln(w, "  install <version>  Install and activate a cache version")
	fmt.Fprintln(w, "    --wait           Leave it waiting for activate")
	fmt.Fprintln(w, "  activate           Activate a waiting version now")
	fmt.Fprintln(w, "  cache <url>        Fetch one resource into the media store")
	fmt.Fprintln(w, "  sync <tag>         Send a reconnect signal for a queue tag")
	fmt.Fprintln(w, "  queue <tag>        List mutations waiting under a tag")
	fmt.Fprintln(w, "  STREAMSYNC_ADDR    Proxy address (default "+defaultAddr+")")
}

func runCLI(ctx context.Context, c *client, out io.Writer, args []string) error {
	if len(args) == 0 {
		usage(out)
		return nil
	}

	switch args[0] {
	case "help", "--help", "-h":
		usage(out)
		return nil
	case "size":
		var reply control.Reply
		if err := c.control(ctx, control.Message{Type: control.GetAggregateSize}, &reply); err != nil {
			return err
		}
		fmt.Fprintf(out, "%d bytes\n", reply.Size)
		return nil
	case "clear":
		return c.control(ctx, control.Message{Type: control.ClearAllStores}, nil)
	case "install":
		if len(args) < 2 {
			return fmt.Errorf("install requires a version")
		}
		wait := len(args) > 2 && args[2] == "--wait"
		return c.send(ctx, http.MethodPost, "/_sw/install", map[string]any{"version": args[1], "wait": wait}, out)
	case "activate":
		return c.control(ctx, control.Message{Type: control.ForceActivateNow}, nil)
	case "cache":
		if len(args) < 2 {
			return fmt.Errorf("cache requires a url")
		}
		return c.control(ctx, control.Message{Type: control.CacheResource, URL: args[1]}, nil)
	case "sync":
		if len(args) < 2 {
			return fmt.Errorf("sync requires a tag")
		}
		return c.print(ctx, http.MethodPost, "/_sw/sync/"+args[1], out)
	case "queue":
		if len(args) < 2 {
			return fmt.Errorf("queue requires a tag")
		}
		return c.print(ctx, http.MethodGet, "/_sw/queue/"+args[1], out)
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

type client struct {
	base string
	http *http.Client
}

func newClient(base string, h *http.Client) *client {
	return &client{base: strings.TrimSuffix(base, "/"), http: h}
}

func (c *client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

func (c *client) control(ctx context.Context, msg control.Message, reply *control.Reply) error {
	resp, err := c.do(ctx, http.MethodPost, "/_sw/control", msg)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if reply == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(reply)
}

func (c *client) print(ctx context.Context, method, path string, out io.Writer) error {
	return c.send(ctx, method, path, nil, out)
}

func (c *client) send(ctx context.Context, method, path string, body any, out io.Writer) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(out, resp.Body)
	return err
}
