package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/javanstorm/qvmctl/internal/vm"
	"github.com/javanstorm/qvmctl/pkg/hypervisor"
)

// Error is a non-2xx API response.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %s", http.StatusText(e.StatusCode))
	}
	return e.Message
}

// Unwrap maps the status back to the orchestrator error it came from, so
// callers can use errors.Is on client errors.
func (e *Error) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return vm.ErrNotFound
	case http.StatusConflict:
		return vm.ErrConflict
	case http.StatusBadRequest:
		return vm.ErrInvalid
	case http.StatusNotImplemented:
		return hypervisor.ErrUnsupported
	case http.StatusServiceUnavailable:
		return vm.ErrToolUnavailable
	default:
		return nil
	}
}

// Client talks to a running API server.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the server at addr, given as host:port
// or a full URL.
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{},
	}
}

// List returns the machine summaries.
func (c *Client) List(ctx context.Context) ([]vm.MachineInfo, error) {
	var out []vm.MachineInfo
	err := c.do(ctx, http.MethodGet, "/api/machines", nil, &out)
	return out, err
}

// Get returns one machine.
func (c *Client) Get(ctx context.Context, name string) (*MachineDetail, error) {
	var out MachineDetail
	if err := c.do(ctx, http.MethodGet, machinePath(name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Create defines a new machine.
func (c *Client) Create(ctx context.Context, body CreateBody) (*MachineDetail, error) {
	var out MachineDetail
	if err := c.do(ctx, http.MethodPost, "/api/machines", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a machine, stopping it first when force is set.
func (c *Client) Delete(ctx context.Context, name string, force bool) error {
	path := machinePath(name)
	if force {
		path += "?force=1"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Start starts a machine and returns its state.
func (c *Client) Start(ctx context.Context, name string) (vm.RuntimeState, error) {
	return c.lifecycle(ctx, name, "start")
}

// Stop stops a machine and returns its state.
func (c *Client) Stop(ctx context.Context, name string) (vm.RuntimeState, error) {
	return c.lifecycle(ctx, name, "stop")
}

// Pause pauses a machine.
func (c *Client) Pause(ctx context.Context, name string) (vm.RuntimeState, error) {
	return c.lifecycle(ctx, name, "pause")
}

// Resume resumes a paused machine.
func (c *Client) Resume(ctx context.Context, name string) (vm.RuntimeState, error) {
	return c.lifecycle(ctx, name, "resume")
}

// Reset stops and starts a machine.
func (c *Client) Reset(ctx context.Context, name string) (vm.RuntimeState, error) {
	return c.lifecycle(ctx, name, "reset")
}

// Events streams orchestrator events to fn until ctx is cancelled, the
// server closes the stream, or fn returns an error.
func (c *Client) Events(ctx context.Context, fn func(vm.Event) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	var event string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if event == "connected" || event == "heartbeat" {
				continue
			}
			var ev vm.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			if err := fn(ev); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (c *Client) lifecycle(ctx context.Context, name, action string) (vm.RuntimeState, error) {
	var st vm.RuntimeState
	err := c.do(ctx, http.MethodPost, machinePath(name)+"/"+action, nil, &st)
	return st, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	var body errorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	return &Error{StatusCode: resp.StatusCode, Message: body.Error}
}

func machinePath(name string) string {
	return "/api/machines/" + url.PathEscape(name)
}
