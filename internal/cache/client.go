package cache

import (
	"fmt"
	"net"
	"time"

	json "github.com/goccy/go-json"
)

// DialTimeout bounds connecting to the daemon socket.
const DialTimeout = 500 * time.Millisecond

// Client implements KV over a Unix socket.
type Client struct {
	socketPath string
}

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Ping checks that the daemon accepts connections.
func (c *Client) Ping() error {
	conn, err := net.DialTimeout("unix", c.socketPath, DialTimeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (c *Client) Get(key string) ([]byte, error) {
	v, _, err := c.GetWithExpiry(key)
	return v, err
}

// GetWithExpiry returns the value and the expiry reported by the daemon.
func (c *Client) GetWithExpiry(key string) ([]byte, time.Time, error) {
	resp, err := c.roundTrip(newRequest(OpGet, key))
	if err != nil {
		return nil, time.Time{}, err
	}
	return resp.Value, fromUnixNano(resp.ExpiresAt), nil
}

func (c *Client) Put(key string, value []byte, ttl time.Duration) error {
	req := newRequest(OpPut, key)
	req.Value = value
	req.TTLSeconds = int64(ttl / time.Second)
	_, err := c.roundTrip(req)
	return err
}

func (c *Client) Delete(key string) error {
	_, err := c.roundTrip(newRequest(OpDelete, key))
	return err
}

// roundTrip sends one request on a fresh connection and decodes its answer.
func (c *Client) roundTrip(req Request) (Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, DialTimeout)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(&req); err != nil {
		return Response{}, fmt.Errorf("cache: send %s: %w", req.Op, err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("cache: receive %s: %w", req.Op, err)
	}
	if resp.ID != req.ID {
		return Response{}, fmt.Errorf("cache: response id %q does not match request %q", resp.ID, req.ID)
	}
	return resp, resp.err()
}
