package cache

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// JSON protocol for the cache daemon over a Unix domain socket.
// A connection carries a stream of request/response pairs; every response
// echoes the ID of the request it answers.

const (
	OpGet    = "get"
	OpPut    = "put"
	OpDelete = "delete"
)

// Error codes carried in Response.Code.
const (
	CodeNotFound   = "not_found"
	CodeExpired    = "expired"
	CodeBadRequest = "bad_request"
	CodeInternal   = "internal"
)

type Request struct {
	ID         string `json:"id"`
	Op         string `json:"op"`
	Key        string `json:"key"`
	Value      []byte `json:"value,omitempty"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
}

type Response struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Value []byte `json:"value,omitempty"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`

	// ExpiresAt is the value's expiry in Unix nanoseconds; 0 means never.
	ExpiresAt int64 `json:"expires_at,omitempty"`
}

// ProtocolError is a daemon-side failure without a matching sentinel.
type ProtocolError struct {
	Code string
	Msg  string
}

func (e *ProtocolError) Error() string { return e.Code + ": " + e.Msg }

func newRequest(op, key string) Request {
	return Request{ID: uuid.NewString(), Op: op, Key: key}
}

func errorResponse(id string, err error) Response {
	code := CodeInternal
	var perr *ProtocolError
	switch {
	case errors.Is(err, ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, ErrExpired):
		code = CodeExpired
	case errors.As(err, &perr):
		code = perr.Code
	}
	return Response{ID: id, Code: code, Error: err.Error()}
}

// err turns a failed response back into the error the daemon saw.
func (r Response) err() error {
	if r.OK {
		return nil
	}
	switch r.Code {
	case CodeNotFound:
		return ErrNotFound
	case CodeExpired:
		return ErrExpired
	}
	return &ProtocolError{Code: r.Code, Msg: r.Error}
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n <= 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
