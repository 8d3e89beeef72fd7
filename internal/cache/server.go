package cache

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/leonardcser/hotcache/internal/logger"
)

// Server answers the socket protocol on behalf of a KV.
type Server struct {
	kv KV
	wg sync.WaitGroup
}

func NewServer(kv KV) *Server {
	return &Server{kv: kv}
}

// Serve accepts connections on l until ctx is cancelled, then closes l and
// waits for in-flight connections to finish.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()
	defer s.wg.Wait()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			logger.Warnf("accept: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	// unblock the decoder on shutdown
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		if err := enc.Encode(s.handle(req)); err != nil {
			logger.Warnf("write response %s: %v", req.ID, err)
			return
		}
	}
}

func (s *Server) handle(req Request) Response {
	logger.Debugf("%s %s %q", req.ID, req.Op, req.Key)
	if req.Key == "" {
		return errorResponse(req.ID, &ProtocolError{Code: CodeBadRequest, Msg: "empty key"})
	}
	switch req.Op {
	case OpGet:
		var (
			v         []byte
			expiresAt time.Time
			err       error
		)
		if eg, ok := s.kv.(ExpiryGetter); ok {
			v, expiresAt, err = eg.GetWithExpiry(req.Key)
		} else {
			v, err = s.kv.Get(req.Key)
		}
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return Response{ID: req.ID, OK: true, Value: v, ExpiresAt: unixNano(expiresAt)}
	case OpPut:
		ttl := time.Duration(req.TTLSeconds) * time.Second
		if err := s.kv.Put(req.Key, req.Value, ttl); err != nil {
			logger.Errorf("put %q: %v", req.Key, err)
			return errorResponse(req.ID, err)
		}
		return Response{ID: req.ID, OK: true}
	case OpDelete:
		if err := s.kv.Delete(req.Key); err != nil {
			logger.Errorf("delete %q: %v", req.Key, err)
			return errorResponse(req.ID, err)
		}
		return Response{ID: req.ID, OK: true}
	default:
		return errorResponse(req.ID, &ProtocolError{Code: CodeBadRequest, Msg: "unknown op " + req.Op})
	}
}
