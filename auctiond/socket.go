package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/mdlayher/vsock"
	"go.uber.org/zap"

	"github.com/cloudx-io/escrowauction/auctionapi"
	"github.com/cloudx-io/escrowauction/core"
)

// SocketServer answers one JSON request per connection. Inside a Nitro enclave
// it listens on vsock; elsewhere on TCP.
type SocketServer struct {
	service     *Service
	logger      *zap.Logger
	maxWorkers  int
	readTimeout time.Duration
}

func NewSocketServer(service *Service, logger *zap.Logger, cfg APIConfig) *SocketServer {
	return &SocketServer{
		service:     service,
		logger:      logger,
		maxWorkers:  cfg.MaxWorkers,
		readTimeout: cfg.ReadTimeout,
	}
}

// listenSocket opens the configured socket listener.
func listenSocket(cfg APIConfig) (net.Listener, error) {
	switch cfg.SocketTransport {
	case "vsock":
		l, err := vsock.Listen(cfg.VsockPort, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create vsock listener: %w", err)
		}
		return l, nil
	case "tcp":
		l, err := net.Listen("tcp", cfg.SocketAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to create tcp listener: %w", err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("socket transport %q has no listener", cfg.SocketTransport)
	}
}

// Serve accepts connections until ctx is cancelled. When all workers are busy
// new connections are closed immediately rather than queued.
func (s *SocketServer) Serve(ctx context.Context, listener net.Listener) error {
	semaphore := make(chan struct{}, s.maxWorkers)
	s.logger.Info("socket server listening",
		zap.String("addr", listener.Addr().String()),
		zap.Int("max_workers", s.maxWorkers))

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Error("failed to accept connection", zap.Error(err))
			continue
		}

		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }()
				s.handleConnection(ctx, c)
			}(conn)
		default:
			socketRejected.Inc()
			s.logger.Info("no workers available, rejecting connection")
			if err := conn.Close(); err != nil {
				s.logger.Error("failed to close rejected connection", zap.Error(err))
			}
		}
	}
}

func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic recovered in connection handler", zap.Any("panic", r))
		}
		if err := conn.Close(); err != nil {
			s.logger.Debug("failed to close connection", zap.Error(err))
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))

	var req auctionapi.Request
	var response any
	if err := json.NewDecoder(io.LimitReader(conn, maxBodyBytes)).Decode(&req); err != nil {
		s.logger.Warn("failed to decode request", zap.Error(err))
		response = errorResponse(fmt.Errorf("%w: failed to decode request: %v", ErrBadRequest, err))
	} else {
		response = s.dispatch(ctx, req)
	}

	if err := json.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Warn("failed to encode response", zap.String("type", req.Type), zap.Error(err))
	}
}

func (s *SocketServer) dispatch(ctx context.Context, req auctionapi.Request) any {
	switch req.Type {
	case auctionapi.TypePing, auctionapi.TypeStatus, auctionapi.TypeBid, auctionapi.TypeSettle,
		auctionapi.TypeKeyRequest, auctionapi.TypeReceipts:
		socketRequests.WithLabelValues(req.Type).Inc()
	default:
		socketRequests.WithLabelValues("unknown").Inc()
	}
	s.logger.Debug("received request", zap.String("type", req.Type), zap.String("caller", req.Caller))

	switch req.Type {
	case auctionapi.TypePing:
		return map[string]any{
			"type":      auctionapi.TypePong,
			"message":   "auction daemon is healthy",
			"timestamp": time.Now().Unix(),
		}

	case auctionapi.TypeStatus:
		return s.service.Status()

	case auctionapi.TypeBid:
		resp, err := s.service.Bid(ctx, core.Identity(req.Caller), req.BidRequest)
		if err != nil {
			return errorResponse(err)
		}
		return resp

	case auctionapi.TypeSettle:
		resp, err := s.service.Settle(ctx, core.Identity(req.Caller))
		if err != nil {
			return errorResponse(err)
		}
		return resp

	case auctionapi.TypeKeyRequest:
		resp, err := s.service.Key()
		if err != nil {
			s.logger.Error("key request failed", zap.Error(err))
			return errorResponse(err)
		}
		return resp

	case auctionapi.TypeReceipts:
		return s.service.Receipts()

	default:
		return errorResponse(fmt.Errorf("%w: unknown request type: %s", ErrBadRequest, req.Type))
	}
}

func errorResponse(err error) auctionapi.ErrorResponse {
	_, code := classify(err)
	return auctionapi.ErrorResponse{
		Type:    auctionapi.TypeError,
		Code:    code,
		Message: err.Error(),
	}
}
