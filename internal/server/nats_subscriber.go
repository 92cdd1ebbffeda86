package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-analytics/internal/analytics"
	"github.com/lorawan-server/lorawan-analytics/internal/metrics"
)

// RequestIDHeader carries the id of a request on its reply.
const RequestIDHeader = "X-Request-Id"

// Reply is the message sent back to a NATS requester.
type Reply struct {
	RequestID string            `json:"requestId"`
	Bundle    *analytics.Bundle `json:"bundle,omitempty"`
	Error     string            `json:"error,omitempty"`
	Code      string            `json:"code,omitempty"`
}

// NATSSubscriber answers analytics requests received on a queue subject.
type NATSSubscriber struct {
	nc      *nats.Conn
	service *Service
	subject string
	queue   string
	subs    []*nats.Subscription
}

// NewNATSSubscriber creates NATS subscriber
func NewNATSSubscriber(nc *nats.Conn, service *Service, subject, queue string) *NATSSubscriber {
	return &NATSSubscriber{
		nc:      nc,
		service: service,
		subject: subject,
		queue:   queue,
		subs:    make([]*nats.Subscription, 0),
	}
}

// Start subscribes and blocks until ctx is done.
func (s *NATSSubscriber) Start(ctx context.Context) error {
	sub, err := s.nc.QueueSubscribe(s.subject, s.queue, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	s.subs = append(s.subs, sub)

	log.Info().
		Str("subject", s.subject).
		Str("queue", s.queue).
		Msg("NATS subscriber started")

	<-ctx.Done()

	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil {
			log.Warn().Err(err).Str("subject", sub.Subject).Msg("Failed to drain subscription")
		}
	}

	return ctx.Err()
}

func (s *NATSSubscriber) handleRequest(msg *nats.Msg) {
	requestID := msg.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	log.Debug().
		Str("subject", msg.Subject).
		Str("requestId", requestID).
		Int("size", len(msg.Data)).
		Msg("Received analytics request")

	if msg.Reply == "" {
		log.Warn().Str("requestId", requestID).Msg("Analytics request has no reply subject, dropping")
		return
	}

	resp := nats.NewMsg(msg.Reply)
	resp.Header.Set(RequestIDHeader, requestID)
	resp.Data = s.process(requestID, msg.Data)

	if err := msg.RespondMsg(resp); err != nil {
		log.Error().Err(err).Str("requestId", requestID).Msg("Failed to reply to analytics request")
	}
}

// process turns a request body into the encoded reply.
func (s *NATSSubscriber) process(requestID string, data []byte) []byte {
	reply := Reply{RequestID: requestID}

	req, err := s.service.ParseRequest(data)
	if err != nil {
		reply.Error = err.Error()
		reply.Code = errorCode(err)
	} else {
		reply.Bundle = s.service.Analyze(req, metrics.SourceNATS)
	}

	out, err := json.Marshal(reply)
	if err != nil {
		log.Error().Err(err).Str("requestId", requestID).Msg("Failed to marshal reply")
		out, _ = json.Marshal(Reply{RequestID: requestID, Error: "internal error", Code: "internal_error"})
	}
	return out
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrTooManyFrames):
		return "too_many_frames"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return "internal_error"
	}
}
