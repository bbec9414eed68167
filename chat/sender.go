package chat

import (
	"context"

	"github.com/onnwee/clipgremlin/ratelimit"
)

// Sender serializes all outbound messages for a session through one rate
// limiter. Messages are held until admissible, never dropped for rate reasons;
// discarding a superseded prompt is the caller's decision, made before Send.
type Sender struct {
	limiter *ratelimit.Limiter
	post    func(text string)
}

// NewSender wraps a post function (normally IRC.Say) with the session limiter.
func NewSender(limiter *ratelimit.Limiter, post func(string)) *Sender {
	return &Sender{limiter: limiter, post: post}
}

// Send blocks until the limiter admits the message, then posts it. It returns
// ctx.Err() if the session ends while the message is held.
func (s *Sender) Send(ctx context.Context, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	// Admission can race session end; a canceled message must not reach chat.
	if err := ctx.Err(); err != nil {
		return err
	}
	s.post(text)
	return nil
}
