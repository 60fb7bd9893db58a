// Package completion sends the assistant's prompts to a remote text
// completion API. Gemini is the default provider; an OpenAI-compatible
// provider and a circuit breaker wrapper are available.
//
// Callers treat every error the same way: the assistant answers from its
// canned fallback instead.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lannapoly/tiewson-kiosk/internal/metrics"
)

// ErrEmptyCompletion is returned when the API answered without any text.
var ErrEmptyCompletion = errors.New("empty completion")

// Generation parameters shared by every provider.
const (
	Temperature     = 0.7
	MaxOutputTokens = 300
	TopP            = 0.8
	TopK            = 40
)

// Request is one assistant prompt.
type Request struct {
	// SystemInstruction is the localized persona instruction.
	SystemInstruction string
	// UserText is what the viewer said or typed.
	UserText string
	// Language names the reply language, for example "TH".
	Language string
}

// Prompt renders the request as the single text prompt sent to the model.
func (r Request) Prompt() string {
	return fmt.Sprintf("Instruction: %s\nUser Question: %s\nResponse Language: %s",
		r.SystemInstruction, r.UserText, strings.ToUpper(r.Language))
}

// Completer produces a reply for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// observe records one completion outcome in both metric sinks.
func observe(provider string, start time.Time, text string, err error) {
	elapsed := time.Since(start)
	outcome := "ok"
	switch {
	case errors.Is(err, ErrEmptyCompletion):
		outcome = "empty"
	case err != nil:
		outcome = "error"
	case text == "":
		outcome = "empty"
	}

	metrics.CompletionRequests.WithLabelValues(provider, outcome).Inc()
	metrics.CompletionLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
	metrics.New(metrics.Namespace).
		Dimension("Provider", provider).
		Dimension("Outcome", outcome).
		Duration("CompletionMs", elapsed).
		Count("CompletionCall").
		Flush()
}
