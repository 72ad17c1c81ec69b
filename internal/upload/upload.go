// Package upload submits finalized recordings to the transcription service.
package upload

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sorosurance/soro/internal/api"
	"github.com/sorosurance/soro/internal/session"
)

// ErrRejected marks a well-formed response with success=false.
var ErrRejected = errors.New("transcription rejected")

// toResult validates a decoded response and maps it onto a session result.
func toResult(resp api.Response) (session.Result, error) {
	if err := resp.Validate(); err != nil {
		return session.Result{}, err
	}
	if !resp.Success {
		reason := strings.TrimSpace(resp.Error)
		if reason == "" {
			reason = "no reason given"
		}
		return session.Result{}, fmt.Errorf("%w: %s", ErrRejected, reason)
	}

	sentiment, ok := session.ParseSentiment(resp.Sentiment)
	if !ok && resp.Sentiment != "" {
		return session.Result{}, fmt.Errorf("malformed transcription response: sentiment %q", resp.Sentiment)
	}
	return session.Result{
		Transcript:     resp.Transcript,
		Keywords:       resp.Keywords,
		Sentiment:      sentiment,
		SentimentScore: resp.SentimentScore,
	}, nil
}
