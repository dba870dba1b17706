package scan

import (
	"context"

	"github.com/avistalabs/columbus/internal/interfaces"
	"github.com/avistalabs/columbus/internal/logging"
	"github.com/avistalabs/columbus/internal/model"
)

// ResultSink forwards each collected result to the reporting backend and
// finalizes the scan session at the end. Delivery is best-effort by contract:
// failures are logged and swallowed, never surfaced as scan failures.
type ResultSink struct {
	reporter interfaces.Reporter
	logger   logging.Logger

	token         string
	productID     string
	scanSessionID string
}

func newResultSink(reporter interfaces.Reporter, logger logging.Logger, token, productID, scanSessionID string) *ResultSink {
	return &ResultSink{
		reporter:      reporter,
		logger:        logger,
		token:         token,
		productID:     productID,
		scanSessionID: scanSessionID,
	}
}

// Submit posts one completed task's result.
func (s *ResultSink) Submit(ctx context.Context, t Task, resp *model.CollectResponse) {
	if s.reporter == nil || s.token == "" {
		return
	}
	rec := &model.ScanResultRecord{
		ProductID:          s.productID,
		ScanSessionID:      s.scanSessionID,
		Platform:           t.Platform.String(),
		PromptID:           t.Prompt.ID,
		PromptText:         t.Prompt.Text,
		ResponseText:       resp.ResponseText,
		BrandMentioned:     resp.BrandMentioned,
		CitationPresent:    resp.CitationPresent,
		Position:           resp.Position,
		Sentiment:          resp.Sentiment,
		CompetitorMentions: resp.CompetitorMentions,
		CompetitorDetails:  resp.CompetitorDetails,
		Citations:          resp.Citations,
		CreditsExhausted:   resp.CreditsExhausted,
		ChatURL:            resp.ChatURL,
		RequestRegion:      t.Region,
	}
	if err := s.reporter.SubmitResult(ctx, s.token, rec); err != nil {
		s.logger.Warn("result submission failed",
			logging.Field{Key: "label", Value: t.Label},
			logging.Field{Key: "error", Value: err.Error()})
	}
}

// Finalize tells the backend the scan session is done. token may be a fresher
// one than the sink was built with.
func (s *ResultSink) Finalize(ctx context.Context, token string) {
	if s.reporter == nil {
		return
	}
	if token == "" {
		token = s.token
	}
	if token == "" {
		return
	}
	if err := s.reporter.FinalizeScan(ctx, token, s.scanSessionID, s.productID); err != nil {
		s.logger.Warn("scan finalize failed",
			logging.Field{Key: "scan_session_id", Value: s.scanSessionID},
			logging.Field{Key: "error", Value: err.Error()})
	}
}
