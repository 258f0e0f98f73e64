package slides

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"studyflow/internal/models"
	"studyflow/internal/providers"
	"studyflow/internal/util"
)

type Options struct {
	MaxInvalidRetries   int
	MaxTransientRetries int
	BaseDelay           time.Duration
	CallTimeout         time.Duration
}

type Input struct {
	BookID    string
	SegmentID string
	Heading   string
	Body      string
}

type Synthesizer struct {
	gen   providers.LLMProvider
	opts  Options
	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

func NewSynthesizer(gen providers.LLMProvider, opts Options) *Synthesizer {
	if opts.MaxInvalidRetries < 0 {
		opts.MaxInvalidRetries = 0
	}
	if opts.MaxTransientRetries < 0 {
		opts.MaxTransientRetries = 0
	}
	return &Synthesizer{
		gen:   gen,
		opts:  opts,
		sleep: util.SleepContext,
		now:   time.Now,
	}
}

// Generate produces a validated deck for one segment. Invalid output is
// retried up to MaxInvalidRetries times and then fails with
// ErrGenerationInvalid; rate limits and transport failures are retried with
// backoff and then fail with ErrGenerationUnavailable.
func (s *Synthesizer) Generate(ctx context.Context, in Input) (models.SlideDeck, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("segment_id", in.SegmentID))
	heading := strings.TrimSpace(in.Heading)
	invalid, transient := 0, 0
	lastProblem := ""
	for {
		req := providers.GenerateRequest{
			Operation: providers.OpSlideDeck,
			System:    systemPrompt,
			Prompt:    buildPrompt(invalid, lastProblem),
			Context:   []string{heading, in.Body},
			JSON:      true,
		}
		resp, info, err := s.call(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return models.SlideDeck{}, ctx.Err()
			}
			errType := providers.ClassifyError(err)
			if !providers.Retryable(errType) || transient >= s.opts.MaxTransientRetries {
				return models.SlideDeck{}, fmt.Errorf("%w: %w: %w", util.ErrGenerationUnavailable, providers.Sentinel(errType), err)
			}
			transient++
			delay := util.CalculateBackoff(s.opts.BaseDelay, transient)
			logger.Warn("slide generation retry",
				zap.String("error_type", string(errType)), zap.Int("attempt", transient), zap.Duration("delay", delay), zap.Error(err))
			if err := s.sleep(ctx, delay); err != nil {
				return models.SlideDeck{}, err
			}
			continue
		}

		deckHeading, slides, perr := ParseDeck(resp.Text)
		if perr != nil {
			if invalid >= s.opts.MaxInvalidRetries {
				return models.SlideDeck{}, fmt.Errorf("%w: %w", util.ErrGenerationInvalid, perr)
			}
			invalid++
			lastProblem = perr.Error()
			logger.Warn("slide output rejected", zap.Int("attempt", invalid), zap.Error(perr))
			continue
		}
		if deckHeading == "" {
			deckHeading = util.StripSectionNumber(heading)
		}
		return models.SlideDeck{
			SegmentID:   in.SegmentID,
			BookID:      in.BookID,
			Heading:     deckHeading,
			Slides:      slides,
			Provider:    info.Name,
			Model:       info.Model,
			GeneratedAt: s.now().UTC(),
		}, nil
	}
}

func (s *Synthesizer) call(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	if s.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.CallTimeout)
		defer cancel()
	}
	return s.gen.Generate(ctx, req)
}
