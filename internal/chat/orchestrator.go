package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"studyflow/internal/models"
	"studyflow/internal/providers"
	"studyflow/internal/retrieval"
	"studyflow/internal/util"
	"studyflow/internal/vector"
)

type State string

const (
	StateIdle                  State = "idle"
	StateAwaitingModelDecision State = "awaiting_model_decision"
	StateRetrievingContext     State = "retrieving_context"
	StateAwaitingModelAnswer   State = "awaiting_model_answer"
)

type Policy string

const (
	PolicyDecide Policy = "decide"
	PolicyAlways Policy = "always"
)

// HistoryStore persists chat turns. AppendTurns writes all given turns or
// none and assigns their sequence numbers.
type HistoryStore interface {
	ListTurns(ctx context.Context, sessionID string, limit int) ([]models.ChatTurn, error)
	AppendTurns(ctx context.Context, sessionID string, turns []models.ChatTurn) ([]models.ChatTurn, error)
}

type SegmentLoader interface {
	GetSegment(ctx context.Context, segmentID string) (models.Segment, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]vector.Hit, error)
}

type Options struct {
	Policy        Policy
	TopK          int
	HistoryWindow int
	CallTimeout   time.Duration
	// MaxContextChars bounds each context block; 0 keeps whole segments.
	MaxContextChars int
}

type Turn struct {
	SessionID string `json:"session_id"`
	Text      string `json:"query"`
	BookID    string `json:"book_id,omitempty"`
}

type Reply struct {
	SessionID        string            `json:"session_id"`
	Answer           string            `json:"answer"`
	CitedSegmentRefs []string          `json:"cited_segment_refs"`
	Retrieved        bool              `json:"retrieved"`
	SearchQuery      string            `json:"search_query,omitempty"`
	Trace            []State           `json:"trace"`
	Provider         string            `json:"provider,omitempty"`
	Model            string            `json:"model,omitempty"`
	Turns            []models.ChatTurn `json:"turns"`
}

type Orchestrator struct {
	llm      providers.LLMProvider
	retr     Retriever
	segments SegmentLoader
	history  HistoryStore
	opts     Options
	lanes    *lanes
	now      func() time.Time
}

func NewOrchestrator(llm providers.LLMProvider, retr Retriever, segments SegmentLoader, history HistoryStore, opts Options) *Orchestrator {
	if opts.Policy == "" {
		opts.Policy = PolicyDecide
	}
	if opts.TopK <= 0 {
		opts.TopK = retrieval.DefaultTopK
	}
	if opts.HistoryWindow < 0 {
		opts.HistoryWindow = 0
	}
	return &Orchestrator{
		llm:      llm,
		retr:     retr,
		segments: segments,
		history:  history,
		opts:     opts,
		lanes:    newLanes(),
		now:      time.Now,
	}
}

func NewSessionID() string {
	return uuid.NewString()
}

// History returns the session's turns in order.
func (o *Orchestrator) History(ctx context.Context, sessionID string) ([]models.ChatTurn, error) {
	return o.history.ListTurns(ctx, sessionID, 0)
}

// Submit processes one user turn. Turns of a session run one at a time in
// arrival order. When the answer call fails nothing is recorded.
func (o *Orchestrator) Submit(ctx context.Context, turn Turn) (Reply, error) {
	query := strings.TrimSpace(turn.Text)
	if turn.SessionID == "" {
		return Reply{}, errors.New("session id is required")
	}
	if query == "" {
		return Reply{}, errors.New("query is required")
	}
	release, err := o.lanes.acquire(ctx, turn.SessionID)
	if err != nil {
		return Reply{}, err
	}
	defer release()

	logger := logutil.GetLogger(ctx).With(zap.String("session_id", turn.SessionID))
	reply := Reply{SessionID: turn.SessionID, CitedSegmentRefs: []string{}, Trace: []State{StateIdle}}

	var history []models.ChatTurn
	if o.opts.HistoryWindow > 0 {
		history, err = o.history.ListTurns(ctx, turn.SessionID, o.opts.HistoryWindow)
		if err != nil {
			return Reply{}, fmt.Errorf("load history: %w", err)
		}
	}

	retrieve, searchQuery := true, query
	if o.opts.Policy == PolicyDecide {
		reply.Trace = append(reply.Trace, StateAwaitingModelDecision)
		retrieve, searchQuery = o.decide(ctx, logger, history, query)
	}

	var blocks []string
	if retrieve {
		reply.Trace = append(reply.Trace, StateRetrievingContext)
		reply.Retrieved = true
		reply.SearchQuery = searchQuery
		blocks, reply.CitedSegmentRefs = o.gatherContext(ctx, logger, searchQuery, turn.BookID)
	}

	reply.Trace = append(reply.Trace, StateAwaitingModelAnswer)
	callCtx, cancel := o.callContext(ctx)
	resp, info, err := o.llm.Generate(callCtx, providers.GenerateRequest{
		Operation: providers.OpChatAnswer,
		System:    answerSystemPrompt,
		Prompt:    answerPrompt(history, query),
		Context:   blocks,
	})
	cancel()
	answer := strings.TrimSpace(resp.Text)
	if err == nil && answer == "" {
		err = errors.New("empty answer")
	}
	if err != nil {
		logger.Warn("chat answer failed", zap.Error(err))
		return Reply{}, fmt.Errorf("%w: %w", util.ErrChatUnavailable, err)
	}

	now := o.now().UTC()
	turns := []models.ChatTurn{
		{TurnID: uuid.NewString(), SessionID: turn.SessionID, Role: models.RoleUser, Text: query, CitedSegmentRefs: []string{}, CreatedAt: now},
		{TurnID: uuid.NewString(), SessionID: turn.SessionID, Role: models.RoleAssistant, Text: answer, CitedSegmentRefs: reply.CitedSegmentRefs, CreatedAt: now},
	}
	// The model answered; recording must not be abandoned halfway by a
	// client disconnect.
	saved, err := o.history.AppendTurns(context.WithoutCancel(ctx), turn.SessionID, turns)
	if err != nil {
		return Reply{}, fmt.Errorf("record turns: %w", err)
	}
	reply.Answer = answer
	reply.Provider, reply.Model = info.Name, info.Model
	reply.Turns = saved
	reply.Trace = append(reply.Trace, StateIdle)
	logger.Info("chat turn answered",
		zap.Bool("retrieved", reply.Retrieved),
		zap.Int("cited", len(reply.CitedSegmentRefs)),
		zap.String("provider", info.Name))
	return reply, nil
}

func (o *Orchestrator) decide(ctx context.Context, logger *zap.Logger, history []models.ChatTurn, query string) (bool, string) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	resp, _, err := o.llm.Generate(callCtx, providers.GenerateRequest{
		Operation: providers.OpChatDecide,
		System:    decideSystemPrompt,
		Prompt:    decidePrompt(history, query),
	})
	if err != nil {
		logger.Warn("chat decision failed, retrieving", zap.Error(err))
		return true, query
	}
	retrieve, rewritten, ok := parseDecision(resp.Text)
	if !ok {
		logger.Warn("chat decision unparseable, retrieving", zap.String("reply", util.Snippet(resp.Text, 80)))
		return true, query
	}
	if rewritten == "" {
		rewritten = query
	}
	return retrieve, rewritten
}

// gatherContext returns the context blocks and the segment refs they came
// from, deduplicated in rank order. Retrieval failures leave the turn to be
// answered from history alone.
func (o *Orchestrator) gatherContext(ctx context.Context, logger *zap.Logger, query, bookID string) ([]string, []string) {
	refs := []string{}
	if o.retr == nil {
		return nil, refs
	}
	hits, err := o.retr.Retrieve(ctx, retrieval.Query{Text: query, TopK: o.opts.TopK, BookID: bookID})
	if err != nil {
		logger.Warn("chat retrieval failed, answering without context", zap.Error(err))
		return nil, refs
	}
	blocks := make([]string, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		if _, ok := seen[h.SegmentRef]; ok {
			continue
		}
		seen[h.SegmentRef] = struct{}{}
		seg, err := o.segments.GetSegment(ctx, h.SegmentRef)
		if err != nil {
			logger.Warn("load cited segment failed", zap.String("segment_id", h.SegmentRef), zap.Error(err))
			continue
		}
		blocks = append(blocks, contextBlock(len(blocks)+1, seg, o.opts.MaxContextChars))
		refs = append(refs, h.SegmentRef)
	}
	return blocks, refs
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.CallTimeout > 0 {
		return context.WithTimeout(ctx, o.opts.CallTimeout)
	}
	return context.WithCancel(ctx)
}
