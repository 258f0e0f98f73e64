package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studyflow/internal/models"
	"studyflow/internal/providers"
	"studyflow/internal/retrieval"
	"studyflow/internal/util"
	"studyflow/internal/vector"
)

type scriptedLLM struct {
	mu       sync.Mutex
	decide   func() (string, error)
	answer   func(req providers.GenerateRequest) (string, error)
	requests []providers.GenerateRequest
}

func (s *scriptedLLM) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	info := providers.ProviderInfo{Name: "scripted", Model: "m"}
	var text string
	var err error
	switch req.Operation {
	case providers.OpChatDecide:
		if s.decide == nil {
			return providers.GenerateResponse{Text: "RETRIEVE"}, info, nil
		}
		text, err = s.decide()
	case providers.OpChatAnswer:
		if s.answer == nil {
			return providers.GenerateResponse{Text: "answer"}, info, nil
		}
		text, err = s.answer(req)
	}
	return providers.GenerateResponse{Text: text}, info, err
}

func (s *scriptedLLM) last(op string) (providers.GenerateRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.requests) - 1; i >= 0; i-- {
		if s.requests[i].Operation == op {
			return s.requests[i], true
		}
	}
	return providers.GenerateRequest{}, false
}

type fakeRetriever struct {
	hits    []vector.Hit
	err     error
	queries []retrieval.Query
}

func (f *fakeRetriever) Retrieve(ctx context.Context, q retrieval.Query) ([]vector.Hit, error) {
	f.queries = append(f.queries, q)
	return f.hits, f.err
}

type segmentMap map[string]models.Segment

func (m segmentMap) GetSegment(ctx context.Context, id string) (models.Segment, error) {
	s, ok := m[id]
	if !ok {
		return models.Segment{}, util.ErrNotFound
	}
	return s, nil
}

type memHistory struct {
	mu    sync.Mutex
	turns map[string][]models.ChatTurn
}

func newMemHistory() *memHistory {
	return &memHistory{turns: map[string][]models.ChatTurn{}}
}

func (h *memHistory) ListTurns(ctx context.Context, sessionID string, limit int) ([]models.ChatTurn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	all := h.turns[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]models.ChatTurn(nil), all...), nil
}

func (h *memHistory) AppendTurns(ctx context.Context, sessionID string, turns []models.ChatTurn) ([]models.ChatTurn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.ChatTurn, len(turns))
	for i, t := range turns {
		t.Seq = int64(len(h.turns[sessionID]) + 1)
		h.turns[sessionID] = append(h.turns[sessionID], t)
		out[i] = t
	}
	return out, nil
}

func testSegments() segmentMap {
	return segmentMap{
		"b/c000/s001": {SegmentID: "b/c000/s001", HeadingTitle: "Vector Spaces", Body: "A vector space is a set with addition and scaling."},
		"b/c000/s002": {SegmentID: "b/c000/s002", HeadingTitle: "Linear Maps", Body: "A linear map preserves addition and scaling."},
	}
}

func TestSubmitAlwaysRetrieveCitesSegmentsInRankOrder(t *testing.T) {
	llm := &scriptedLLM{}
	retr := &fakeRetriever{hits: []vector.Hit{
		{UnitRef: "b/c000/s002", SegmentRef: "b/c000/s002", Score: 0.9},
		{UnitRef: "b/c000/s002#deck", SegmentRef: "b/c000/s002", Score: 0.8},
		{UnitRef: "b/c000/s001", SegmentRef: "b/c000/s001", Score: 0.5},
	}}
	hist := newMemHistory()
	o := NewOrchestrator(llm, retr, testSegments(), hist, Options{Policy: PolicyAlways, TopK: 3, HistoryWindow: 4})

	reply, err := o.Submit(context.Background(), Turn{SessionID: "s1", Text: "what is a linear map?"})
	require.NoError(t, err)
	require.Equal(t, []string{"b/c000/s002", "b/c000/s001"}, reply.CitedSegmentRefs)
	require.Equal(t, []State{StateIdle, StateRetrievingContext, StateAwaitingModelAnswer, StateIdle}, reply.Trace)
	require.True(t, reply.Retrieved)

	_, decided := llm.last(providers.OpChatDecide)
	require.False(t, decided)
	req, ok := llm.last(providers.OpChatAnswer)
	require.True(t, ok)
	require.Len(t, req.Context, 2)
	require.True(t, strings.HasPrefix(req.Context[0], "[S1] Linear Maps"))

	turns, err := o.History(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, models.RoleUser, turns[0].Role)
	require.Equal(t, models.RoleAssistant, turns[1].Role)
	require.Equal(t, reply.CitedSegmentRefs, turns[1].CitedSegmentRefs)
	require.Empty(t, turns[0].CitedSegmentRefs)
}

func TestSubmitDecideAnswerSkipsRetrieval(t *testing.T) {
	llm := &scriptedLLM{decide: func() (string, error) { return "ANSWER", nil }}
	retr := &fakeRetriever{}
	o := NewOrchestrator(llm, retr, testSegments(), newMemHistory(), Options{})

	reply, err := o.Submit(context.Background(), Turn{SessionID: "s", Text: "thanks!"})
	require.NoError(t, err)
	require.False(t, reply.Retrieved)
	require.Empty(t, reply.CitedSegmentRefs)
	require.Empty(t, retr.queries)
	require.Equal(t, []State{StateIdle, StateAwaitingModelDecision, StateAwaitingModelAnswer, StateIdle}, reply.Trace)
}

func TestSubmitDecisionFailureFallsBackToRetrieval(t *testing.T) {
	for name, decide := range map[string]func() (string, error){
		"error":   func() (string, error) { return "", errors.New("timeout") },
		"garbled": func() (string, error) { return "maybe?", nil },
	} {
		t.Run(name, func(t *testing.T) {
			retr := &fakeRetriever{hits: []vector.Hit{{UnitRef: "b/c000/s001", SegmentRef: "b/c000/s001"}}}
			o := NewOrchestrator(&scriptedLLM{decide: decide}, retr, testSegments(), newMemHistory(), Options{})
			reply, err := o.Submit(context.Background(), Turn{SessionID: "s", Text: "vector spaces"})
			require.NoError(t, err)
			require.True(t, reply.Retrieved)
			require.Equal(t, []string{"b/c000/s001"}, reply.CitedSegmentRefs)
			require.Equal(t, "vector spaces", retr.queries[0].Text)
		})
	}
}

func TestSubmitUsesRewrittenSearchQuery(t *testing.T) {
	llm := &scriptedLLM{decide: func() (string, error) { return "RETRIEVE: eigenvalues of symmetric matrices\n", nil }}
	retr := &fakeRetriever{}
	o := NewOrchestrator(llm, retr, testSegments(), newMemHistory(), Options{})
	reply, err := o.Submit(context.Background(), Turn{SessionID: "s", Text: "and for symmetric ones?", BookID: "b"})
	require.NoError(t, err)
	require.Equal(t, "eigenvalues of symmetric matrices", reply.SearchQuery)
	require.Equal(t, "eigenvalues of symmetric matrices", retr.queries[0].Text)
	require.Equal(t, "b", retr.queries[0].BookID)
	require.Empty(t, reply.CitedSegmentRefs, "empty index yields no citations")
}

func TestSubmitAnswerFailureRecordsNothing(t *testing.T) {
	llm := &scriptedLLM{answer: func(providers.GenerateRequest) (string, error) { return "", errors.New("503") }}
	hist := newMemHistory()
	o := NewOrchestrator(llm, &fakeRetriever{}, testSegments(), hist, Options{})
	_, err := o.Submit(context.Background(), Turn{SessionID: "s", Text: "q"})
	require.ErrorIs(t, err, util.ErrChatUnavailable)

	turns, err := o.History(context.Background(), "s")
	require.NoError(t, err)
	require.Empty(t, turns)
}

func TestSubmitRetrievalFailureAnswersWithoutContext(t *testing.T) {
	llm := &scriptedLLM{}
	retr := &fakeRetriever{err: util.ErrEmbeddingUnavailable}
	o := NewOrchestrator(llm, retr, testSegments(), newMemHistory(), Options{Policy: PolicyAlways})
	reply, err := o.Submit(context.Background(), Turn{SessionID: "s", Text: "q"})
	require.NoError(t, err)
	require.Empty(t, reply.CitedSegmentRefs)
	req, _ := llm.last(providers.OpChatAnswer)
	require.Empty(t, req.Context)
}

func TestSubmitBoundsHistoryWindow(t *testing.T) {
	llm := &scriptedLLM{}
	o := NewOrchestrator(llm, &fakeRetriever{}, testSegments(), newMemHistory(), Options{Policy: PolicyAlways, HistoryWindow: 2})
	ctx := context.Background()
	for _, q := range []string{"first question", "second question", "third question"} {
		_, err := o.Submit(ctx, Turn{SessionID: "s", Text: q})
		require.NoError(t, err)
	}
	req, _ := llm.last(providers.OpChatAnswer)
	require.NotContains(t, req.Prompt, "first question")
	require.Contains(t, req.Prompt, "second question")
	require.Contains(t, req.Prompt, "Question: third question")

	turns, err := o.History(ctx, "s")
	require.NoError(t, err)
	require.Len(t, turns, 6)
	for i, turn := range turns {
		require.Equal(t, int64(i+1), turn.Seq)
	}
}

func TestSubmitRejectsEmptyInput(t *testing.T) {
	o := NewOrchestrator(&scriptedLLM{}, nil, testSegments(), newMemHistory(), Options{})
	_, err := o.Submit(context.Background(), Turn{SessionID: "s", Text: "   "})
	require.Error(t, err)
	_, err = o.Submit(context.Background(), Turn{Text: "q"})
	require.Error(t, err)
}

func TestParseDecision(t *testing.T) {
	cases := []struct {
		in       string
		retrieve bool
		query    string
		ok       bool
	}{
		{"RETRIEVE", true, "", true},
		{"retrieve: Jordan form", true, "Jordan form", true},
		{"**ANSWER**", false, "", true},
		{"ANSWER\nbecause greeting", false, "", true},
		{"I think so", false, "", false},
	}
	for _, tc := range cases {
		r, q, ok := parseDecision(tc.in)
		require.Equal(t, tc.retrieve, r, tc.in)
		require.Equal(t, tc.query, q, tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
	}
}

func waiters(l *lanes, key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ln := l.m[key]; ln != nil {
		return len(ln.waiters)
	}
	return 0
}

func TestLanesRunInArrivalOrder(t *testing.T) {
	l := newLanes()
	ctx := context.Background()
	release, err := l.acquire(ctx, "s")
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rel, err := l.acquire(ctx, "s")
			if err != nil {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			rel()
		}(i)
		require.Eventually(t, func() bool { return waiters(l, "s") == i+1 }, time.Second, time.Millisecond)
	}
	release()
	wg.Wait()
	require.Equal(t, []int{0, 1, 2, 3}, order)
	require.Zero(t, l.size())
}

func TestLanesCancelledWaiterLeavesQueue(t *testing.T) {
	l := newLanes()
	release, err := l.acquire(context.Background(), "s")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := l.acquire(ctx, "s")
		done <- err
	}()
	require.Eventually(t, func() bool { return waiters(l, "s") == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Zero(t, waiters(l, "s"))

	other, err := l.acquire(context.Background(), "other")
	require.NoError(t, err, "sessions do not share a lane")
	other()
	release()
	require.Zero(t, l.size())
}
