package research

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curiohq/curio/llm"
)

// fakeAPI scripts structured completions by schema name and serves a unit
// embedding for vector queries.
type fakeAPI struct {
	planBody     string
	answerBodies []string

	planCalls   int
	writerCalls int
}

func (f *fakeAPI) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if req.ResponseFormat == nil || req.ResponseFormat.JSONSchema == nil {
		return openai.ChatCompletionResponse{}, errors.New("expected a structured request")
	}
	var body string
	switch req.ResponseFormat.JSONSchema.Name {
	case "search_plan":
		f.planCalls++
		body = f.planBody
	case "research_answer":
		f.writerCalls++
		i := f.writerCalls - 1
		if i >= len(f.answerBodies) {
			i = len(f.answerBodies) - 1
		}
		body = f.answerBodies[i]
	default:
		return openai.ChatCompletionResponse{}, errors.New("unknown schema " + req.ResponseFormat.JSONSchema.Name)
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: body}}},
	}, nil
}

func (f *fakeAPI) CreateChatCompletionStream(context.Context, openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error) {
	return nil, errors.New("streaming not scripted")
}

func (f *fakeAPI) CreateEmbeddings(context.Context, openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	return openai.EmbeddingResponse{
		Data: []openai.Embedding{{Index: 0, Embedding: []float32{0.1, 0.2}}},
	}, nil
}

const testPlan = `{"subQueries": ["sub one"], "sources": ["keyword"], "rationale": "r"}`

func testAnswer(needsMore bool) string {
	if needsMore {
		return `{"markdown": "partial", "type": "summary", "sources": [], "confidence": 0.4, "needsMoreInfo": true}`
	}
	return `{"markdown": "final", "type": "explanation", "sources": ["[1]"], "confidence": 0.9, "needsMoreInfo": false}`
}

type recordingEvents struct {
	plans []int
	docs  []int
}

func (r *recordingEvents) PlanReady(_ context.Context, iteration int, _ Plan) {
	r.plans = append(r.plans, iteration)
}

func (r *recordingEvents) DocsRetrieved(_ context.Context, total int) {
	r.docs = append(r.docs, total)
}

func newTestGraph(t *testing.T, api *fakeAPI, searcher Searcher) *Graph {
	t.Helper()
	g, err := New(Options{
		LLM:      llm.NewWithAPI(api, "test-model", ""),
		Searcher: searcher,
	})
	require.NoError(t, err)
	return g
}

func TestGraphStopsWhenWriterIsSatisfied(t *testing.T) {
	api := &fakeAPI{planBody: testPlan, answerBodies: []string{testAnswer(false)}}
	s := &stubSearcher{docs: map[string][]Doc{
		"keyword/sub one": {{ID: "d1", Title: "doc", Content: "body"}},
	}}
	g := newTestGraph(t, api, s)

	events := &recordingEvents{}
	final, err := g.Run(context.Background(), State{Query: "q", Mode: ModePlanner}, events)
	require.NoError(t, err)

	assert.Equal(t, 1, final.Iteration)
	require.NotNil(t, final.Answer)
	assert.Equal(t, "final", final.Answer.Markdown)
	assert.False(t, final.NeedsMore)
	assert.Equal(t, []int{1}, events.plans)
	assert.Equal(t, []int{1}, events.docs)
	assert.Equal(t, 1, api.planCalls)
	assert.Equal(t, 1, api.writerCalls)
}

func TestGraphIterationBudgetBoundsTheLoop(t *testing.T) {
	// The writer never declares itself satisfied; the loop must still halt.
	api := &fakeAPI{planBody: testPlan, answerBodies: []string{testAnswer(true)}}
	s := &stubSearcher{docs: map[string][]Doc{
		"keyword/sub one": {{ID: "d1"}},
	}}
	g := newTestGraph(t, api, s)

	events := &recordingEvents{}
	final, err := g.Run(context.Background(), State{Query: "q", Mode: ModePlanner}, events)
	require.NoError(t, err)

	assert.Equal(t, MaxIterations, final.Iteration)
	assert.Equal(t, MaxIterations, api.planCalls)
	assert.Equal(t, MaxIterations, api.writerCalls)
	assert.Equal(t, []int{1, 2, 3}, events.plans)
	require.NotNil(t, final.Answer)
	assert.True(t, final.NeedsMore)
	// Identical sub-queries across passes dedupe to one document.
	assert.Len(t, final.Docs, 1)
}

func TestGraphRejectsInvalidPlannerOutput(t *testing.T) {
	api := &fakeAPI{planBody: `{"subQueries": [], "sources": [], "rationale": ""}`}
	g := newTestGraph(t, api, &stubSearcher{})

	_, err := g.Run(context.Background(), State{Query: "q"}, nil)
	require.Error(t, err)
}

func TestGraphDegradesWithoutChatModel(t *testing.T) {
	g, err := New(Options{
		LLM:      llm.NewWithAPI(&fakeAPI{}, "", ""),
		Searcher: &stubSearcher{docs: map[string][]Doc{"keyword/q": {{ID: "d1"}}}},
	})
	require.NoError(t, err)

	state, err := g.plan(context.Background(), State{Query: "q"})
	require.NoError(t, err)
	require.NotNil(t, state.Plan)
	assert.Equal(t, []string{"q"}, state.Plan.SubQueries)
	assert.Equal(t, []Source{SourceKeyword}, state.Plan.Sources)
}

func TestPlanValidate(t *testing.T) {
	assert.NoError(t, (&Plan{SubQueries: []string{"q"}, Sources: []Source{SourceKeyword}}).Validate())
	assert.Error(t, (&Plan{}).Validate())
	assert.Error(t, (&Plan{SubQueries: []string{"  "}}).Validate())
	assert.Error(t, (&Plan{SubQueries: []string{"q"}, Sources: []Source{"web"}}).Validate())
}

func TestAnswerValidate(t *testing.T) {
	assert.NoError(t, (&Answer{Type: AnswerSummary, Confidence: 0.5}).Validate())
	assert.Error(t, (&Answer{Type: "poem", Confidence: 0.5}).Validate())
	assert.Error(t, (&Answer{Type: AnswerSummary, Confidence: 1.5}).Validate())
}

func TestFormatDocsTruncatesContent(t *testing.T) {
	long := make([]byte, writerMaxDocChars+100)
	for i := range long {
		long[i] = 'x'
	}
	out := FormatDocs([]Doc{{Title: "t", Source: SourceKeyword, Content: string(long)}})
	assert.Contains(t, out, "[1] t (keyword)")
	assert.Len(t, out, len("[1] t (keyword)\n")+writerMaxDocChars+1)

	assert.Equal(t, "(no documents retrieved)\n", FormatDocs(nil))
}
