// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation drives the multi-turn tool-use loop between the
// analyst and the reasoning agent, and keeps conversations resumable for
// follow-up questions.
//
// # Round Loop
//
// Each round sends the whole conversation plus the tool schemas to the
// agent through the retry executor, appends the agent turn, dispatches every
// tool use and appends exactly one result per use in a single tool-result
// turn. The loop ends when a response carries no tool use, or stops softly
// when the round budget runs out. The text blocks of all agent turns form
// the final narrative.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/signalk-analyst/services/analyst/datastore"
	"github.com/AleutianAI/signalk-analyst/services/analyst/datatypes"
	"github.com/AleutianAI/signalk-analyst/services/analyst/observability"
	"github.com/AleutianAI/signalk-analyst/services/analyst/retry"
	"github.com/AleutianAI/signalk-analyst/services/analyst/sampling"
	"github.com/AleutianAI/signalk-analyst/services/analyst/tools"
	"github.com/AleutianAI/signalk-analyst/services/llm"
)

var tracer = otel.Tracer("signalk-analyst.conversation")

// Defaults for the round and retry budgets.
const (
	DefaultMaxRounds         = 10
	DefaultFollowUpMaxRounds = 5
	DefaultMaxRetries        = 3
	DefaultMaxTokens         = 4096
	DefaultTemperature       = 0.2
)

// Operation names used in *AnalysisError.
const (
	opAnalyze  = "analyze"
	opFollowUp = "follow-up"
	opSampled  = "sampled analysis"
)

// AnswerSink persists finished answers. *answers.Store implements it.
type AnswerSink interface {
	Put(ctx context.Context, answer *datatypes.AnalysisResponse) error
}

// Orchestrator runs analyses and follow-ups.
//
// Thread Safety:
//
//	Orchestrator is safe for concurrent use. Rounds of one conversation
//	never overlap; distinct conversations run in parallel.
type Orchestrator struct {
	client     llm.Client
	dispatcher *tools.Dispatcher
	sessions   *SessionStore
	executor   *retry.Executor
	records    datastore.RecordSource
	answers    AnswerSink
	metrics    *observability.Metrics
	logger     *slog.Logger

	model          string
	systemPrompt   string
	maxRounds      int
	followUpRounds int
	maxRetries     int
	maxTokens      int
	temperature    float64
	now            func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxRounds sets the round budget of a fresh analysis.
func WithMaxRounds(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRounds = n
		}
	}
}

// WithFollowUpRounds sets the round budget of a follow-up.
func WithFollowUpRounds(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.followUpRounds = n
		}
	}
}

// WithMaxRetries sets the attempt budget of each agent call.
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithRetryExecutor replaces the default executor.
func WithRetryExecutor(e *retry.Executor) Option {
	return func(o *Orchestrator) {
		o.executor = e
	}
}

// WithRecordSource enables RunSampled.
func WithRecordSource(src datastore.RecordSource) Option {
	return func(o *Orchestrator) {
		o.records = src
	}
}

// WithAnswerSink persists every finished answer.
func WithAnswerSink(sink AnswerSink) Option {
	return func(o *Orchestrator) {
		o.answers = sink
	}
}

// WithMetrics records rounds, tokens and failures.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithModel overrides the client's default model.
func WithModel(model string) Option {
	return func(o *Orchestrator) {
		o.model = model
	}
}

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) {
		if prompt != "" {
			o.systemPrompt = prompt
		}
	}
}

// WithGeneration sets the output budget and temperature of agent calls.
func WithGeneration(maxTokens int, temperature float64) Option {
	return func(o *Orchestrator) {
		if maxTokens > 0 {
			o.maxTokens = maxTokens
		}
		if temperature >= 0 {
			o.temperature = temperature
		}
	}
}

// NewOrchestrator creates an orchestrator. A nil dispatcher exposes no
// tools and a nil store gets a default SessionStore.
func NewOrchestrator(client llm.Client, dispatcher *tools.Dispatcher, sessions *SessionStore, opts ...Option) *Orchestrator {
	if dispatcher == nil {
		dispatcher = tools.NewDispatcher(nil)
	}
	if sessions == nil {
		sessions = NewSessionStore(DefaultSessionTTL, DefaultMaxSessions)
	}
	o := &Orchestrator{
		client:         client,
		dispatcher:     dispatcher,
		sessions:       sessions,
		logger:         slog.Default(),
		systemPrompt:   DefaultSystemPrompt,
		maxRounds:      DefaultMaxRounds,
		followUpRounds: DefaultFollowUpMaxRounds,
		maxRetries:     DefaultMaxRetries,
		maxTokens:      DefaultMaxTokens,
		temperature:    DefaultTemperature,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.executor == nil {
		metrics := o.metrics
		o.executor = retry.NewExecutor(retry.DefaultPolicy(),
			retry.WithLogger(o.logger),
			retry.WithRetryHook(func(kind retry.Kind, _ int, _ time.Duration) {
				metrics.RecordRetry(kind.String())
			}))
	}
	return o
}

// Sessions returns the conversation registry.
func (o *Orchestrator) Sessions() *SessionStore {
	return o.sessions
}

// =============================================================================
// Entry Points
// =============================================================================

// Run starts a fresh analysis and registers the conversation for follow-ups.
//
// # Inputs
//
//   - ctx: Cancels agent calls, tool calls and backoff waits.
//   - req: The question. Context defaults to vessels.self.
//
// # Outputs
//
//   - *datatypes.AnalysisResponse: The answer. Metadata.ConversationID is
//     the id to pass to Resume.
//   - error: *AnalysisError wrapping ErrInvalidRequest, ErrEmptyAnalysis or
//     the agent failure.
func (o *Orchestrator) Run(ctx context.Context, req datatypes.AnalysisRequest) (*datatypes.AnalysisResponse, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, o.fail(ctx, datatypes.ModeInteractive, start,
			wrapAnalysis(opAnalyze, "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)))
	}
	if req.Context == "" {
		req.Context = datatypes.DefaultContext
	}

	session := newSession(req)
	ctx, span := tracer.Start(ctx, "conversation.Run",
		trace.WithAttributes(attribute.String("conversation.id", session.ID)))
	defer span.End()

	session.runMu.Lock()
	defer session.runMu.Unlock()

	turns := []llm.Turn{llm.UserTurn(initialPrompt(req, o.now()))}
	turns, res, err := o.loop(ctx, session.ID, turns, o.maxRounds, datatypes.ModeInteractive)
	if err == nil && strings.TrimSpace(res.text) == "" {
		err = ErrEmptyAnalysis
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		return nil, o.fail(ctx, datatypes.ModeInteractive, start, wrapAnalysis(opAnalyze, session.ID, err))
	}

	session.commit(turns, res.queries)
	o.sessions.Put(session)
	return o.finish(ctx, session, req.Question, datatypes.ModeInteractive, res, start), nil
}

// Resume asks a follow-up question in an existing conversation. The agent
// sees the full history. On failure the registered history is left as it
// was.
func (o *Orchestrator) Resume(ctx context.Context, id, question string) (*datatypes.AnalysisResponse, error) {
	start := time.Now()
	fu := datatypes.FollowUpRequest{Question: question}
	if err := fu.Validate(); err != nil {
		return nil, o.fail(ctx, datatypes.ModeFollowUp, start,
			wrapAnalysis(opFollowUp, id, fmt.Errorf("%w: %v", ErrInvalidRequest, err)))
	}
	session, ok := o.sessions.Get(id)
	if !ok {
		return nil, o.fail(ctx, datatypes.ModeFollowUp, start, wrapAnalysis(opFollowUp, id, ErrConversationNotFound))
	}

	ctx, span := tracer.Start(ctx, "conversation.Resume",
		trace.WithAttributes(attribute.String("conversation.id", id)))
	defer span.End()

	session.runMu.Lock()
	defer session.runMu.Unlock()

	turns := append(session.Turns(), llm.UserTurn(followUpPrompt(question)))
	turns, res, err := o.loop(ctx, id, turns, o.followUpRounds, datatypes.ModeFollowUp)
	if err == nil && strings.TrimSpace(res.text) == "" {
		err = ErrEmptyAnalysis
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "follow-up failed")
		return nil, o.fail(ctx, datatypes.ModeFollowUp, start, wrapAnalysis(opFollowUp, id, err))
	}

	session.commit(turns, res.queries)
	o.sessions.Put(session)
	return o.finish(ctx, session, question, datatypes.ModeFollowUp, res, start), nil
}

// RunSampled answers from a statistical summary and a bounded sample of
// the raw records, with a single agent call and no tools. The conversation
// is not registered.
func (o *Orchestrator) RunSampled(ctx context.Context, req datatypes.AnalysisRequest) (*datatypes.AnalysisResponse, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, o.fail(ctx, datatypes.ModeSampled, start,
			wrapAnalysis(opSampled, "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)))
	}
	if len(req.Paths) == 0 {
		return nil, o.fail(ctx, datatypes.ModeSampled, start,
			wrapAnalysis(opSampled, "", fmt.Errorf("%w: at least one path is required", ErrInvalidRequest)))
	}
	if o.records == nil {
		return nil, o.fail(ctx, datatypes.ModeSampled, start, wrapAnalysis(opSampled, "", ErrNoRecordSource))
	}
	if req.Context == "" {
		req.Context = datatypes.DefaultContext
	}

	ctx, span := tracer.Start(ctx, "conversation.RunSampled")
	defer span.End()

	records, err := o.records.Records(ctx, datastore.RecordQuery{
		Context:   req.Context,
		Paths:     req.Paths,
		TimeRange: req.TimeRange,
	})
	if err == nil && len(records) == 0 {
		err = ErrNoRecords
	}
	if err != nil {
		span.RecordError(err)
		return nil, o.fail(ctx, datatypes.ModeSampled, start, wrapAnalysis(opSampled, "", err))
	}

	summary := sampling.Summarize(records, o.now())
	sample := sampling.Sample(records, req.MaxSamples)
	prompt, err := sampledPrompt(req, summary, sample)
	if err != nil {
		o.logger.Error("Failed to render sampled prompt", "error", err)
		span.RecordError(err)
		return nil, o.fail(ctx, datatypes.ModeSampled, start, wrapAnalysis(opSampled, "", err))
	}
	turns := []llm.Turn{llm.UserTurn(prompt)}

	resp, err := o.complete(ctx, turns, nil, 1)
	if err == nil && strings.TrimSpace(resp.Text()) == "" {
		err = ErrEmptyAnalysis
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sampled analysis failed")
		return nil, o.fail(ctx, datatypes.ModeSampled, start, wrapAnalysis(opSampled, "", err))
	}
	o.metrics.RecordRound(datatypes.ModeSampled)

	answer := datatypes.NewAnalysisResponse(datatypes.ModeSampled)
	answer.Question = req.Question
	applyAnswer(answer, resp.Text(), false)
	if answer.DataQuality == UnknownDataQuality {
		answer.DataQuality = summary.QualityLabel
	}
	answer.Metadata.Rounds = 1
	answer.Metadata.InputTokens = resp.Usage.InputTokens
	answer.Metadata.OutputTokens = resp.Usage.OutputTokens
	answer.Metadata.Model = o.modelName(resp.Model)
	answer.Metadata.TimeRange = req.TimeRange
	if answer.Metadata.TimeRange == nil && summary.Earliest != nil && summary.Latest != nil {
		answer.Metadata.TimeRange = &datatypes.TimeRange{Start: *summary.Earliest, End: *summary.Latest}
	}

	o.metrics.RecordTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens, answer.Metadata.Model)
	o.persist(ctx, answer)
	o.metrics.RecordAnalysis(datatypes.ModeSampled, true, time.Since(start))
	o.logger.InfoContext(ctx, "Sampled analysis complete",
		"records", len(records),
		"sampled", len(sample),
		"quality", summary.QualityLabel,
		"duration", time.Since(start))
	return answer, nil
}

// =============================================================================
// Round Loop (Internal)
// =============================================================================

type loopResult struct {
	text      string
	rounds    int
	toolCalls int
	queries   int
	usage     llm.Usage
	model     string
	truncated bool
}

// loop runs rounds until the agent stops using tools or maxRounds rounds
// have run. The returned turns always satisfy llm.ValidatePairing.
func (o *Orchestrator) loop(ctx context.Context, id string, turns []llm.Turn, maxRounds int, mode string) ([]llm.Turn, loopResult, error) {
	logger := o.logger.With("conversation_id", id, "mode", mode)
	defs := o.dispatcher.Definitions()

	var res loopResult
	var texts []string
	natural := false

	for round := 1; round <= maxRounds; round++ {
		res.rounds = round
		resp, err := o.complete(ctx, turns, defs, round)
		if err != nil {
			return turns, res, err
		}
		o.metrics.RecordRound(mode)
		res.usage.Add(resp.Usage)
		if resp.Model != "" {
			res.model = resp.Model
		}

		turns = append(turns, llm.AgentTurn(resp.Blocks))
		if text := strings.TrimSpace(resp.Text()); text != "" {
			texts = append(texts, text)
		}

		uses := resp.ToolUses()
		if len(uses) == 0 {
			natural = true
			break
		}

		results := make([]llm.ToolResult, 0, len(uses))
		for _, use := range uses {
			result := o.dispatch(ctx, use)
			if use.Name == tools.ToolRunQuery && !result.IsError {
				res.queries++
			}
			results = append(results, result)
		}
		res.toolCalls += len(uses)
		turns = append(turns, llm.ToolResultTurn(results))
		logger.DebugContext(ctx, "Round complete", "round", round, "tool_calls", len(uses))
	}

	if !natural {
		res.truncated = true
		logger.WarnContext(ctx, "Round budget exhausted, returning partial analysis",
			"max_rounds", maxRounds)
	}
	res.text = strings.Join(texts, "\n\n")
	return turns, res, nil
}

// complete performs one guarded agent call.
func (o *Orchestrator) complete(ctx context.Context, turns []llm.Turn, defs []llm.ToolDefinition, round int) (*llm.Response, error) {
	ctx, span := tracer.Start(ctx, "conversation.round",
		trace.WithAttributes(attribute.Int("round", round)))
	defer span.End()

	req := &llm.Request{
		Model:       o.model,
		System:      o.systemPrompt,
		Turns:       turns,
		Tools:       defs,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	}
	resp, err := retry.Execute(ctx, o.executor, o.maxRetries,
		func(ctx context.Context, attempt int) retry.Outcome[*llm.Response] {
			span.SetAttributes(attribute.Int("attempts", attempt))
			return retry.From[*llm.Response](o.client.Complete(ctx, req))
		})
	if err == nil && resp == nil {
		err = errors.New("agent returned no response")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent call failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("tokens.input", resp.Usage.InputTokens),
		attribute.Int("tokens.output", resp.Usage.OutputTokens),
	)
	return resp, nil
}

// dispatch answers one tool use. A panic escaping the dispatcher still
// produces a result with the use's id.
func (o *Orchestrator) dispatch(ctx context.Context, use llm.ToolUse) (result llm.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorContext(ctx, "Tool dispatch panicked",
				"tool", use.Name, "panic", r, "stack", string(debug.Stack()))
			result = llm.ToolResult{
				ToolUseID: use.ID,
				Content:   fmt.Sprintf("Tool %s failed: %v", use.Name, r),
				IsError:   true,
			}
		}
		result.ToolUseID = use.ID
	}()
	return o.dispatcher.Dispatch(ctx, use)
}

// =============================================================================
// Completion (Internal)
// =============================================================================

func (o *Orchestrator) finish(ctx context.Context, session *Session, question, mode string, res loopResult, start time.Time) *datatypes.AnalysisResponse {
	answer := datatypes.NewAnalysisResponse(mode)
	answer.Question = question
	applyAnswer(answer, res.text, res.truncated)
	answer.Metadata = datatypes.AnalysisMetadata{
		QueriesExecuted: res.queries,
		TimeRange:       session.TimeRange,
		Mode:            mode,
		Rounds:          res.rounds,
		ToolCalls:       res.toolCalls,
		InputTokens:     res.usage.InputTokens,
		OutputTokens:    res.usage.OutputTokens,
		ConversationID:  session.ID,
		Model:           o.modelName(res.model),
		Truncated:       res.truncated,
	}

	o.metrics.RecordTokens(res.usage.InputTokens, res.usage.OutputTokens, answer.Metadata.Model)
	o.persist(ctx, answer)
	o.metrics.RecordAnalysis(mode, true, time.Since(start))
	o.logger.InfoContext(ctx, "Analysis complete",
		"conversation_id", session.ID,
		"mode", mode,
		"rounds", res.rounds,
		"tool_calls", res.toolCalls,
		"queries", res.queries,
		"truncated", res.truncated,
		"duration", time.Since(start))
	return answer
}

func (o *Orchestrator) persist(ctx context.Context, answer *datatypes.AnalysisResponse) {
	if o.answers == nil {
		return
	}
	if err := o.answers.Put(ctx, answer); err != nil {
		o.logger.WarnContext(ctx, "Failed to store answer", "answer_id", answer.ID, "error", err)
	}
}

func (o *Orchestrator) fail(ctx context.Context, mode string, start time.Time, err error) error {
	o.metrics.RecordError(errorCode(err))
	o.metrics.RecordAnalysis(mode, false, time.Since(start))
	o.logger.WarnContext(ctx, "Analysis failed", "mode", mode, "error", err)
	return err
}

func (o *Orchestrator) modelName(reported string) string {
	switch {
	case reported != "":
		return reported
	case o.model != "":
		return o.model
	case o.client != nil:
		return o.client.Model()
	default:
		return ""
	}
}

// errorCode maps a terminal error to its metric label.
func errorCode(err error) observability.ErrorCode {
	var exhausted *retry.ExhaustedError
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return observability.ErrorCodeValidation
	case errors.Is(err, ErrConversationNotFound), errors.Is(err, ErrNoRecords):
		return observability.ErrorCodeNotFound
	case errors.Is(err, ErrEmptyAnalysis):
		return observability.ErrorCodeEmptyAnalysis
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return observability.ErrorCodeTimeout
	case errors.As(err, &exhausted) && exhausted.Kind == retry.KindRateLimited:
		return observability.ErrorCodeRateLimited
	case errors.Is(err, ErrNoRecordSource):
		return observability.ErrorCodeInternal
	default:
		return observability.ErrorCodeLLMError
	}
}
