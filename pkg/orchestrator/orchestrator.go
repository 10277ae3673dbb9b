// Package orchestrator runs the bounded ReAct loop that turns a routed
// query into a streamed, cited, verified answer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/evidence"
	"github.com/balizero/nuzantara/pkg/llms"
	"github.com/balizero/nuzantara/pkg/memory"
	"github.com/balizero/nuzantara/pkg/observability"
	"github.com/balizero/nuzantara/pkg/protocol"
	"github.com/balizero/nuzantara/pkg/retrieval"
	"github.com/balizero/nuzantara/pkg/tools"
)

// Turn phases, emitted as status events on transitions.
const (
	phaseRouting     = "routing"
	phasePlanning    = "planning"
	phaseToolRunning = "tool_running"
	phaseObserving   = "observing"
	phaseFinalizing  = "finalizing"
	phaseDegraded    = "degraded"
)

// Greetings carry no evidence; their sources event reports a nominal
// low-weight score.
const greetingVerificationScore = 0.3

// Gateway is the slice of the LLM gateway the orchestrator uses.
type Gateway interface {
	Generate(ctx context.Context, modelTier string, req llms.Request) (string, []*protocol.ToolCall, int, error)
	GenerateStreaming(ctx context.Context, modelTier string, req llms.Request) (<-chan llms.StreamChunk, error)
}

// Router classifies queries; satisfied by *router.Router.
type Router interface {
	Route(ctx context.Context, query string, principal protocol.Principal) protocol.RouteDecision
}

// Retriever is the slice of the retrieval pipeline the orchestrator uses.
type Retriever interface {
	Retrieve(ctx context.Context, query string, decision protocol.RouteDecision) (*retrieval.Result, error)
	CacheLookup(ctx context.Context, query string, decision protocol.RouteDecision) (*protocol.EvidencePack, bool)
	CacheStore(query string, decision protocol.RouteDecision, pack *protocol.EvidencePack)
}

// ToolExecutor dispatches one tool call; satisfied by *tools.Executor.
type ToolExecutor interface {
	Execute(ctx context.Context, call protocol.ToolCall) protocol.ToolInvocation
}

// Orchestrator coordinates a turn across router, memory, retrieval, tools,
// the LLM gateway and the evidence pipeline.
type Orchestrator struct {
	cfg       *config.OrchestratorConfig
	limits    *config.LimitsConfig
	memCfg    *config.MemoryConfig
	router    Router
	gateway   Gateway
	retriever Retriever
	executor  ToolExecutor
	toolDefs  []tools.Definition
	sessions  memory.SessionService
	summarize *memory.Summarizer
	locker    *memory.TurnLocker
	extractor *memory.Extractor
	evidence  *evidence.Pipeline
	leaks     *leakFilter
	logger    *slog.Logger
}

type Options struct {
	Config    *config.OrchestratorConfig
	Limits    *config.LimitsConfig
	Memory    *config.MemoryConfig
	Router    Router
	Gateway   Gateway
	Retriever Retriever
	Executor  ToolExecutor
	ToolDefs  []tools.Definition
	Sessions  memory.SessionService
	// Summarizer is optional; when set, persisted turns may refresh the
	// session summary in the background.
	Summarizer *memory.Summarizer
	Evidence   *evidence.Pipeline
	Logger     *slog.Logger
}

func New(opts Options) (*Orchestrator, error) {
	leaks, err := newLeakFilter(opts.Config)
	if err != nil {
		return nil, fmt.Errorf("invalid reasoning leak patterns: %w", err)
	}
	return &Orchestrator{
		cfg:       opts.Config,
		limits:    opts.Limits,
		memCfg:    opts.Memory,
		router:    opts.Router,
		gateway:   opts.Gateway,
		retriever: opts.Retriever,
		executor:  opts.Executor,
		toolDefs:  opts.ToolDefs,
		sessions:  opts.Sessions,
		summarize: opts.Summarizer,
		locker:    memory.NewTurnLocker(),
		extractor: memory.NewExtractor(),
		evidence:  opts.Evidence,
		leaks:     leaks,
		logger:    opts.Logger,
	}, nil
}

// HandleTurn executes one turn and emits its events through sink. The sink
// returning an error means the consumer is gone; emission stops and the
// partial turn is not persisted. Exactly one terminal event is emitted on
// every path where the consumer is still listening.
func (o *Orchestrator) HandleTurn(ctx context.Context, q protocol.Query, sink func(protocol.Event) error) {
	em := newEmitter(sink)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, o.limits.TurnDeadlineDuration())
	defer cancel()

	// Turns within a session run in arrival order.
	unlock := o.locker.Lock(q.SessionID)
	defer unlock()

	decision := o.router.Route(ctx, q.Text, q.Principal)

	var turnErr error
	defer func() {
		observability.GetGlobalMetrics().RecordTurn(ctx, string(decision.Tier), time.Since(start), turnErr)
	}()

	_, err := o.sessions.GetOrCreateSession(ctx, q.SessionID, q.Principal.ID)
	if err != nil {
		turnErr = err
		if errors.Is(err, memory.ErrSessionOwnership) {
			_ = em.emit(protocol.ErrorEvent(protocol.ErrAuthorization, "session belongs to another principal"))
		} else {
			_ = em.emit(protocol.ErrorEvent(protocol.ErrMemory, "failed to open session"))
		}
		return
	}

	priorCount, err := o.sessions.MessageCount(ctx, q.SessionID)
	if err != nil {
		o.logger.WarnContext(ctx, "Message count failed", "error", err)
	}
	turnIndex := priorCount + 1

	_ = em.emit(protocol.StatusEvent(phaseRouting, string(decision.Tier)))

	delta := o.extractor.Extract(q.Text, turnIndex)
	if len(delta) > 0 {
		if err := o.sessions.UpsertEntities(ctx, q.SessionID, delta); err != nil {
			o.logger.WarnContext(ctx, "Entity upsert failed", "error", err)
		}
	}

	if decision.Tier == protocol.TierGreeting {
		turnErr = o.handleGreeting(ctx, em, q, decision, turnIndex)
		return
	}

	turnErr = o.handleAgentic(ctx, em, q, decision, turnIndex)

	if turnErr != nil && !em.finished() && !em.consumerGone() {
		kind := protocol.KindOf(turnErr)
		if ctx.Err() != nil {
			kind = protocol.ErrCancelled
		}
		_ = em.emit(protocol.ErrorEvent(kind, turnErr.Error()))
	}
}

// handleGreeting produces a short social reply with no tools and no
// retrieval; the sources event carries no citations and a nominal score.
func (o *Orchestrator) handleGreeting(ctx context.Context, em *emitter, q protocol.Query, decision protocol.RouteDecision, turnIndex int) error {
	system := o.buildSystemPrompt(decision.Language, "", nil) +
		"\nThis is a short social exchange. Reply warmly in one or two sentences. Do not cite sources."

	reply, _, _, err := o.gateway.Generate(ctx, decision.ModelTier, llms.Request{
		System:   system,
		Messages: []protocol.Message{protocol.NewUserMessage(q.Text)},
	})
	if err != nil || strings.TrimSpace(reply) == "" {
		reply = greetingReply(decision.Language)
	}
	reply = o.leaks.filter(reply)

	if err := em.emit(protocol.ChunkEvent(reply)); err != nil {
		return nil
	}
	score := greetingVerificationScore
	if err := o.persistTurn(ctx, q, reply, nil); err != nil {
		score = evidence.LowerForDegradedMemory(score)
		_ = em.emit(protocol.StatusEvent(phaseDegraded, "history write failed"))
	}
	_ = em.emit(protocol.SourcesEvent(nil, score))
	_ = em.emit(protocol.DoneEvent(q.SessionID, turnIndex))
	return nil
}

func (o *Orchestrator) handleAgentic(ctx context.Context, em *emitter, q protocol.Query, decision protocol.RouteDecision, turnIndex int) error {
	// Stage 1: semantic cache probe.
	if pack, ok := o.retriever.CacheLookup(ctx, q.Text, decision); ok {
		_ = em.emit(protocol.StatusEvent(phaseFinalizing, "cache hit"))
		if err := em.emit(protocol.ChunkEvent(pack.Answer)); err != nil {
			return nil
		}
		score := evidence.LowerForCache(pack.VerificationScore)
		if err := o.persistTurn(ctx, q, pack.Answer, pack.Citations); err != nil {
			score = evidence.LowerForDegradedMemory(score)
			_ = em.emit(protocol.StatusEvent(phaseDegraded, "history write failed"))
		}
		_ = em.emit(protocol.SourcesEvent(pack.Citations, score))
		_ = em.emit(protocol.DoneEvent(q.SessionID, turnIndex))
		return nil
	}

	// Stages 2-6: retrieval. Transient failure degrades, never aborts.
	_ = em.emit(protocol.StatusEvent(phasePlanning, "retrieving context"))
	res, err := o.retriever.Retrieve(ctx, q.Text, decision)
	if err != nil {
		if ctx.Err() != nil {
			return protocol.NewTurnError(protocol.ErrCancelled, "orchestrator", "turn cancelled", ctx.Err())
		}
		o.logger.WarnContext(ctx, "Retrieval failed, continuing without context", "error", err)
		res = &retrieval.Result{Degraded: true}
	}

	preamble, err := memory.BuildPreamble(ctx, o.sessions, q.SessionID)
	if err != nil {
		o.logger.WarnContext(ctx, "Preamble build failed", "error", err)
	}
	history, err := o.sessions.GetMessages(ctx, q.SessionID, o.memCfg.HistoryWindow)
	if err != nil {
		return protocol.NewTurnError(protocol.ErrMemory, "orchestrator", "failed to load history", err)
	}

	system := o.buildSystemPrompt(decision.Language, preamble, res.Chunks)
	convo := append(history, protocol.NewUserMessage(q.Text))

	var defs []llms.ToolDefinition
	if decision.ToolsEnabled && o.executor != nil {
		for _, d := range o.toolDefs {
			defs = append(defs, llms.ToolDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.InputSchema,
			})
		}
	}

	// Tool calls may only search what the router authorized for this turn.
	toolCtx := protocol.WithAuthorizedCollections(ctx, decision.Collections)

	// The ReAct loop. One tool at a time, Action steps capped per tier.
	var (
		finalText  string
		actions    int
		capReached bool
		toolsOK    int
	)
	for {
		if err := ctx.Err(); err != nil {
			return protocol.NewTurnError(protocol.ErrCancelled, "orchestrator", "turn cancelled", err)
		}
		if em.consumerGone() {
			return protocol.NewTurnError(protocol.ErrCancelled, "orchestrator", "consumer disconnected", nil)
		}
		_ = em.emit(protocol.StatusEvent(phasePlanning, ""))

		req := llms.Request{System: system, Messages: convo}
		if actions < decision.MaxIterations {
			req.Tools = defs
		}

		text, toolCalls, _, err := o.gateway.Generate(ctx, decision.ModelTier, req)
		if err != nil {
			if ctx.Err() != nil {
				return protocol.NewTurnError(protocol.ErrCancelled, "orchestrator", "turn cancelled", ctx.Err())
			}
			// Model is gone; a retrieval-only answer beats a 5xx when we
			// have chunks to stand on.
			if len(res.Chunks) > 0 {
				finalText = retrievalOnlyAnswer(res.Chunks, decision.Language)
				capReached = true
				break
			}
			return err
		}

		if len(toolCalls) > 0 && actions < decision.MaxIterations {
			call := *toolCalls[0]
			actions++

			_ = em.emit(protocol.StatusEvent(phaseToolRunning, call.Name))
			_ = em.emit(protocol.ToolStartEvent(call.Name, call.Args))
			inv := o.executor.Execute(toolCtx, call)
			_ = em.emit(protocol.ToolEndEvent(call.Name, inv.Outcome, summarize(inv)))
			_ = em.emit(protocol.StatusEvent(phaseObserving, ""))

			if inv.Outcome == protocol.ToolOutcomeOK {
				toolsOK++
			}

			observation := inv.Result
			if inv.Err != "" {
				observation = "error: " + inv.Err
			}
			convo = append(convo,
				protocol.Message{Role: protocol.RoleAssistant, Content: text, ToolName: call.Name, ToolArgs: call.Args, Timestamp: time.Now()},
				protocol.Message{Role: protocol.RoleTool, ToolName: call.Name, ToolResult: observation, Content: observation, Timestamp: time.Now()},
			)
			continue
		}

		if len(toolCalls) > 0 {
			// Cap reached while the model still wants tools; force a
			// direct answer below.
			capReached = true
			break
		}

		finalText = text
		break
	}

	_ = em.emit(protocol.StatusEvent(phaseFinalizing, ""))

	ownValues := o.ownEntityValues(ctx, q.SessionID)

	answer := o.leaks.filter(finalText)
	streamed := false
	if capReached && answer == "" {
		answer = o.finalizeStreaming(ctx, em, decision, system, convo, ownValues)
		streamed = countNonWhitespace(answer) >= o.cfg.OutputMinChars
	}

	// Recovery: a filtered-to-nothing or degenerate answer must not reach
	// the user as-is.
	if countNonWhitespace(answer) < o.cfg.OutputMinChars {
		answer = o.leaks.filter(o.recover(ctx, decision, system, convo, res.Chunks))
		streamed = false
	}

	if countNonWhitespace(answer) < o.cfg.OutputMinChars {
		if len(res.Chunks) == 0 && toolsOK == 0 {
			answer = o.refusalMessage(decision.Language)
		} else {
			return protocol.NewTurnError(protocol.ErrInternal, "orchestrator", "no finalizable answer", nil)
		}
	}

	pack := o.evidence.Process(ctx, evidence.Input{
		Query:      q.Text,
		Answer:     answer,
		Chunks:     res.Chunks,
		Degraded:   res.Degraded,
		CapReached: capReached,
		OwnValues:  ownValues,
	})

	// Chunks may have already streamed during finalizeStreaming; emit the
	// answer here only when it has not been streamed yet.
	if !em.consumerGone() && !streamed {
		if err := em.emit(protocol.ChunkEvent(o.evidence.RedactForUser(answer, ownValues))); err != nil {
			return nil
		}
	}

	// Persistence runs before the sources event so a failed history write
	// is reflected in the reported verification score. The answer was
	// fully produced, so the turn persists even when the consumer left.
	if err := o.persistTurn(ctx, q, pack.Answer, pack.Citations); err != nil {
		pack.VerificationScore = evidence.LowerForDegradedMemory(pack.VerificationScore)
		_ = em.emit(protocol.StatusEvent(phaseDegraded, "history write failed"))
	}

	_ = em.emit(protocol.SourcesEvent(pack.Citations, pack.VerificationScore))

	if !capReached && !res.Degraded && pack.VerificationScore >= 0.5 {
		o.retriever.CacheStore(q.Text, decision, pack)
	}

	_ = em.emit(protocol.DoneEvent(q.SessionID, turnIndex))
	return nil
}

// finalizeStreaming asks for a direct answer with tools off and streams
// filtered, redacted lines as they arrive.
func (o *Orchestrator) finalizeStreaming(ctx context.Context, em *emitter, decision protocol.RouteDecision, system string, convo []protocol.Message, ownValues []string) string {
	req := llms.Request{
		System:   system + "\nAnswer the user directly now with what you already know. Do not request tools.",
		Messages: convo,
	}

	stream, err := o.gateway.GenerateStreaming(ctx, decision.ModelTier, req)
	if err != nil {
		return ""
	}

	var raw strings.Builder
	lf := newLineStreamFilter(o.leaks)
	for chunk := range stream {
		switch chunk.Type {
		case llms.ChunkText:
			raw.WriteString(chunk.Text)
			if out := lf.push(chunk.Text); out != "" {
				_ = em.emit(protocol.ChunkEvent(o.evidence.RedactForUser(out, ownValues)))
			}
		case llms.ChunkError:
			o.logger.WarnContext(ctx, "Streaming finalization failed", "error", chunk.Error)
			return o.leaks.filter(raw.String())
		}
	}
	if out := lf.flush(); out != "" {
		_ = em.emit(protocol.ChunkEvent(o.evidence.RedactForUser(out, ownValues)))
	}
	return o.leaks.filter(raw.String())
}

// recover re-queries for a direct answer; fast and pro tiers fall back to
// a retrieval-only answer when the re-query also fails.
func (o *Orchestrator) recover(ctx context.Context, decision protocol.RouteDecision, system string, convo []protocol.Message, chunks []retrieval.Chunk) string {
	text, _, _, err := o.gateway.Generate(ctx, decision.ModelTier, llms.Request{
		System:   system + "\nAnswer the user directly, in plain prose, without any internal reasoning.",
		Messages: convo,
	})
	if err == nil && countNonWhitespace(o.leaks.filter(text)) >= o.cfg.OutputMinChars {
		return text
	}

	if (decision.Tier == protocol.TierFast || decision.Tier == protocol.TierPro) && len(chunks) > 0 {
		return retrievalOnlyAnswer(chunks, decision.Language)
	}
	return text
}

// retrievalOnlyAnswer composes an answer directly from the top chunks when
// the model cannot finalize.
func retrievalOnlyAnswer(chunks []retrieval.Chunk, language string) string {
	var b strings.Builder
	switch language {
	case "it":
		b.WriteString("Ecco le informazioni più rilevanti che ho trovato:\n\n")
	case "id":
		b.WriteString("Berikut informasi paling relevan yang saya temukan:\n\n")
	default:
		b.WriteString("Here is the most relevant information I found:\n\n")
	}
	n := 0
	for _, c := range chunks {
		if n >= 3 {
			break
		}
		text := strings.TrimSpace(c.Content)
		if text == "" {
			continue
		}
		if len(text) > 400 {
			text = text[:400]
		}
		fmt.Fprintf(&b, "%d. %s\n", n+1, text)
		n++
	}
	return strings.TrimSpace(b.String())
}

func (o *Orchestrator) ownEntityValues(ctx context.Context, sessionID string) []string {
	entities, err := o.sessions.GetEntities(ctx, sessionID)
	if err != nil {
		return nil
	}
	values := make([]string, 0, len(entities))
	for _, e := range entities {
		values = append(values, e.Value)
	}
	return values
}

// persistTurn stores the user and assistant messages, redacted. A failed
// redaction path cannot happen here: the redactor compiled at boot, and
// persistence always goes through it. The returned error means the turn
// is missing from conversation memory; the caller degrades the stream.
func (o *Orchestrator) persistTurn(ctx context.Context, q protocol.Query, answer string, citations []protocol.Citation) error {
	userMsg := protocol.NewUserMessage(o.evidence.RedactForStorage(q.Text))
	if err := o.sessions.AppendMessage(ctx, q.SessionID, userMsg); err != nil {
		o.logger.ErrorContext(ctx, "Failed to persist user message", "error", err)
		return err
	}
	assistantMsg := protocol.NewAssistantMessage(o.evidence.RedactForStorage(answer), citations)
	if err := o.sessions.AppendMessage(ctx, q.SessionID, assistantMsg); err != nil {
		o.logger.ErrorContext(ctx, "Failed to persist assistant message", "error", err)
		return err
	}
	if o.summarize != nil {
		// Off the critical path; the turn context is about to be cancelled.
		go o.summarize.MaybeSummarize(context.WithoutCancel(ctx), q.SessionID)
	}
	return nil
}

func summarize(inv protocol.ToolInvocation) string {
	if inv.Err != "" {
		return inv.Err
	}
	if len(inv.Result) > 120 {
		return inv.Result[:120] + "…"
	}
	return inv.Result
}

func countNonWhitespace(s string) int {
	n := 0
	for _, r := range s {
		if !strings.ContainsRune(" \t\n\r", r) {
			n++
		}
	}
	return n
}
