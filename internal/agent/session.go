// Package agent drives the model-call / tool-call loop. A Session owns
// no ambient state: every collaborator is passed in explicitly so tests
// construct isolated sessions.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/inquest-dev/inquest/internal/audit"
	"github.com/inquest-dev/inquest/internal/instance"
	"github.com/inquest-dev/inquest/internal/invoker"
	"github.com/inquest-dev/inquest/internal/logging"
	"github.com/inquest-dev/inquest/internal/metrics"
	"github.com/inquest-dev/inquest/internal/provider"
	"github.com/inquest-dev/inquest/internal/remote"
	"github.com/inquest-dev/inquest/internal/toolset"
	"github.com/inquest-dev/inquest/internal/transform"
)

// IncompleteMarker terminates budget-exhausted sessions so callers can
// tell a partial answer from a finished one.
const IncompleteMarker = "investigation incomplete: step budget exhausted"

// RemoteTools is the slice of the remote manager the session reads.
type RemoteTools interface {
	ListTools(ctx context.Context) []remote.RemoteTool
	Instructions(ctx context.Context) map[string]string
}

// Deps are the explicit collaborators of a session. Provider, Registry
// and Invoker are required; everything else is optional.
type Deps struct {
	Provider    provider.Provider
	Fast        provider.Provider
	Registry    *toolset.Registry
	Invoker     *invoker.Invoker
	Remotes     RemoteTools
	Resolver    *instance.Resolver
	Credentials *instance.CredentialStore
	Audit       *audit.Logger
	Metrics     *metrics.Metrics
	Tracer      trace.Tracer

	MaxSteps         int
	MaxParallelTools int

	// SessionID overrides the generated id, so callers can correlate
	// the session with an audit log created beforehand.
	SessionID string
}

// Session is one investigation conversation. Create one per request.
type Session struct {
	ID string

	deps   Deps
	logger *logging.Logger
	window Window

	totalRequests  int
	totalInput     int
	totalOutput    int
	totalToolCalls int
}

// Outcome is the terminal state of an investigation.
type Outcome struct {
	Summary  string
	Complete bool
	Steps    int
}

// NewSession validates deps and assigns a session id.
func NewSession(deps Deps) (*Session, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("session requires a provider")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("session requires a tool registry")
	}
	if deps.Invoker == nil {
		return nil, fmt.Errorf("session requires an invoker")
	}
	if deps.MaxSteps <= 0 {
		deps.MaxSteps = 20
	}
	if deps.MaxParallelTools <= 0 {
		deps.MaxParallelTools = 4
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("agent")
	}

	id := deps.SessionID
	if id == "" {
		id = uuid.New().String()
	}
	return &Session{
		ID:     id,
		deps:   deps,
		logger: logging.GetLogger("agent.session").WithField("session_id", id),
	}, nil
}

// Investigate runs the loop until the model stops calling tools or the
// step budget runs out.
func (s *Session) Investigate(ctx context.Context, request string) (*Outcome, error) {
	return s.run(ctx, request, investigatorPersona, "investigate")
}

func (s *Session) run(ctx context.Context, request, persona, mode string) (*Outcome, error) {
	systemPrompt := s.systemPrompt(ctx, persona, request)
	tools := s.toolSchemas(ctx)

	if s.deps.Audit != nil {
		_ = s.deps.Audit.LogSessionStart(s.deps.Provider.Model(), mode)
		_ = s.deps.Audit.LogUserRequest(request)
	}

	messages := []provider.Message{
		{Role: provider.RoleUser, Content: request},
	}

	ctx, span := s.deps.Tracer.Start(ctx, "agent.session",
		trace.WithAttributes(
			attribute.String("session.id", s.ID),
			attribute.String("session.mode", mode),
		))
	defer span.End()

	for step := 1; step <= s.deps.MaxSteps; step++ {
		resp, err := s.chat(ctx, systemPrompt, messages, tools)
		if err != nil {
			s.finish(mode, "error")
			return nil, err
		}

		if s.deps.Audit != nil {
			_ = s.deps.Audit.LogStep(step, s.deps.MaxSteps, len(resp.ToolCalls))
		}

		if len(resp.ToolCalls) == 0 {
			s.finish(mode, "complete")
			if s.deps.Metrics != nil {
				s.deps.Metrics.StepsPerSession.Observe(float64(step))
			}
			return &Outcome{Summary: resp.Content, Complete: true, Steps: step}, nil
		}

		messages = append(messages, provider.Message{
			Role:    provider.RoleAssistant,
			Content: resp.Content,
			ToolUse: resp.ToolCalls,
		})

		results := s.executeStep(ctx, request, resp.ToolCalls)
		messages = append(messages, provider.Message{
			Role:       provider.RoleUser,
			ToolResult: results,
		})
	}

	s.finish(mode, "incomplete")
	if s.deps.Metrics != nil {
		s.deps.Metrics.StepsPerSession.Observe(float64(s.deps.MaxSteps))
	}

	summary := lastAssistantText(messages)
	if summary != "" {
		summary += "\n\n"
	}
	return &Outcome{
		Summary:  summary + IncompleteMarker,
		Complete: false,
		Steps:    s.deps.MaxSteps,
	}, nil
}

func (s *Session) chat(ctx context.Context, systemPrompt string, messages []provider.Message, tools []provider.ToolDefinition) (*provider.Response, error) {
	resp, err := s.deps.Provider.Chat(ctx, systemPrompt, messages, tools)
	if err != nil {
		if s.deps.Audit != nil {
			_ = s.deps.Audit.LogError(err)
		}
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	s.totalRequests++
	s.totalInput += resp.Usage.InputTokens
	s.totalOutput += resp.Usage.OutputTokens

	if s.deps.Audit != nil {
		_ = s.deps.Audit.LogLLMRequest(s.deps.Provider.Name(), s.deps.Provider.Model(),
			resp.Usage.InputTokens, resp.Usage.OutputTokens, string(resp.StopReason))
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveLLMRequest(s.deps.Provider.Name(), string(resp.StopReason),
			resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}
	return resp, nil
}

// executeStep runs one model turn's tool calls on a bounded pool and
// returns results in call order, each tagged with its originating call
// id. The calls within one turn are independent; the model has seen
// none of their results yet.
func (s *Session) executeStep(ctx context.Context, request string, calls []provider.ToolUseBlock) []provider.ToolResultBlock {
	results := make([]provider.ToolResultBlock, len(calls))

	s.totalToolCalls += len(calls)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.deps.MaxParallelTools)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = s.executeCall(gctx, request, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Session) executeCall(ctx context.Context, request string, call provider.ToolUseBlock) provider.ToolResultBlock {
	ctx, span := s.deps.Tracer.Start(ctx, "agent.tool",
		trace.WithAttributes(attribute.String("tool.name", call.Name)))
	defer span.End()

	started := time.Now()

	var params map[string]interface{}
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &params); err != nil {
			return s.completeCall(ctx, call, started, &invoker.Result{
				Status:     invoker.StatusError,
				Error:      fmt.Sprintf("malformed tool input: %v", err),
				ReturnCode: -1,
				Invocation: call.Name,
			}, nil)
		}
	}

	if s.deps.Audit != nil {
		_ = s.deps.Audit.LogToolStart(call.ID, call.Name, params)
	}

	// Namespaced names belong to remote servers.
	if strings.Contains(call.Name, ".") {
		result := s.deps.Invoker.InvokeRemote(ctx, call.Name, params)
		return s.completeCall(ctx, call, started, result, nil)
	}

	tool, ok := s.deps.Registry.Get(call.Name)
	if !ok {
		return s.completeCall(ctx, call, started, &invoker.Result{
			Status:     invoker.StatusError,
			Error:      fmt.Sprintf("unknown or disabled tool %q", call.Name),
			ReturnCode: -1,
			Invocation: call.Name,
			Params:     params,
		}, nil)
	}

	params = s.fillParamDefaults(tool, params)

	secrets, errResult := s.collectSecrets(ctx, request, tool, params)
	if errResult != nil {
		return s.completeCall(ctx, call, started, errResult, nil)
	}

	result := s.deps.Invoker.Invoke(ctx, tool, params, secrets)
	return s.completeCall(ctx, call, started, result, tool.Definition.Transformers)
}

// fillParamDefaults supplies declared defaults for parameters the model
// omitted. Tools that declare start_time or end_time get the session's
// extracted time window when the model leaves them unset.
func (s *Session) fillParamDefaults(tool *toolset.ResolvedTool, params map[string]interface{}) map[string]interface{} {
	if params == nil {
		params = make(map[string]interface{})
	}
	for name, spec := range tool.Definition.Parameters {
		if _, ok := params[name]; ok {
			continue
		}
		switch {
		case spec.Default != nil:
			params[name] = spec.Default
		case name == "start_time" && !s.window.Start.IsZero():
			params[name] = s.window.Start.UTC().Format(time.RFC3339)
		case name == "end_time" && !s.window.End.IsZero():
			params[name] = s.window.End.UTC().Format(time.RFC3339)
		}
	}
	return params
}

// collectSecrets merges the toolset's operator config with instance
// credentials when the call addresses a service instance. A resolution
// miss becomes an error-status result carrying the remediation steps, so
// the model can correct itself.
func (s *Session) collectSecrets(ctx context.Context, request string, tool *toolset.ResolvedTool, params map[string]interface{}) (map[string]string, *invoker.Result) {
	secrets := make(map[string]string, len(tool.Toolset.Config))
	for k, v := range tool.Toolset.Config {
		secrets[k] = v
	}

	if s.deps.Resolver == nil {
		return secrets, nil
	}
	_, wantsID := tool.Definition.Parameters["instance_id"]
	_, wantsName := tool.Definition.Parameters["instance_name"]
	if !wantsID && !wantsName {
		return secrets, nil
	}

	query := instance.Query{Request: request, Caller: s.ID}
	if v, ok := params["instance_id"].(string); ok {
		query.InstanceID = v
	}
	if v, ok := params["instance_name"].(string); ok {
		query.InstanceName = v
	}

	inst, err := s.deps.Resolver.Resolve(query)
	if err != nil {
		return nil, &invoker.Result{
			Status:     invoker.StatusError,
			Error:      err.Error(),
			ReturnCode: -1,
			Invocation: tool.Definition.Name,
			Params:     params,
		}
	}
	s.deps.Resolver.RecordPreference(s.ID, inst.Type, inst.EffectiveID())

	if s.deps.Credentials != nil {
		creds, err := s.deps.Credentials.Get(ctx, inst)
		if err != nil {
			return nil, &invoker.Result{
				Status:     invoker.StatusError,
				Error:      err.Error(),
				ReturnCode: -1,
				Invocation: tool.Definition.Name,
				Params:     params,
			}
		}
		for k, v := range creds.Map() {
			secrets[k] = v
		}
	}
	return secrets, nil
}

// completeCall applies the tool's transformer chain, records audit and
// metrics, and wraps the envelope for reinjection.
func (s *Session) completeCall(ctx context.Context, call provider.ToolUseBlock, started time.Time, result *invoker.Result, transformers []toolset.TransformerConfig) provider.ToolResultBlock {
	raw := result.Data
	var activated []string
	if result.Status == invoker.StatusSuccess && len(transformers) > 0 {
		chain, err := transform.BuildChain(transformers, s.deps.Fast)
		if err != nil {
			s.logger.WarnWithFields("invalid transformer chain",
				logging.Field("tool", call.Name),
				logging.Field("error", err.Error()),
			)
		} else {
			result.Data, activated = chain.Apply(ctx, raw)
		}
	}

	duration := time.Since(started)
	if s.deps.Audit != nil {
		_ = s.deps.Audit.LogToolComplete(call.ID, call.Name, result.Status, duration, raw, result.Data, activated)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveToolCall(call.Name, result.Status, duration.Seconds())
		for _, name := range activated {
			s.deps.Metrics.TransformerRuns.WithLabelValues(name).Inc()
		}
	}

	payload, err := json.Marshal(result)
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"status":"error","error":%q}`, err.Error()))
	}
	return provider.ToolResultBlock{
		ToolUseID: call.ID,
		Content:   string(payload),
		IsError:   result.Status == invoker.StatusError,
	}
}

// toolSchemas collects the model-facing tool listing: enabled local
// tools plus lazily discovered remote tools.
func (s *Session) toolSchemas(ctx context.Context) []provider.ToolDefinition {
	var out []provider.ToolDefinition
	for _, tool := range s.deps.Registry.EnabledTools() {
		def := tool.Definition
		description := def.Description
		if def.Instructions != "" {
			description += "\n" + def.Instructions
		}
		out = append(out, provider.ToolDefinition{
			Name:        def.Name,
			Description: description,
			InputSchema: def.InputSchema(),
		})
	}
	if s.deps.Remotes != nil {
		for _, tool := range s.deps.Remotes.ListTools(ctx) {
			out = append(out, provider.ToolDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: tool.InputSchema,
			})
		}
	}
	return out
}

func (s *Session) systemPrompt(ctx context.Context, persona, request string) string {
	now := time.Now()
	s.window = ExtractWindow(request, now)
	pc := promptContext{
		window: s.window,
		now:    now,
	}

	for _, ts := range s.deps.Registry.Toolsets() {
		if !ts.Enabled {
			continue
		}
		for _, def := range ts.Tools {
			if def.Instructions != "" {
				pc.toolsetNotes = append(pc.toolsetNotes,
					fmt.Sprintf("- %s: %s", def.Name, def.Instructions))
			}
		}
	}
	if s.deps.Remotes != nil {
		pc.remoteNotes = s.deps.Remotes.Instructions(ctx)
	}
	if s.deps.Resolver != nil {
		pc.instances = s.deps.Resolver.Describe()
	}

	return buildSystemPrompt(persona, pc)
}

func (s *Session) finish(mode, outcome string) {
	if s.deps.Audit != nil {
		_ = s.deps.Audit.LogSessionMetrics(s.totalRequests, s.totalInput, s.totalOutput, s.totalToolCalls)
		_ = s.deps.Audit.LogSessionEnd(outcome)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SessionsTotal.WithLabelValues(mode, outcome).Inc()
	}
	s.logger.InfoWithFields("session finished",
		logging.Field("mode", mode),
		logging.Field("outcome", outcome),
		logging.Field("llm_requests", s.totalRequests),
		logging.Field("tool_calls", s.totalToolCalls),
	)
}

func lastAssistantText(messages []provider.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == provider.RoleAssistant && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	return ""
}
