package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/chatrelay/internal/config"
	"github.com/chatrelay/chatrelay/internal/providers"
	"github.com/chatrelay/chatrelay/internal/store"
	"github.com/chatrelay/chatrelay/internal/tools"
)

// maxGenerationSteps bounds runaway tool-call loops within one turn.
const maxGenerationSteps = 10

// titleMaxChars is how much of the first user message seeds a conversation title.
const titleMaxChars = 50

// Orchestrator runs conversation turns against resolved providers.
type Orchestrator struct {
	cfg      *config.Config
	registry *providers.Registry
	tools    *tools.Registry
	store    *store.Store
	logger   *slog.Logger
}

// NewOrchestrator creates a stream orchestrator.
func NewOrchestrator(cfg *config.Config, registry *providers.Registry, reg *tools.Registry, st *store.Store, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		tools:    reg,
		store:    st,
		logger:   logger.With("component", "orchestrator"),
	}
}

// HandleTurn processes one conversation turn.
//
// A non-nil error means the turn failed before any stream bytes were written
// and the caller should reply with a structured error body. Once streaming
// has begun, failures are reported in-band through the sink and HandleTurn
// returns nil.
func (o *Orchestrator) HandleTurn(ctx context.Context, turn *Turn, sink Sink) error {
	if err := turn.validate(); err != nil {
		return err
	}

	model := strings.TrimSpace(turn.Model)
	if model == "" {
		model = o.cfg.Models.Default
	}

	// Unknown model is rejected before anything touches the store.
	if _, err := o.registry.KindFor(model); err != nil {
		return err
	}

	// Persist the caller's newest message first so it survives a failed
	// generation.
	if turn.ConversationID != nil {
		conv, err := o.store.GetConversation(*turn.ConversationID)
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		if conv == nil {
			return fmt.Errorf("%w: conversation %d not found", ErrValidation, *turn.ConversationID)
		}
		if last := lastUserMessage(turn.Messages); last != nil {
			if _, err := o.store.AppendMessage(*turn.ConversationID, store.RoleUser, last.Flatten()); err != nil {
				return fmt.Errorf("persist user message: %w", err)
			}
		}
	}

	client, err := o.registry.Resolve(model)
	if err != nil {
		return err
	}

	msgs := make([]providers.Message, 0, len(turn.Messages)+1)
	if turn.SystemPrompt != "" {
		msgs = append(msgs, providers.Message{Role: "system", Content: turn.SystemPrompt})
	}
	for _, m := range turn.Messages {
		msgs = append(msgs, providers.Message{Role: m.Role, Content: m.Flatten()})
	}

	specs := o.tools.Specs()
	toolSpecs := make([]providers.ToolSpec, 0, len(specs))
	for _, s := range specs {
		toolSpecs = append(toolSpecs, providers.ToolSpec{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  json.RawMessage(s.Parameters),
		})
	}

	turnID := uuid.NewString()
	logger := o.logger.With("turn", turnID, "model", model)

	// The accumulator for final persistence. Only text deltas are folded in;
	// tool activity is forwarded to the caller but never persisted.
	var acc strings.Builder
	started := false

	for step := 0; step < maxGenerationSteps; step++ {
		stepStart := time.Now()
		stream, err := client.Stream(ctx, &providers.GenerateRequest{
			Model:    model,
			Messages: msgs,
			Tools:    toolSpecs,
		})
		if err != nil {
			if !started {
				return fmt.Errorf("upstream request failed: %w", err)
			}
			logger.Error("upstream request failed mid-turn", "step", step, "error", err)
			_ = sink.Send(Event{Type: EventError, Err: "upstream request failed"})
			return nil
		}

		if !started {
			started = true
			if err := sink.Send(Event{Type: EventStart, ID: turnID}); err != nil {
				stream.Close()
				return nil
			}
		}

		var stepText strings.Builder
		var calls []providers.ToolCall
		streamErr := error(nil)

		for {
			ev, err := stream.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				streamErr = err
				break
			}
			switch ev.Type {
			case providers.EventTextDelta:
				acc.WriteString(ev.Text)
				stepText.WriteString(ev.Text)
				if err := sink.Send(Event{Type: EventTextDelta, Content: ev.Text}); err != nil {
					// Caller disconnected: stop the upstream request and
					// skip persistence. The user message from above stays.
					stream.Close()
					logger.Debug("caller gone, aborting turn", "step", step)
					return nil
				}
			case providers.EventToolCall:
				calls = append(calls, *ev.Call)
			}
		}
		stream.Close()

		if streamErr != nil {
			logger.Error("upstream stream failed", "step", step, "error", streamErr)
			_ = sink.Send(Event{Type: EventError, Err: "upstream stream failed"})
			return nil
		}

		logger.Debug("generation step done",
			"step", step,
			"latency_ms", time.Since(stepStart).Milliseconds(),
			"text_len", stepText.Len(),
			"tool_calls", len(calls),
		)

		if len(calls) == 0 {
			o.finishTurn(turn, model, acc.String(), sink, logger)
			return nil
		}

		// Execute the requested tools and fold the results back into the
		// message sequence for the next step. A tool failure is reported to
		// the model, which decides whether to recover.
		var results strings.Builder
		for _, call := range calls {
			if err := sink.Send(Event{
				Type:  EventToolCallStart,
				Tool:  call.Name,
				Label: tools.DisplayName(call.Name),
				Input: call.Arguments,
			}); err != nil {
				return nil
			}

			output := ""
			toolErr := ""
			if o.tools.Has(call.Name) {
				out, err := o.tools.ExecuteJSON(ctx, call.Name, call.Arguments)
				if err != nil {
					toolErr = err.Error()
				} else {
					output = out
				}
			} else {
				toolErr = "unknown tool: " + call.Name
			}

			if err := sink.Send(Event{
				Type:   EventToolCallResult,
				Tool:   call.Name,
				Output: output,
				Err:    toolErr,
			}); err != nil {
				return nil
			}

			if toolErr != "" {
				fmt.Fprintf(&results, "<tool_result name=%q error=\"true\">\n%s\n</tool_result>\n", call.Name, toolErr)
			} else {
				fmt.Fprintf(&results, "<tool_result name=%q>\n%s\n</tool_result>\n", call.Name, output)
			}
		}

		if stepText.Len() > 0 {
			msgs = append(msgs, providers.Message{Role: "assistant", Content: stepText.String()})
		}
		msgs = append(msgs, providers.Message{Role: "user", Content: "[Tool results]\n" + results.String()})
	}

	logger.Warn("turn exceeded maximum generation steps", "max_steps", maxGenerationSteps)
	_ = sink.Send(Event{Type: EventError, Err: fmt.Sprintf("exceeded maximum generation steps (%d)", maxGenerationSteps)})
	return nil
}

// lastUserMessage returns the newest user-role message, or nil. Callers may
// send histories ending with an assistant message; only user input is the
// turn's new material.
func lastUserMessage(msgs []TurnMessage) *TurnMessage {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == store.RoleUser {
			return &msgs[i]
		}
	}
	return nil
}

// finishTurn emits the terminal frame and persists the assistant reply. The
// reply is stored even when the model produced no text, so every completed
// turn adds exactly one assistant message.
func (o *Orchestrator) finishTurn(turn *Turn, model, text string, sink Sink, logger *slog.Logger) {
	_ = sink.Send(Event{Type: EventDone})

	if turn.ConversationID == nil {
		return
	}
	id := *turn.ConversationID

	// The streamed response has already been delivered; a store failure here
	// is reported to the operator, never to the caller.
	if _, err := o.store.AppendMessage(id, store.RoleAssistant, text); err != nil {
		logger.Error("persist assistant message failed", "conversation", id, "error", err)
		return
	}
	if _, err := o.store.UpdateConversation(id, nil, &model); err != nil {
		logger.Error("record conversation model failed", "conversation", id, "error", err)
	}

	o.maybeNameConversation(id, logger)
}

// maybeNameConversation titles a conversation after its first completed
// exchange, detected by counting stored messages (exactly one user and one
// assistant) so the trigger stays correct however the caller's in-memory
// history evolves.
func (o *Orchestrator) maybeNameConversation(id int64, logger *slog.Logger) {
	userCount, err := o.store.CountMessages(id, store.RoleUser)
	if err != nil {
		logger.Error("count user messages failed", "conversation", id, "error", err)
		return
	}
	assistantCount, err := o.store.CountMessages(id, store.RoleAssistant)
	if err != nil {
		logger.Error("count assistant messages failed", "conversation", id, "error", err)
		return
	}
	if userCount != 1 || assistantCount != 1 {
		return
	}

	first, err := o.store.FirstMessage(id, store.RoleUser)
	if err != nil || first == nil {
		return
	}
	title := DeriveTitle(first.Content)
	if title == "" {
		return
	}
	if _, err := o.store.UpdateConversation(id, &title, nil); err != nil {
		logger.Error("set conversation title failed", "conversation", id, "error", err)
	}
}

// DeriveTitle builds a conversation title from the leading characters of a
// user message.
func DeriveTitle(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= titleMaxChars {
		return content
	}
	return strings.TrimSpace(string(runes[:titleMaxChars])) + "..."
}
