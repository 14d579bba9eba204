// Package openai provides a model.Client implementation backed by the OpenAI
// Chat Completions API. It translates normalized run requests into
// Chat.Completions.New calls using github.com/openai/openai-go and maps
// responses back into the generic structures consumed by the run loop.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"goa.design/agentrun/runtime/agent/model"
)

type (
	// ChatClient captures the subset of the openai-go client used by the
	// adapter. It is satisfied by client.Chat.Completions so callers can pass
	// either a real service or a stub in tests.
	ChatClient interface {
		New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
	}

	// Options configures the OpenAI adapter.
	Options struct {
		// Client is the chat completion service. Required.
		Client ChatClient
		// DefaultModel is the model identifier used when model.Request.Model
		// is empty. Required.
		DefaultModel string
	}

	// Client implements model.Client via the OpenAI Chat Completions API.
	Client struct {
		chat  ChatClient
		model string
	}
)

// New builds an OpenAI-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{chat: opts.Client, model: opts.DefaultModel}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	oc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(Options{Client: &oc.Chat.Completions, DefaultModel: defaultModel})
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return model.Response{}, err
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		if isRateLimited(err) {
			return model.Response{}, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return model.Response{}, fmt.Errorf("openai chat completion: %w", err)
	}
	return translateResponse(resp, req.ResponseFormat), nil
}

// Stream reports that Chat Completions streaming is not supported by this
// adapter. The run loop falls back to Complete and emits buffered content.
func (c *Client) Stream(context.Context, model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func (c *Client) prepareRequest(req model.Request) (*sdk.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(req.MaxTokens))
	}
	if req.ResponseFormat == "json_object" {
		params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}
	if req.ToolChoice != "" {
		tc, err := encodeToolChoice(req.ToolChoice, req.Tools)
		if err != nil {
			return nil, err
		}
		params.ToolChoice = tc
	}
	return &params, nil
}

func encodeMessages(msgs []*model.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case model.RoleSystem:
			out = append(out, sdk.SystemMessage(m.Content))
		case model.RoleUser:
			out = append(out, sdk.UserMessage(m.Content))
		case model.RoleAssistant:
			assistant := sdk.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				assistant.Content = sdk.ChatCompletionAssistantMessageParamContentUnion{
					OfString: sdk.String(m.Content),
				}
			}
			for _, tc := range metaToolCalls(m.Meta) {
				assistant.ToolCalls = append(assistant.ToolCalls, sdk.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &sdk.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: sdk.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(tc.Arguments),
						},
					},
				})
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case model.RoleTool:
			if m.ToolCallID == "" {
				return nil, errors.New("openai: tool message missing tool call id")
			}
			out = append(out, sdk.ToolMessage(m.Content, m.ToolCallID))
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}
	return out, nil
}

// metaToolCalls recovers the tool calls recorded on an assistant message. The
// run loop stores them typed; records reloaded from a session store carry them
// as generic JSON values, so both shapes are handled.
func metaToolCalls(meta map[string]any) []model.ToolCall {
	raw, ok := meta["tool_calls"]
	if !ok {
		return nil
	}
	if calls, ok := raw.([]model.ToolCall); ok {
		return calls
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var calls []model.ToolCall
	if err := json.Unmarshal(data, &calls); err != nil {
		return nil
	}
	return calls
}

func encodeTools(defs []*model.ToolDefinition) []sdk.ChatCompletionToolUnionParam {
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		fn := shared.FunctionDefinitionParam{Name: def.Name}
		if def.Description != "" {
			fn.Description = sdk.String(def.Description)
		}
		if len(def.InputSchema) > 0 {
			fn.Parameters = shared.FunctionParameters(def.InputSchema)
		}
		out = append(out, sdk.ChatCompletionFunctionTool(fn))
	}
	return out
}

func encodeToolChoice(choice string, defs []*model.ToolDefinition) (sdk.ChatCompletionToolChoiceOptionUnionParam, error) {
	switch choice {
	case "auto", "none", "required":
		return sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String(choice)}, nil
	case "any":
		return sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("required")}, nil
	default:
		if !hasToolDefinition(defs, choice) {
			return sdk.ChatCompletionToolChoiceOptionUnionParam{},
				fmt.Errorf("openai: tool choice %q does not match any tool", choice)
		}
		return sdk.ChatCompletionToolChoiceOptionUnionParam{
			OfFunctionToolChoice: &sdk.ChatCompletionNamedToolChoiceParam{
				Function: sdk.ChatCompletionNamedToolChoiceFunctionParam{Name: choice},
			},
		}, nil
	}
}

func isRateLimited(err error) bool {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode == http.StatusTooManyRequests
	}
	return errors.Is(err, model.ErrRateLimited)
}

func hasToolDefinition(defs []*model.ToolDefinition, name string) bool {
	for _, def := range defs {
		if def != nil && def.Name == name {
			return true
		}
	}
	return false
}

func translateResponse(resp *sdk.ChatCompletion, responseFormat string) model.Response {
	var out model.Response
	if resp == nil {
		return out
	}
	for _, choice := range resp.Choices {
		msg := choice.Message
		if msg.Content != "" {
			out.Content = append(out.Content, model.Message{
				Role:    model.RoleAssistant,
				Content: msg.Content,
			})
		}
		for _, call := range msg.ToolCalls {
			args := call.Function.Arguments
			if args == "" {
				args = "{}"
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: json.RawMessage(args),
			})
		}
	}
	if responseFormat == "json_object" && len(out.Content) == 1 && len(out.ToolCalls) == 0 {
		if text := out.Content[0].Content; json.Valid([]byte(text)) {
			out.Structured = json.RawMessage(text)
		}
	}
	out.Usage = model.TokenUsage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	if len(resp.Choices) > 0 {
		out.StopReason = string(resp.Choices[0].FinishReason)
	}
	return out
}
