// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repair

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// =============================================================================
// OpenAI-Compatible Executor
// =============================================================================

// OpenAIConfig configures the model-backed executor.
type OpenAIConfig struct {
	// BaseURL points at any OpenAI-compatible chat completion endpoint
	// (a local inference server included). Required.
	BaseURL string

	// APIKey authenticates against the endpoint. May be empty for local
	// servers that skip auth.
	APIKey string

	// Model is the model identifier passed to the endpoint. Required.
	Model string

	// Timeout bounds each repair call. Default: 5 seconds.
	Timeout time.Duration

	// MaxCallsPerSecond paces outbound calls so a stalled or slow
	// endpoint cannot pile up requests. Default: 10.
	MaxCallsPerSecond float64
}

// OpenAIExecutor calls an OpenAI-compatible chat endpoint to rewrite a
// flagged text. Safe for concurrent use.
type OpenAIExecutor struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewOpenAIExecutor builds an executor from config. logger may be nil.
func NewOpenAIExecutor(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIExecutor, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("repair executor base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("repair executor model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxCallsPerSecond <= 0 {
		cfg.MaxCallsPerSecond = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	return &OpenAIExecutor{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxCallsPerSecond), 1),
		logger:  logger,
	}, nil
}

// systemPrompt constrains the model to rewriting only. The model never
// sees why the text was flagged beyond the tone label.
const systemPrompt = `You rewrite messages to soften their tone while preserving their meaning.
Reply with the rewritten message only. No commentary, no quotes.`

// Repair rewrites text via the chat endpoint. The call is bounded by the
// configured timeout on top of whatever deadline ctx already carries.
// All failures are wrapped with ErrExecutor.
func (e *OpenAIExecutor) Repair(ctx context.Context, text, freqType, scenario string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.limiter.Wait(ctx); err != nil {
		return "", wrapErr(err)
	}

	start := time.Now()
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Detected tone: %s. Scenario: %s.\n\nMessage:\n%s",
					freqType, scenario, text),
			},
		},
		Temperature: 0.3,
	})
	if err != nil {
		e.logger.Warn("repair executor call failed",
			"freq_type", freqType,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err.Error(),
		)
		return "", wrapErr(err)
	}

	if len(resp.Choices) == 0 {
		return "", wrapErr(fmt.Errorf("empty completion"))
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", wrapErr(fmt.Errorf("blank rewrite"))
	}

	e.logger.Debug("repair executor call succeeded",
		"freq_type", freqType,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}
