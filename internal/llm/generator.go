package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/raphaelgruber/policy-debate/internal/debate"
	"github.com/raphaelgruber/policy-debate/internal/metrics"
	"github.com/raphaelgruber/policy-debate/internal/parser"
)

// Service generates debate content and analyzes policies with a Model. It
// implements debate.Generator, debate.StakeholderIdentifier and
// debate.TopicExtractor.
type Service struct {
	model   *Model
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewService creates a Service. metrics may be nil.
func NewService(model *Model, m *metrics.Collector, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{model: model, metrics: m, logger: logger.With("component", "llm", "model", model.Model())}
}

// GenerateArgument implements debate.Generator.
func (s *Service) GenerateArgument(ctx context.Context, req debate.ArgumentRequest) (string, error) {
	var out argumentOutput
	err := s.complete(ctx, metrics.OpGenerateArgument, argumentSchema, argumentSystemPrompt(req), argumentPrompt(req), &out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Argument), nil
}

// GenerateConclusion implements debate.Generator.
func (s *Service) GenerateConclusion(ctx context.Context, req debate.ConclusionRequest) (string, error) {
	var out conclusionOutput
	if err := s.complete(ctx, metrics.OpGenerateConclusion, conclusionSchema, conclusionSystemPrompt, conclusionPrompt(req), &out); err != nil {
		return "", err
	}
	return renderConclusion(out), nil
}

// IdentifyStakeholders implements debate.StakeholderIdentifier.
func (s *Service) IdentifyStakeholders(ctx context.Context, policyText string) ([]debate.StakeholderProfile, error) {
	var out stakeholdersOutput
	if err := s.complete(ctx, metrics.OpAnalyze, stakeholdersSchema, stakeholdersSystemPrompt, "Policy:\n"+policyText, &out); err != nil {
		return nil, err
	}

	profiles := make([]debate.StakeholderProfile, 0, len(out.Stakeholders))
	for _, sh := range out.Stakeholders {
		profiles = append(profiles, debate.StakeholderProfile{
			Name:     strings.TrimSpace(sh.Name),
			Stance:   strings.TrimSpace(sh.Stance),
			Concerns: sh.Concerns,
			Style:    sh.Style,
		})
	}
	return profiles, nil
}

// ExtractTopics implements debate.TopicExtractor.
func (s *Service) ExtractTopics(ctx context.Context, policyText string, stakeholders []debate.StakeholderProfile) ([]debate.TopicDraft, error) {
	var outline string
	if doc, err := parser.ParsePolicy(policyText); err == nil {
		outline = doc.Outline()
	}

	var out topicsOutput
	if err := s.complete(ctx, metrics.OpAnalyze, topicsSchema, topicsSystemPrompt, topicsPrompt(policyText, outline, stakeholders), &out); err != nil {
		return nil, err
	}

	drafts := make([]debate.TopicDraft, 0, len(out.Topics))
	for _, t := range out.Topics {
		drafts = append(drafts, debate.TopicDraft{
			Title:        strings.TrimSpace(t.Title),
			Description:  strings.TrimSpace(t.Description),
			Priority:     t.Priority,
			KeyQuestions: t.KeyQuestions,
			Stakeholders: t.Stakeholders,
		})
	}
	return drafts, nil
}

// complete runs one prompt and decodes the validated JSON answer into dst.
// Every failure is a debate.ErrGeneration.
func (s *Service) complete(ctx context.Context, op string, schema *jsonschema.Schema, system, user string, dst any) error {
	c, err := s.model.GenerateWithSystem(ctx, system, user)
	if err != nil {
		if errors.Is(err, ErrFatalAPI) {
			s.logger.Error("LLM provider rejected the request", "op", op, "error", err)
		}
		return fmt.Errorf("%w: %s: %w", debate.ErrGeneration, op, err)
	}
	s.metrics.RecordLLMUsage(op, c.Duration, c.InputTokens, c.OutputTokens)

	if err := decodeJSON(schema, c.Text, dst); err != nil {
		s.logger.Warn("discarding model output", "op", op, "error", err, "output_len", len(c.Text))
		return fmt.Errorf("%w: %s: %w", debate.ErrGeneration, op, err)
	}
	return nil
}
