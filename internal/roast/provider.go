// Package roast supplies the lines contestants trade each round.
package roast

import (
	_ "embed"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"arena/internal/domain"
	"arena/pkg/validator"

	"gopkg.in/yaml.v3"
)

//go:embed roasts.yaml
var defaultTemplates []byte

// Provider produces round content for a pair of contestants.
type Provider interface {
	NextRoundContent(a, b string, round int) (*domain.RoundContent, error)
}

type templateFile struct {
	Fallback string              `yaml:"fallback" validate:"required"`
	Roasts   map[string][]string `yaml:"roasts" validate:"required,min=1,dive,min=1,dive,required"`
}

// TemplateProvider draws lines at random from a YAML template set.
type TemplateProvider struct {
	roasts   map[string][]string
	fallback string
	pick     func(n int) int
}

// NewTemplateProvider loads templates from path, or the embedded set when path is empty.
func NewTemplateProvider(path string) (*TemplateProvider, error) {
	data := defaultTemplates
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read roast templates %s: %w", path, err)
		}
		data = raw
	}
	return ParseTemplates(data)
}

func ParseTemplates(data []byte) (*TemplateProvider, error) {
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse roast templates: %w", err)
	}
	if err := validator.New().Validate(&f); err != nil {
		return nil, fmt.Errorf("parse roast templates: %w", err)
	}
	if len(f.Roasts[f.Fallback]) == 0 {
		return nil, fmt.Errorf("parse roast templates: fallback %q has no lines", f.Fallback)
	}
	return &TemplateProvider{roasts: f.Roasts, fallback: f.Fallback, pick: rand.IntN}, nil
}

// WithPicker replaces the random line picker.
func (p *TemplateProvider) WithPicker(pick func(n int) int) *TemplateProvider {
	p.pick = pick
	return p
}

// NextRoundContent has each contestant roast the other once. Odd rounds open with a.
func (p *TemplateProvider) NextRoundContent(a, b string, round int) (*domain.RoundContent, error) {
	if a == "" || b == "" {
		return nil, fmt.Errorf("round content needs two contestants")
	}
	first, second := a, b
	if round%2 == 0 {
		first, second = b, a
	}
	return &domain.RoundContent{
		Round: round,
		Lines: []domain.RoastLine{p.line(first, second), p.line(second, first)},
	}, nil
}

func (p *TemplateProvider) line(speaker, target string) domain.RoastLine {
	lines := p.roasts[speaker]
	if len(lines) == 0 {
		lines = p.roasts[p.fallback]
	}
	text := lines[p.pick(len(lines))]
	return domain.RoastLine{
		Speaker: speaker,
		Target:  target,
		Text:    strings.ReplaceAll(text, "{target}", target),
	}
}
