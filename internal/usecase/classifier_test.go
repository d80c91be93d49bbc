package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"conductor/internal/domain"
)

func newTestClassifier(p *fakeProvider) *IntentClassifier {
	return NewIntentClassifier(p, ClassifierConfig{
		Taxonomy: []string{"summarize", "translate", "quiz_generation"},
	}, nil)
}

func TestClassifySuccess(t *testing.T) {
	p := &fakeProvider{reply: classificationJSON("summarize", 0.92,
		domain.Intent{Name: "translate", Confidence: 0.4})}
	c := newTestClassifier(p)

	got, err := c.Classify(context.Background(), testRequest("summarize"))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.PrimaryIntent.Name != "summarize" || got.PrimaryIntent.Confidence != 0.92 {
		t.Errorf("primary = %+v", got.PrimaryIntent)
	}
	if len(got.SecondaryIntents) != 1 || got.SecondaryIntents[0].Name != "translate" {
		t.Errorf("secondaries = %+v", got.SecondaryIntents)
	}
}

func TestClassifyFencedOutput(t *testing.T) {
	p := &fakeProvider{reply: "```json\n" + classificationJSON("translate", 0.8) + "\n```"}
	c := newTestClassifier(p)

	got, err := c.Classify(context.Background(), testRequest("translate"))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.PrimaryIntent.Name != "translate" {
		t.Errorf("primary = %+v", got.PrimaryIntent)
	}
}

func TestClassifyBelowConfidenceFloor(t *testing.T) {
	p := &fakeProvider{reply: classificationJSON("summarize", 0.1)}
	c := newTestClassifier(p)

	_, err := c.Classify(context.Background(), testRequest("summarize"))
	if !errors.Is(err, domain.ErrClassificationFailed) {
		t.Fatalf("err = %v, want ErrClassificationFailed", err)
	}
	if domain.PhaseOf(err) != domain.PhaseClassification {
		t.Errorf("phase = %q", domain.PhaseOf(err))
	}
	if domain.IsRetryableError(err) {
		t.Error("a confident low score is terminal, not retryable")
	}
}

func TestClassifyProviderErrorIsRetryable(t *testing.T) {
	p := &fakeProvider{err: fmt.Errorf("connection refused")}
	c := newTestClassifier(p)

	_, err := c.Classify(context.Background(), testRequest("summarize"))
	if !errors.Is(err, domain.ErrProviderError) {
		t.Fatalf("err = %v, want ErrProviderError", err)
	}
	if !domain.IsRetryableError(err) {
		t.Error("provider failures must be retryable")
	}
	if domain.PhaseOf(err) != domain.PhaseClassification {
		t.Errorf("phase = %q", domain.PhaseOf(err))
	}
}

func TestClassifyGarbageOutput(t *testing.T) {
	p := &fakeProvider{reply: "I think this is probably a summarization task?"}
	c := newTestClassifier(p)

	_, err := c.Classify(context.Background(), testRequest("summarize"))
	if !errors.Is(err, domain.ErrClassificationFailed) {
		t.Fatalf("err = %v, want ErrClassificationFailed", err)
	}
}

func TestClassifyMissingPrimaryIntent(t *testing.T) {
	p := &fakeProvider{reply: `{"secondary_intents":[],"ambiguous":true}`}
	c := newTestClassifier(p)

	_, err := c.Classify(context.Background(), testRequest("summarize"))
	if !errors.Is(err, domain.ErrClassificationFailed) {
		t.Fatalf("err = %v, want ErrClassificationFailed", err)
	}
}

func TestClassifyPromptCarriesTaxonomy(t *testing.T) {
	p := &fakeProvider{reply: classificationJSON("summarize", 0.9)}
	c := newTestClassifier(p)

	if _, err := c.Classify(context.Background(), testRequest("summarize")); err != nil {
		t.Fatal(err)
	}

	p.mu.Lock()
	system := p.lastReq.Messages[0].Content
	p.mu.Unlock()
	for _, intent := range []string{"summarize", "translate", "quiz_generation"} {
		if !strings.Contains(system, "- "+intent) {
			t.Errorf("system prompt missing taxonomy entry %q", intent)
		}
	}
}

func TestStripCodeFences(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tc := range cases {
		if got := stripCodeFences(tc.in); got != tc.want {
			t.Errorf("stripCodeFences(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
