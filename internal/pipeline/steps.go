package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fedutinova/finsight/internal/common"
)

const (
	stepExtract    = "extract"
	stepAnalyze    = "analyze"
	stepAdvise     = "advise"
	stepAssessRisk = "assess_risk"
)

const (
	analystSystem = "You are a senior financial analyst with deep experience in corporate " +
		"finance and market dynamics. You base your conclusions strictly on evidence " +
		"from the document and the market context you are given."

	advisorSystem = "You are a prudent investment advisor who prioritizes long-term value " +
		"and risk management over speculative gains. Your advice is balanced, " +
		"well-researched and grounded in fundamentals, never hype."

	riskSystem = "You are a cautious financial risk assessor. You examine financial data " +
		"from every negative angle, looking for hidden liabilities, market " +
		"vulnerabilities and weak points in strategy."
)

// steps builds the job's DAG. Extraction reads the artifact; the three
// reasoning steps are delegated to the completion collaborator with the
// outputs of their declared dependencies as context.
func (e *Executor) steps(artifactKey, query string) []Step {
	return []Step{
		{
			Name: stepExtract,
			Run: func(ctx context.Context, _ []StepOutput) (string, error) {
				return e.extractDocument(ctx, artifactKey)
			},
		},
		{
			Name:     stepAnalyze,
			Requires: []string{stepExtract},
			Run: func(ctx context.Context, deps []StepOutput) (string, error) {
				return e.analyzeDocument(ctx, query, deps[0].Output)
			},
		},
		{
			Name:     stepAdvise,
			Requires: []string{stepAnalyze},
			Run: func(ctx context.Context, deps []StepOutput) (string, error) {
				return e.completer.Complete(ctx, advisorSystem, advisoryPrompt(deps[0].Output))
			},
		},
		{
			Name:     stepAssessRisk,
			Requires: []string{stepAnalyze},
			Run: func(ctx context.Context, deps []StepOutput) (string, error) {
				return e.completer.Complete(ctx, riskSystem, riskPrompt(deps[0].Output))
			},
		},
	}
}

// extractDocument resolves the artifact and extracts its text. Empty or
// whitespace-only text fails the job here; the reasoning steps must never
// run on a blank document.
func (e *Executor) extractDocument(ctx context.Context, artifactKey string) (string, error) {
	r, err := e.storage.OpenArtifact(ctx, artifactKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrUnreadableDocument, err)
	}
	defer r.Close()

	text, err := e.extractor.Extract(ctx, r)
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(text) == "" {
		return "", common.ErrEmptyDocument
	}

	return text, nil
}

// analyzeDocument runs the analysis step. Market context from the searcher is
// best-effort: a search failure degrades the analysis, it never aborts it.
func (e *Executor) analyzeDocument(ctx context.Context, query, documentText string) (string, error) {
	var marketContext string
	if e.searcher != nil {
		res, err := e.searcher.Search(ctx, query)
		if err != nil {
			slog.Warn("market context search failed, analyzing without it", "err", err)
		} else {
			marketContext = res
		}
	}

	return e.completer.Complete(ctx, analystSystem, analysisPrompt(query, documentText, marketContext))
}

func analysisPrompt(query, documentText, marketContext string) string {
	var sb strings.Builder
	sb.WriteString("Analyze the following text extracted from a financial document. ")
	sb.WriteString("Cover: key financial metrics (revenue, net income, EPS), year-over-year ")
	sb.WriteString("growth trends, potential red flags or inconsistencies, and the company's ")
	sb.WriteString("overall financial health.\n\n")
	sb.WriteString("Produce a structured report with: a summary of the company's financial ")
	sb.WriteString("performance, key metrics and their trends, a section on market context ")
	sb.WriteString("and sentiment, and a concluding paragraph on financial health.\n\n")
	fmt.Fprintf(&sb, "Client query: %s\n\n", query)
	if marketContext != "" {
		fmt.Fprintf(&sb, "Current market context:\n%s\n\n", marketContext)
	}
	fmt.Fprintf(&sb, "Document text:\n%s", documentText)
	return sb.String()
}

func advisoryPrompt(analysis string) string {
	return "Based on the financial analysis below, formulate an investment thesis. " +
		"Your recommendation must be one of: Strong Buy, Buy, Hold, Sell, Strong Sell, " +
		"justified with at least three key points derived from the analysis, plus a " +
		"brief overview of potential risks for the investor.\n\n" +
		"Financial analysis:\n" + analysis
}

func riskPrompt(analysis string) string {
	return "Scrutinize the financial analysis below to identify and categorize potential " +
		"risks: market risks, credit risks, operational issues, competitive threats. " +
		"Produce a structured risk report listing each identified risk with its category, " +
		"an estimated severity (Low, Medium, High) and a short explanation.\n\n" +
		"Financial analysis:\n" + analysis
}
