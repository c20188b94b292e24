// Package validator scores final answers with lightweight heuristics.
// It flags signals of unsupported claims such as numeric assertions with
// no tool result backing them. Advisory only: a low score is recorded
// alongside the response but never blocks delivery.
package validator

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/atriumhq/atrium/pkg/models"
)

// Scores below this mark the report invalid. The caller still delivers
// the answer either way.
const validThreshold = 50

var (
	// Currency amounts, e.g. "$12,400", "€1.200,50".
	currencyPattern = regexp.MustCompile(`[$€£]\s?\d[\d.,]*`)
	// Large bare numbers, e.g. "15000". Plausible years are filtered out
	// separately so "in 2026" is not treated as a data claim.
	bareNumberPattern = regexp.MustCompile(`\b\d{4,}(?:[.,]\d+)?\b`)
	// Percentage claims, e.g. "up 30%".
	percentPattern = regexp.MustCompile(`\b\d+(?:[.,]\d+)?\s?%`)
)

var hedgePhrases = []string{
	"i think", "probably", "i'm not sure", "i am not sure",
	"might be", "it seems", "roughly", "approximately", "i believe",
	"creo que", "probablemente", "no estoy seguro", "aproximadamente",
}

// Validate inspects the final answer against the tool calls that
// produced it and returns an advisory report.
func Validate(finalText string, toolCalls []models.ToolCallRecord) models.ValidationReport {
	report := models.ValidationReport{Valid: true, Score: 100}
	text := strings.TrimSpace(finalText)
	lower := strings.ToLower(text)

	if text == "" {
		report.Score = 0
		report.Valid = false
		report.Warnings = append(report.Warnings, "empty answer")
		return report
	}

	numbers := currencyPattern.FindAllString(text, -1)
	for _, n := range bareNumberPattern.FindAllString(text, -1) {
		if !isBareYear(n) {
			numbers = append(numbers, n)
		}
	}
	numbers = append(numbers, percentPattern.FindAllString(text, -1)...)
	if len(numbers) > 0 && !anySuccessfulCall(toolCalls) {
		report.Score -= 40
		report.Warnings = append(report.Warnings,
			"numeric claims without a backing data lookup: "+strings.Join(dedupe(numbers, 5), ", "))
	}

	for _, phrase := range hedgePhrases {
		if strings.Contains(lower, phrase) {
			report.Score -= 10
			report.Warnings = append(report.Warnings, "hedged language: "+phrase)
			break
		}
	}

	if allCallsFailed(toolCalls) && len(numbers) > 0 {
		report.Score -= 30
		report.Warnings = append(report.Warnings, "numeric claims but every data lookup failed")
	}

	if report.Score < 0 {
		report.Score = 0
	}
	report.Valid = report.Score >= validThreshold
	return report
}

// isBareYear reports whether s is a plain calendar year, which ordinary
// answers mention without any data lookup behind them.
func isBareYear(s string) bool {
	if len(s) != 4 {
		return false
	}
	year, err := strconv.Atoi(s)
	return err == nil && year >= 1900 && year <= 2100
}

func anySuccessfulCall(calls []models.ToolCallRecord) bool {
	for _, c := range calls {
		if !c.IsError {
			return true
		}
	}
	return false
}

func allCallsFailed(calls []models.ToolCallRecord) bool {
	if len(calls) == 0 {
		return false
	}
	return !anySuccessfulCall(calls)
}

func dedupe(values []string, limit int) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
		if len(out) == limit {
			break
		}
	}
	return out
}
