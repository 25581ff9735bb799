// Package parser scrapes execution metrics out of free-form backend output.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/yourorg/speedbench/pkg/types"
)

var (
	timeRe   = regexp.MustCompile(`Time taken: ([\d.]+) seconds`)
	resultRe = regexp.MustCompile(`Result: .*`)
	numberRe = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)`)
)

// ElapsedSeconds returns the first "Time taken: N seconds" value in output, or 0.
func ElapsedSeconds(output string) float64 {
	m := timeRe.FindStringSubmatch(output)
	if m == nil {
		return 0
	}
	// "1.2.3" reads as 1.2, like a lenient float parse would.
	num := numberRe.FindString(m[1])
	if num == "" {
		return 0
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	return v
}

// ResultSummary returns the first "Result: ..." line fragment in output,
// or types.NoResult.
func ResultSummary(output string) string {
	m := resultRe.FindString(output)
	if m == "" {
		return types.NoResult
	}
	return strings.TrimRight(m, "\r")
}

// Parse extracts both fields. It never fails; unmatched fields take defaults.
func Parse(output string) types.ExecutionMetric {
	return types.ExecutionMetric{
		ResultSummary:  ResultSummary(output),
		ElapsedSeconds: ElapsedSeconds(output),
		Raw:            output,
	}
}
