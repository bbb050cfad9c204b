package inspect

import (
	"fmt"
	"strings"

	"github.com/AltEvolutions/spcdb/internal/layout"
	"github.com/AltEvolutions/spcdb/internal/progress"
)

// LabeledPath pairs a source label with its filesystem input path, the
// shape every multi-disc entry point in §6 takes its source list in.
type LabeledPath struct {
	Label string
	Path  string
}

// ValidateDiscs resolves and validates each labeled disc, returning the
// per-disc results plus a combined human report text, honoring cancellation
// between discs.
func ValidateDiscs(discs []LabeledPath, sink progress.Sink, cancel *progress.CancelToken) ([]ValidationResult, string, error) {
	if cancel == nil {
		cancel = progress.NewCancelToken()
	}

	var results []ValidationResult
	var b strings.Builder
	for _, d := range discs {
		if err := cancel.RaiseIfCancelled(); err != nil {
			return results, b.String(), err
		}

		ri, err := layout.Resolve(d.Path)
		if err != nil {
			result := ValidationResult{
				Label:     d.Label,
				InputPath: d.Path,
				Severity:  SeverityFail,
				Items: []ReportItem{{
					Code:     CodeResolveExportRoot,
					Severity: SeverityFail,
					Message:  err.Error(),
					Fix:      "Point at a full disc root, an Export/ folder, or a wrapper directory containing one.",
				}},
			}
			results = append(results, result)
			fmt.Fprintln(&b, result.Summary())
			for _, item := range result.Items {
				fmt.Fprintf(&b, "  [%s] %s: %s (%s)\n", item.Severity, item.Code, item.Message, item.Fix)
			}
			progress.Log(sink, progress.LevelError, "validate", "%s failed to resolve: %v", d.Label, err)
			continue
		}

		result, valErr := ValidateOne(d.Label, ri)
		ri.Close()
		if valErr != nil {
			progress.Log(sink, progress.LevelWarn, "validate", "%s validation threw: %v", d.Label, valErr)
		}
		results = append(results, result)

		fmt.Fprintln(&b, result.Summary())
		for _, item := range result.Items {
			fmt.Fprintf(&b, "  [%s] %s: %s (%s)\n", item.Severity, item.Code, item.Message, item.Fix)
		}
		progress.Log(sink, progress.LevelInfo, "validate", "%s", result.Summary())
	}
	return results, b.String(), nil
}
