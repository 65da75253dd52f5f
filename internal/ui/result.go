package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/docflowhq/docflow/internal/types"
)

// RenderProgress formats one in-flight progress line, suitable for rewriting
// in place.
func RenderProgress(p types.Progress) string {
	return fmt.Sprintf("%s %d/%d  %s %d  %s %d  %s %d",
		RenderAccent("processing"), p.Current, p.Total,
		RenderPass("ok"), p.Processed,
		RenderFail("failed"), p.Failed,
		RenderMuted("skipped"), p.Skipped)
}

// RenderResult formats the final execution summary with the per-document
// detail lines.
func RenderResult(res *types.Result) string {
	var b strings.Builder
	b.WriteString(RenderSeparator())
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s  %s\n",
		StatusIcon(res.Status), RenderStatus(res.Status), RenderMuted(res.ExecutionID))
	fmt.Fprintf(&b, "  mapping:   %s\n", res.MappingID)
	fmt.Fprintf(&b, "  documents: %d total, %s, %s, %s\n",
		res.Total,
		RenderPass(fmt.Sprintf("%d processed", res.Processed)),
		RenderFail(fmt.Sprintf("%d failed", res.Failed)),
		RenderMuted(fmt.Sprintf("%d skipped", res.Skipped)))
	fmt.Fprintf(&b, "  elapsed:   %s\n", res.EndTime.Sub(res.StartTime).Round(1e6))

	if len(res.ByType) > 0 {
		names := make([]string, 0, len(res.ByType))
		for name := range res.ByType {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%d", name, res.ByType[name]))
		}
		fmt.Fprintf(&b, "  by type:   %s\n", strings.Join(parts, ", "))
	}

	if bs := res.BonificationStats; bs != nil {
		fmt.Fprintf(&b, "  bonifications: %d over %d details, %d promotions\n",
			bs.TotalBonifications, bs.ProcessedDetails, bs.TotalPromotions)
	}

	if m := res.Marking; m != nil && m.Strategy != types.MarkNone && m.Strategy != "" {
		fmt.Fprintf(&b, "  marking:   %s, %d marked", m.Strategy, m.Marked)
		if m.RolledBack > 0 {
			fmt.Fprintf(&b, ", %s", RenderWarn(fmt.Sprintf("%d rolled back", m.RolledBack)))
		}
		b.WriteString("\n")
		for _, e := range m.Errors {
			fmt.Fprintf(&b, "    %s %s\n", RenderWarn(IconWarn), e)
		}
	}

	if len(res.Details) > 0 {
		b.WriteString(RenderSeparator())
		b.WriteString("\n")
		for _, d := range res.Details {
			b.WriteString(renderDocument(&d))
		}
	}
	return b.String()
}

func renderDocument(d *types.DocumentResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", StatusIcon(d.Status), d.DocumentID)
	if d.DocumentType != "" && d.DocumentType != types.DocumentTypeUnknown {
		fmt.Fprintf(&b, " %s", RenderMuted("("+d.DocumentType+")"))
	}
	if d.Consecutive != "" {
		fmt.Fprintf(&b, " %s", RenderAccent(d.Consecutive))
	}
	switch {
	case d.Status == types.StatusSkipped:
		fmt.Fprintf(&b, " %s", RenderMuted(d.Message))
	case !d.Success:
		fmt.Fprintf(&b, " %s", RenderFail(string(d.ErrorCode)))
		if d.ErrorDetails != "" {
			fmt.Fprintf(&b, " %s", RenderMuted(d.ErrorDetails))
		}
	}
	b.WriteString("\n")
	return b.String()
}

// RenderExecutionRow formats one line of the execution history listing.
func RenderExecutionRow(rec *types.ExecutionRecord) string {
	return fmt.Sprintf("%s %-10s %-24s %s  %d/%d ok, %d failed, %d skipped",
		StatusIcon(rec.Status),
		rec.Status,
		rec.MappingID,
		rec.StartTime.Format("2006-01-02 15:04:05"),
		rec.SuccessfulRecords, rec.TotalRecords,
		rec.FailedRecords, rec.SkippedRecords)
}
