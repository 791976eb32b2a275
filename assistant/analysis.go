package assistant

import (
	"context"
	"log/slog"
	"strings"

	"Retoucher/core"
	"Retoucher/lib/sl"
	"Retoucher/storage"
)

// analyze is always free. An image without a request gets the structured
// inspection whose issues feed FixIssues; otherwise the request is answered
// about the attached or current working image.
func (p *Pipeline) analyze(ctx context.Context, s *storage.SessionMemory, text string, upload core.ImageRef) *core.Reply {
	ref := upload
	if ref == "" {
		ref = s.WorkingImage()
	}
	if ref == "" {
		return &core.Reply{Intent: core.IntentNeedImage, Status: core.StatusNeedImage, Text: msgNeedImage}
	}
	log := p.log.With(slog.String("conversation", s.ConversationId))

	if strings.TrimSpace(text) != "" {
		answer, err := p.Analyzer.Describe(ctx, ref, text)
		if err != nil {
			log.Error("describing image", sl.Err(err))
			return &core.Reply{Intent: core.IntentAnalysis, Status: core.StatusFailed, Text: msgAnalysisFail}
		}
		return &core.Reply{Intent: core.IntentAnalysis, Status: core.StatusOK, Text: answer}
	}

	analysis, err := p.Analyzer.Inspect(ctx, ref)
	if err != nil {
		log.Error("inspecting image", sl.Err(err))
		return &core.Reply{Intent: core.IntentAnalysis, Status: core.StatusFailed, Text: msgAnalysisFail}
	}
	s.LastIssues = analysis.Issues
	log.With(slog.Int("issues", len(analysis.Issues))).Debug("image inspected")

	return &core.Reply{
		Intent: core.IntentAnalysis,
		Status: core.StatusOK,
		Text:   formatAnalysis(analysis.Summary, analysis.Issues),
		Issues: analysis.Issues,
	}
}

func formatAnalysis(summary string, issues []string) string {
	var b strings.Builder
	if summary != "" {
		b.WriteString(summary)
		b.WriteString("\n\n")
	}
	if len(issues) == 0 {
		b.WriteString(msgNoIssues)
		return b.String()
	}
	b.WriteString(msgAnalysisHeader)
	for _, issue := range issues {
		b.WriteString("\n- ")
		b.WriteString(issue)
	}
	b.WriteString("\n\n")
	b.WriteString(msgFixHint)
	return b.String()
}
