package tools

import (
	"context"

	"github.com/koebridge/koebridge/pkg/realtime"
)

type transferArgs struct {
	Reason   string `json:"reason"`
	Summary  string `json:"summary"`
	Priority string `json:"priority"`
}

// transferTool implements transfer_to_human. It does no I/O of its own: the
// result type carries the request so the mediator can alert the support
// staff and keep the call going.
func transferTool(d Deps) Tool {
	return Tool{
		Definition: realtime.ToolDefinition{
			Name:        "transfer_to_human",
			Description: "担当者への引き継ぎを依頼します。AIで対応できない内容（請求トラブル、怪我や損害、強いクレームなど）の場合に呼び出してください。",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{
						"type":        "string",
						"description": "引き継ぎが必要な理由。",
					},
					"summary": map[string]any{
						"type":        "string",
						"description": "ここまでの会話の要約。",
					},
					"priority": map[string]any{
						"type":        "string",
						"description": "対応の優先度。省略時はnormal。",
						"enum":        []string{string(PriorityNormal), string(PriorityHigh), string(PriorityUrgent)},
					},
				},
				"required": []string{"reason"},
			},
		},
		Handler: func(_ context.Context, args string) (Result, error) {
			a := decodeArgs[transferArgs](d.Log, args)

			p := Priority(a.Priority)
			if !p.IsValid() {
				p = PriorityNormal
			}
			reason := a.Reason
			if reason == "" {
				reason = "お客様のご要望"
			}
			return HandoffResult{Reason: reason, Summary: a.Summary, Priority: p}, nil
		},
	}
}
