package service

import (
	"fmt"
	"strings"

	"traffic-fine-chatbot/models"
)

// ComposeContext renders a sub-question and its retrieved entries as the
// markdown block given to the answer model. Empty fields render as empty text.
func ComposeContext(question string, results []models.RetrievalResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Câu hỏi:** %s\n\n **Các điều luật liên quan:**\n", question)

	for i, r := range results {
		fmt.Fprintf(&b, "\n **Luật %d:**\n", i+1)
		fmt.Fprintf(&b, " **Mục:** %s\n", r.Section)
		fmt.Fprintf(&b, " **Điều:** %s\n", r.Article)
		fmt.Fprintf(&b, " **Khoản:** %s\n", r.Clause)
		fmt.Fprintf(&b, " **Nội dung:** %s\n", r.Content)
		if r.Detail != "" {
			fmt.Fprintf(&b, " **Chi tiết:** %s\n", r.Detail)
		}
	}

	return b.String()
}
