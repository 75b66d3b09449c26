package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/appforge/pkg/models"
)

var businessInfoRe = regexp.MustCompile(`(?s)<business_info>(.*?)</business_info>`)

// ExtractBusinessInfo pulls the <business_info> JSON block out of an
// assistant reply. Model-mangled JSON is passed through jsonrepair before
// giving up.
func ExtractBusinessInfo(text string) (models.BusinessInfo, bool) {
	var info models.BusinessInfo

	match := businessInfoRe.FindStringSubmatch(text)
	if match == nil {
		return info, false
	}
	raw := strings.TrimSpace(match[1])

	if err := json.Unmarshal([]byte(raw), &info); err == nil {
		return info, true
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return models.BusinessInfo{}, false
	}
	if err := json.Unmarshal([]byte(repaired), &info); err != nil {
		return models.BusinessInfo{}, false
	}
	return info, true
}

// HasTaskSummary reports whether an assistant reply carries the terminal
// <task_summary> marker. The entire reply text is kept as the summary so the
// downstream title/response generators see full context.
func HasTaskSummary(text string) bool {
	return strings.Contains(text, "<task_summary>")
}
