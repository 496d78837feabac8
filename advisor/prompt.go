package advisor

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"siteplan/domain"
)

// Language selects the language of the prompt and of the user-facing
// failure messages.
type Language string

const (
	LanguageZhTW Language = "zh-TW"
	LanguageEN   Language = "en"
)

// ParseLanguage accepts the supported language tags; an empty string selects
// Traditional Chinese.
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "zh-tw", "zh_tw", "zh-hant":
		return LanguageZhTW, nil
	case "en", "en-us", "en-gb":
		return LanguageEN, nil
	}
	return "", fmt.Errorf("unsupported advisor language %q", s)
}

type messages struct {
	prompt   string
	fallback string
	timeout  string
}

var catalog = map[Language]messages{
	LanguageZhTW: {
		prompt: `你是一位經驗豐富的工地主任兼排程顧問。以下為本工程全部施工項目的 JSON 資料，dependencies 欄位列出每個項目開工前必須完成的前置項目 id：
%s

請依據目前進度與項目間的相依關係回答：
1. 關鍵路徑與連鎖延誤：哪些項目一旦落後，會沿著相依關係擴散並拖延整體工期？
2. 相依性違規：是否有後續項目在前置項目尚未完工時便已開工？
3. 工序調整建議：可以如何重新安排施工順序或資源以紓解瓶頸？

請以繁體中文條列式作答，語氣專業務實。`,
		fallback: "無法生成 AI 建議，請檢查網路連線。",
		timeout:  "AI 分析逾時，請稍後再試。",
	},
	LanguageEN: {
		prompt: `You are a senior site superintendent and scheduling consultant. Below is every task of the project as JSON; the dependencies field lists the ids of the tasks that must finish before a task may start:
%s

Based on current progress and the dependencies between tasks, answer:
1. Critical path and cascading delay: which tasks, if they slip, would ripple through their dependents and delay the whole project?
2. Dependency violations: has any successor started while one of its predecessors is still incomplete?
3. Resequencing: how could the work order or resources be rearranged to relieve bottlenecks?

Answer as a concise bulleted list in a professional, practical tone.`,
		fallback: "Unable to generate AI advice. Please check the network connection.",
		timeout:  "The AI analysis timed out. Please try again later.",
	},
}

func catalogFor(lang Language) messages {
	if m, ok := catalog[lang]; ok {
		return m
	}
	return catalog[LanguageZhTW]
}

// FallbackMessage is shown when the generator fails or returns nothing.
func FallbackMessage(lang Language) string { return catalogFor(lang).fallback }

// TimeoutMessage is shown when the generator does not answer in time.
func TimeoutMessage(lang Language) string { return catalogFor(lang).timeout }

// BuildPrompt embeds the JSON-encoded tasks in the analysis instructions.
func BuildPrompt(tasks []domain.Task, lang Language) (string, error) {
	payload := domain.CloneTasks(tasks)
	for i := range payload {
		if payload[i].Dependencies == nil {
			payload[i].Dependencies = []string{}
		}
	}
	data, err := sonic.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode tasks: %w", err)
	}
	return fmt.Sprintf(catalogFor(lang).prompt, data), nil
}
