package verdict

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Safety 是防火墙分类结果。
type Safety string

const (
	Safe   Safety = "SAFE"
	Unsafe Safety = "UNSAFE"
)

// Intent 是路由分类结果。
type Intent string

const (
	Search Intent = "SEARCH"
	Chat   Intent = "CHAT"
)

var (
	validate = validator.New()

	thinkBlock  = regexp.MustCompile(`(?is)<think>.*?</think>`)
	tokenTrim   = " \t\r\n.。!！`'\"*"
	labelPrefix = regexp.MustCompile(`(?i)^(verdict|answer|output|result|intent|classification)\s*[:：]\s*`)
)

type safetyPayload struct {
	Verdict string `json:"verdict" validate:"required,oneof=SAFE UNSAFE"`
}

type intentPayload struct {
	Intent string `json:"intent" validate:"required,oneof=SEARCH CHAT"`
}

// StripThink 去掉推理模型输出的 <think> 块；未闭合的块从起始标签处截断。
func StripThink(raw string) string {
	out := thinkBlock.ReplaceAllString(raw, "")
	if idx := strings.LastIndex(strings.ToLower(out), "</think>"); idx >= 0 {
		out = out[idx+len("</think>"):]
	}
	if idx := strings.Index(strings.ToLower(out), "<think>"); idx >= 0 {
		out = out[:idx]
	}
	return strings.TrimSpace(out)
}

// normalize 去掉推理块后转为大写并去掉首尾空白。
func normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(StripThink(raw)))
}

// bareToken 尝试把输出视为单个标签，例如 "Verdict: SAFE."。
func bareToken(cleaned string) string {
	token := labelPrefix.ReplaceAllString(cleaned, "")
	return strings.Trim(token, tokenTrim)
}

// jsonObject 只在整个输出就是一个 JSON 对象时返回它，夹杂其他文本的输出走包含规则。
func jsonObject(cleaned string) (string, bool) {
	cleaned = strings.TrimSpace(strings.Trim(cleaned, "`"))
	cleaned = strings.TrimSpace(strings.TrimPrefix(cleaned, "JSON"))
	if !strings.HasPrefix(cleaned, "{") || !strings.HasSuffix(cleaned, "}") {
		return "", false
	}
	return cleaned, true
}

// ParseSafety 解析防火墙输出。strict 为 true 表示输出是合法的枚举值（裸标签或 JSON），
// 否则按包含规则兜底：缺少 SAFE 或出现 UNSAFE 即判为 UNSAFE。
func ParseSafety(raw string) (result Safety, strict bool) {
	cleaned := normalize(raw)

	switch Safety(bareToken(cleaned)) {
	case Safe:
		return Safe, true
	case Unsafe:
		return Unsafe, true
	}

	if obj, ok := jsonObject(cleaned); ok {
		var payload safetyPayload
		if json.Unmarshal([]byte(obj), &payload) == nil && validate.Struct(payload) == nil {
			return Safety(payload.Verdict), true
		}
	}

	if !strings.Contains(cleaned, string(Safe)) || strings.Contains(cleaned, string(Unsafe)) {
		return Unsafe, false
	}
	return Safe, false
}

// ParseIntent 解析路由输出。兜底规则：包含 SEARCH 即为 SEARCH，其余一律为 CHAT。
func ParseIntent(raw string) (result Intent, strict bool) {
	cleaned := normalize(raw)

	switch Intent(bareToken(cleaned)) {
	case Search:
		return Search, true
	case Chat:
		return Chat, true
	}

	if obj, ok := jsonObject(cleaned); ok {
		var payload intentPayload
		if json.Unmarshal([]byte(obj), &payload) == nil && validate.Struct(payload) == nil {
			return Intent(payload.Intent), true
		}
	}

	if strings.Contains(cleaned, string(Search)) {
		return Search, false
	}
	return Chat, false
}
