package sanitize

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatterns []byte

// Rule 是一条有序的脱敏替换规则。
type Rule struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
	// DigitBoundary 为 true 时只接受前后都不是数字的命中。
	DigitBoundary bool `yaml:"digit_boundary"`

	re *regexp.Regexp
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Finding 记录某条规则在文本中命中的次数。
type Finding struct {
	Rule  string
	Count int
}

// Filter 按固定顺序对文本中的结构化 PII 做替换。
type Filter struct {
	rules []Rule
}

// New 使用内置规则构建过滤器。
func New() (*Filter, error) {
	return Parse(defaultPatterns)
}

// MustNew 与 New 相同，内置规则无效时 panic。
func MustNew() *Filter {
	f, err := New()
	if err != nil {
		panic(err)
	}
	return f
}

// LoadFile 从 YAML 文件加载规则；path 为空时回退到内置规则。
func LoadFile(path string) (*Filter, error) {
	if path == "" {
		return New()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sanitize rules: %w", err)
	}
	return Parse(data)
}

// Parse 解析并编译规则。替换文本本身不能再被任何规则命中，否则结果不再幂等。
func Parse(data []byte) (*Filter, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal sanitize rules: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("sanitize rules: no rules defined")
	}

	for i := range file.Rules {
		re, err := regexp.Compile(file.Rules[i].Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile rule %q: %w", file.Rules[i].Name, err)
		}
		file.Rules[i].re = re
	}

	for _, rule := range file.Rules {
		for _, other := range file.Rules {
			if other.re.MatchString(rule.Replacement) {
				return nil, fmt.Errorf("replacement of rule %q is matched by rule %q", rule.Name, other.Name)
			}
		}
	}

	return &Filter{rules: file.Rules}, nil
}

// maxPasses 限制重复应用规则的轮数。
const maxPasses = 8

// Sanitize 依次应用所有规则，直到文本不再变化。
// 替换可能在相邻位置制造新的边界，所以单轮替换不足以保证幂等。
func (f *Filter) Sanitize(text string) string {
	out, _ := f.apply(text)
	return out
}

// Findings 报告哪些规则命中，用于提示性日志。
func (f *Filter) Findings(text string) []Finding {
	_, counts := f.apply(text)

	var findings []Finding
	for _, rule := range f.rules {
		if n := counts[rule.Name]; n > 0 {
			findings = append(findings, Finding{Rule: rule.Name, Count: n})
		}
	}
	return findings
}

func (f *Filter) apply(text string) (string, map[string]int) {
	counts := make(map[string]int)
	for pass := 0; pass < maxPasses; pass++ {
		changed := false
		for _, rule := range f.rules {
			replaced, n := rule.replace(text)
			if n == 0 {
				continue
			}
			counts[rule.Name] += n
			text = replaced
			changed = true
		}
		if !changed {
			break
		}
	}
	return text, counts
}

// replace 替换全部命中并返回命中次数。
func (r *Rule) replace(text string) (string, int) {
	if !r.DigitBoundary {
		n := len(r.re.FindAllStringIndex(text, -1))
		if n == 0 {
			return text, 0
		}
		return r.re.ReplaceAllLiteralString(text, r.Replacement), n
	}

	var (
		b     strings.Builder
		count int
		last  int
		pos   int
	)
	for pos < len(text) {
		loc := r.re.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if end == start || isDigitAt(text, start-1) || isDigitAt(text, end) {
			// 被拒绝的命中可能与合法命中重叠，从下一个字符重新搜索
			_, size := utf8.DecodeRuneInString(text[start:])
			pos = start + max(size, 1)
			continue
		}

		b.WriteString(text[last:start])
		b.WriteString(r.Replacement)
		last, pos = end, end
		count++
	}
	if count == 0 {
		return text, 0
	}
	b.WriteString(text[last:])
	return b.String(), count
}

func isDigitAt(text string, i int) bool {
	return i >= 0 && i < len(text) && text[i] >= '0' && text[i] <= '9'
}

// Rules 返回规则名称，按执行顺序。
func (f *Filter) Rules() []string {
	names := make([]string, 0, len(f.rules))
	for _, rule := range f.rules {
		names = append(names, rule.Name)
	}
	return names
}
