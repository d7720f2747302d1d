package injection

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatterns []byte

type patternFile struct {
	Patterns []string `yaml:"patterns"`
}

type rule struct {
	pattern string
	re      *regexp.Regexp
}

// RuleSet 是确定性的注入短语匹配器，不依赖任何外部调用。
type RuleSet struct {
	rules []rule
}

// New 使用内置短语表构建规则集。
func New() (*RuleSet, error) {
	return Parse(defaultPatterns)
}

// MustNew 与 New 相同，内置规则无效时 panic。
func MustNew() *RuleSet {
	rs, err := New()
	if err != nil {
		panic(err)
	}
	return rs
}

// LoadFile 从 YAML 文件加载短语表；path 为空时使用内置规则。
func LoadFile(path string) (*RuleSet, error) {
	if path == "" {
		return New()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read injection rules: %w", err)
	}
	return Parse(data)
}

// Parse 解析并编译短语表，所有模式统一小写后按不区分大小写匹配。
func Parse(data []byte) (*RuleSet, error) {
	var file patternFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal injection rules: %w", err)
	}
	if len(file.Patterns) == 0 {
		return nil, fmt.Errorf("injection rules: no patterns defined")
	}

	rules := make([]rule, 0, len(file.Patterns))
	for _, p := range file.Patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile injection pattern %q: %w", p, err)
		}
		rules = append(rules, rule{pattern: p, re: re})
	}
	return &RuleSet{rules: rules}, nil
}

// Match 返回首个命中的模式。
func (r *RuleSet) Match(text string) (string, bool) {
	lowered := strings.ToLower(text)
	for _, rl := range r.rules {
		if rl.re.MatchString(lowered) {
			return rl.pattern, true
		}
	}
	return "", false
}

// IsInjection 报告文本是否包含已知注入短语。
func (r *RuleSet) IsInjection(text string) bool {
	_, ok := r.Match(text)
	return ok
}

// Patterns 按匹配顺序返回模式列表。
func (r *RuleSet) Patterns() []string {
	out := make([]string, 0, len(r.rules))
	for _, rl := range r.rules {
		out = append(out, rl.pattern)
	}
	return out
}
