package danger

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed keywords.yaml
var defaultKeywords []byte

// Category 是危险关键词所属的类别。
type Category string

const (
	Weapons   Category = "weapons"
	Poison    Category = "poison"
	Jailbreak Category = "jailbreak"
	Override  Category = "override"
)

// Hit 描述一次关键词命中。
type Hit struct {
	Category Category
	Keyword  string
}

type bucket struct {
	Name     Category `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

type keywordFile struct {
	Categories []bucket `yaml:"categories"`
}

// Detector 按类别顺序做不区分大小写的子串匹配。
type Detector struct {
	buckets []bucket
}

// New 使用内置关键词表构建检测器。
func New() (*Detector, error) {
	return Parse(defaultKeywords)
}

// MustNew 与 New 相同，内置关键词表无效时 panic。
func MustNew() *Detector {
	d, err := New()
	if err != nil {
		panic(err)
	}
	return d
}

// LoadFile 从 YAML 文件加载关键词表；path 为空时使用内置关键词。
func LoadFile(path string) (*Detector, error) {
	if path == "" {
		return New()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read danger keywords: %w", err)
	}
	return Parse(data)
}

// Parse 解析关键词表，关键词统一转为小写。
func Parse(data []byte) (*Detector, error) {
	var file keywordFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal danger keywords: %w", err)
	}

	buckets := make([]bucket, 0, len(file.Categories))
	total := 0
	for _, b := range file.Categories {
		normalized := make([]string, 0, len(b.Keywords))
		for _, word := range b.Keywords {
			word = strings.ToLower(strings.TrimSpace(word))
			if word == "" {
				continue
			}
			normalized = append(normalized, word)
		}
		total += len(normalized)
		buckets = append(buckets, bucket{Name: b.Name, Keywords: normalized})
	}
	if total == 0 {
		return nil, fmt.Errorf("danger keywords: no keywords defined")
	}

	return &Detector{buckets: buckets}, nil
}

// Detect 返回第一个命中的关键词。
func (d *Detector) Detect(text string) (Hit, bool) {
	normalized := strings.ToLower(text)
	if strings.TrimSpace(normalized) == "" {
		return Hit{}, false
	}

	for _, b := range d.buckets {
		for _, word := range b.Keywords {
			if strings.Contains(normalized, word) {
				return Hit{Category: b.Name, Keyword: word}, true
			}
		}
	}
	return Hit{}, false
}
