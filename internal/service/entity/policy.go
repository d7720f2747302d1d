package entity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/securag/securag/internal/model/guard"
)

// DefaultThreshold 是实体被视为高风险的最低置信度（不含）。
const DefaultThreshold = 0.6

// Policy 决定识别结果如何影响请求。默认只告警，Enforce 时拦截。
type Policy struct {
	Threshold float64
	Enforce   bool
}

// Risky 返回置信度高于阈值的实体。
func (p Policy) Risky(entities []Entity) []Entity {
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	var risky []Entity
	for _, e := range entities {
		if e.Score > threshold {
			risky = append(risky, e)
		}
	}
	return risky
}

// Evaluate 把识别结果转为护栏判定，Reason 只列出实体类型。
func (p Policy) Evaluate(entities []Entity) guard.Decision {
	risky := p.Risky(entities)
	if len(risky) == 0 {
		return guard.Allowed(guard.StageEntity, "no_risky_entity")
	}

	reason := fmt.Sprintf("risky_entities:%s", strings.Join(Types(risky), ","))
	if p.Enforce {
		return guard.Blocking(guard.StageEntity, reason)
	}
	return guard.Allowed(guard.StageEntity, reason)
}

// Types 返回去重排序后的实体类型。
func Types(entities []Entity) []string {
	seen := make(map[string]struct{}, len(entities))
	var types []string
	for _, e := range entities {
		if _, ok := seen[e.Type]; ok {
			continue
		}
		seen[e.Type] = struct{}{}
		types = append(types, e.Type)
	}
	sort.Strings(types)
	return types
}
