package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Export 导出全部配置，format 为 json 或 yaml
func (m *Manager) Export(format string) ([]byte, error) {
	configs := m.List()
	switch strings.ToLower(format) {
	case "", "json":
		data, err := json.MarshalIndent(configs, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("导出JSON失败: %w", err)
		}
		return data, nil
	case "yaml", "yml":
		data, err := yaml.Marshal(configs)
		if err != nil {
			return nil, fmt.Errorf("导出YAML失败: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// ImportResult 导入结果
type ImportResult struct {
	Added   []string `json:"added"`
	Updated []string `json:"updated"`
}

// Import 导入配置：先整体校验，全部合法才写入；已存在的执行更新，不存在的新增
func (m *Manager) Import(ctx context.Context, data []byte, format string) (*ImportResult, error) {
	if format == "" {
		format = "json"
	}
	var configs []*WorkflowConfig
	if err := decode(data, format, &configs); err != nil {
		return nil, err
	}

	var problems []string
	seen := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		if err := Validate(cfg); err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if seen[cfg.Key()] {
			problems = append(problems, fmt.Sprintf("重复的配置 %s", cfg.Key()))
		}
		seen[cfg.Key()] = true
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Key: "import", Problems: problems}
	}

	result := &ImportResult{}
	for _, cfg := range configs {
		err := m.Add(ctx, cfg)
		switch {
		case err == nil:
			result.Added = append(result.Added, cfg.Key())
		case errors.Is(err, ErrConfigExists):
			if err := m.Update(ctx, cfg); err != nil {
				return result, err
			}
			result.Updated = append(result.Updated, cfg.Key())
		default:
			return result, err
		}
	}
	return result, nil
}
