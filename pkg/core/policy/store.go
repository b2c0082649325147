package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// backupDirName 更新前快照所在的子目录
const backupDirName = "backups"

// isDescriptorFile 只识别 .json/.yaml/.yml，忽略隐藏文件与写入中的临时文件
func isDescriptorFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// readDescriptor 读取并校验单个描述文件
func readDescriptor(path string) (*WorkflowConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	format := "json"
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		format = "yaml"
	}

	var cfg WorkflowConfig
	if err := decode(data, format, &cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// writeDescriptor 以缩进JSON写入，先写临时文件再改名，避免热加载读到半个文件
func writeDescriptor(path string, cfg *WorkflowConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("替换配置文件失败: %w", err)
	}
	return nil
}

// backup 将旧配置写入 backups/{id}-{version}-{时间戳}.json，返回备份路径
func (m *Manager) backup(cfg *WorkflowConfig) (string, error) {
	stamp := m.now().UTC().Format("20060102T150405.000000000Z")
	name := fmt.Sprintf("%s-%s-%s.json", cfg.ID, cfg.Version, stamp)
	path := filepath.Join(m.cfg.Dir, backupDirName, name)
	if err := writeDescriptor(path, cfg); err != nil {
		return "", fmt.Errorf("备份配置 %s 失败: %w", cfg.Key(), err)
	}
	return path, nil
}

// Backups 列出某个配置的全部备份文件，按时间升序
func (m *Manager) Backups(id, version string) ([]string, error) {
	dir := filepath.Join(m.cfg.Dir, backupDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取备份目录失败: %w", err)
	}
	prefix := id + "-" + version + "-"
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func decode(data []byte, format string, v interface{}) error {
	switch strings.ToLower(format) {
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("解析JSON失败: %w", err)
		}
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("解析YAML失败: %w", err)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return nil
}

// computeDiff 比较两份配置的顶层字段（以json字段名表示）
func computeDiff(prev, next *WorkflowConfig) Diff {
	before := toFieldMap(prev)
	after := toFieldMap(next)

	var d Diff
	for k, v := range after {
		old, ok := before[k]
		switch {
		case !ok:
			d.Added = append(d.Added, k)
		case !reflect.DeepEqual(old, v):
			d.Modified = append(d.Modified, k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			d.Removed = append(d.Removed, k)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Modified)
	sort.Strings(d.Removed)
	return d
}

func toFieldMap(cfg *WorkflowConfig) map[string]interface{} {
	out := make(map[string]interface{})
	if cfg == nil {
		return out
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}
