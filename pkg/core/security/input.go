package security

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ValidateInput 校验并清洗输入
// 超过 MaxRequestSize 直接拒绝；字符串叶子节点做HTML转义；
// 提供 schema 时做浅层类型与必填检查并收集全部问题；
// 可疑内容只产生警告与安全事件，不阻断
func (m *Manager) ValidateInput(data interface{}, schema *InputSchema) ValidationResult {
	result := ValidationResult{Valid: true}

	raw, err := marshalRaw(data)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("输入无法序列化: %v", err))
		return result
	}
	if len(raw) > m.cfg.MaxRequestSize {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("请求体大小 %d 字节超过上限 %d 字节", len(raw), m.cfg.MaxRequestSize))
		return result
	}

	sanitized, changed := sanitize(data)
	result.Sanitized = sanitized
	if changed {
		result.Warnings = append(result.Warnings, "输入包含HTML特殊字符，已转义")
	}

	if schema != nil {
		if problems := schema.check(data); len(problems) > 0 {
			result.Valid = false
			result.Errors = append(result.Errors, problems...)
		}
	}

	if findings := m.scanner.Scan(string(raw), data); len(findings) > 0 {
		result.Warnings = append(result.Warnings, findings...)
		m.CreateSecurityEvent(SecurityEvent{
			Type:        EventSuspiciousInput,
			Severity:    SeverityMedium,
			Resource:    "input",
			Description: "输入中检测到可疑内容",
			Details:     map[string]interface{}{"findings": findings},
		})
	}
	return result
}

// marshalRaw 序列化时不转义 <>&，便于关键字扫描
func marshalRaw(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// sanitize 递归转义字符串叶子节点，返回新值与是否有改动
func sanitize(v interface{}) (interface{}, bool) {
	switch val := v.(type) {
	case string:
		escaped := html.EscapeString(val)
		return escaped, escaped != val
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		changed := false
		for k, item := range val {
			s, c := sanitize(item)
			out[k] = s
			changed = changed || c
		}
		return out, changed
	case []interface{}:
		out := make([]interface{}, len(val))
		changed := false
		for i, item := range val {
			s, c := sanitize(item)
			out[i] = s
			changed = changed || c
		}
		return out, changed
	case []string:
		out := make([]interface{}, len(val))
		changed := false
		for i, item := range val {
			s, c := sanitize(item)
			out[i] = s
			changed = changed || c
		}
		return out, changed
	default:
		return v, false
	}
}

// check 浅层检查：必填字段与一级字段类型
func (s *InputSchema) check(data interface{}) []string {
	obj, ok := data.(map[string]interface{})
	if !ok {
		return []string{"输入必须是对象"}
	}

	var problems []string
	for _, field := range s.Required {
		if _, exists := obj[field]; !exists {
			problems = append(problems, fmt.Sprintf("缺少必填字段 %s", field))
		}
	}

	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value, exists := obj[name]
		if !exists {
			continue
		}
		want := s.Properties[name].Type
		if want != "" && !matchesType(value, want) {
			problems = append(problems, fmt.Sprintf("字段 %s 类型应为 %s，实际为 %s", name, want, jsonType(value)))
		}
	}
	return problems
}

func matchesType(v interface{}, want string) bool {
	got := jsonType(v)
	if want == "number" && got == "integer" {
		return true
	}
	return got == want
}

func jsonType(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		if val == float64(int64(val)) {
			return "integer"
		}
		return "number"
	case float32:
		return "number"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return "integer"
	case map[string]interface{}:
		return "object"
	case []interface{}, []string:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// InputScanner 可疑输入扫描：关键字正则匹配序列化文本，goquery 解析字符串中的HTML
type InputScanner struct {
	patterns []scanPattern
}

type scanPattern struct {
	name string
	re   *regexp.Regexp
}

// NewInputScanner 创建扫描器
func NewInputScanner() *InputScanner {
	return &InputScanner{patterns: []scanPattern{
		{"sql_injection", regexp.MustCompile(`(?i)(\bunion\s+(all\s+)?select\b|\bdrop\s+table\b|\binsert\s+into\b|\bdelete\s+from\b|\bor\s+'?1'?\s*=\s*'?1\b|;\s*--)`)},
		{"script_injection", regexp.MustCompile(`(?i)(<\s*script\b|javascript\s*:|\bon(load|error|click|mouseover)\s*=)`)},
		{"command_injection", regexp.MustCompile(`(?i)((;|\|\||&&|\|)\s*(rm|cat|wget|curl|bash|sh|nc|chmod)\b|\$\([^)]*\)|` + "`" + `[^` + "`" + `]+` + "`" + `)`)},
	}}
}

// Scan 返回发现的问题描述
func (s *InputScanner) Scan(serialized string, data interface{}) []string {
	var findings []string
	for _, p := range s.patterns {
		if p.re.MatchString(serialized) {
			findings = append(findings, fmt.Sprintf("检测到可疑模式: %s", p.name))
		}
	}
	findings = append(findings, scanHTML(data)...)
	return findings
}

// scanHTML 对含有标签的字符串做HTML解析，查找危险元素与事件属性
func scanHTML(v interface{}) []string {
	var findings []string
	seen := make(map[string]bool)
	walkStrings(v, func(s string) {
		if !strings.Contains(s, "<") {
			return
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
		if err != nil {
			return
		}
		doc.Find("script, iframe, object, embed").Each(func(_ int, sel *goquery.Selection) {
			msg := fmt.Sprintf("检测到HTML元素 <%s>", goquery.NodeName(sel))
			if !seen[msg] {
				seen[msg] = true
				findings = append(findings, msg)
			}
		})
		doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
			for _, node := range sel.Nodes {
				for _, attr := range node.Attr {
					if strings.HasPrefix(strings.ToLower(attr.Key), "on") {
						msg := fmt.Sprintf("检测到事件属性 %s", attr.Key)
						if !seen[msg] {
							seen[msg] = true
							findings = append(findings, msg)
						}
					}
				}
			}
		})
	})
	return findings
}

func walkStrings(v interface{}, fn func(string)) {
	switch val := v.(type) {
	case string:
		fn(val)
	case map[string]interface{}:
		for _, item := range val {
			walkStrings(item, fn)
		}
	case []interface{}:
		for _, item := range val {
			walkStrings(item, fn)
		}
	case []string:
		for _, item := range val {
			fn(item)
		}
	}
}
