package channels

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"hookforms/backend/internal/domain"
)

// DefaultMaxLen 字段值默认的最大展示长度
const DefaultMaxLen = 300

const listItemMaxLen = 80

// displayKeys 从对象中提取展示名称时按顺序查找的键
var displayKeys = []string{
	"full_name", "name", "login", "title", "label",
	"email", "html_url", "url", "id",
}

// FormatValue 把任意字段值转换为可读文本
func FormatValue(v any, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	switch val := v.(type) {
	case nil:
		return ""
	case []any:
		return formatList(val, maxLen)
	case map[string]any:
		return formatObject(func(k string) (any, bool) {
			x, ok := val[k]
			return x, ok
		}, val, maxLen)
	case *domain.Payload:
		return formatObject(val.Get, val, maxLen)
	default:
		return primitiveString(val)
	}
}

func formatList(list []any, maxLen int) string {
	if len(list) == 0 {
		return "(empty)"
	}
	items := make([]string, 0, len(list))
	allPrimitive := true
	for _, item := range list {
		if !isPrimitive(item) {
			allPrimitive = false
			break
		}
	}
	for _, item := range list {
		if allPrimitive {
			items = append(items, primitiveString(item))
		} else {
			items = append(items, FormatValue(item, listItemMaxLen))
		}
	}
	joined := strings.Join(items, ", ")
	if allPrimitive {
		return joined
	}
	return truncate(joined, maxLen)
}

func formatObject(get func(string) (any, bool), raw any, maxLen int) string {
	for _, k := range displayKeys {
		if x, ok := get(k); ok && x != nil && isPrimitive(x) {
			return primitiveString(x)
		}
	}
	dumped, err := json.Marshal(raw)
	if err != nil {
		return "[complex value]"
	}
	return truncate(string(dumped), maxLen)
}

func isPrimitive(v any) bool {
	switch v.(type) {
	case []any, map[string]any, *domain.Payload:
		return false
	}
	return true
}

func primitiveString(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	default:
		return fmt.Sprint(val)
	}
}

func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}

// cut 截断到 n 个字符，不追加省略号
func cut(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Truthy 判断字段值是否应当展示：nil、空字符串、0、false、空列表和空对象都不展示
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case bool:
		return val
	case json.Number:
		f, err := val.Float64()
		return err != nil || f != 0
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	case *domain.Payload:
		return val.Len() > 0
	}
	return true
}

// Label 把字段名转换为标题：下划线替换为空格，每个单词首字母大写
func Label(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	prevLetter := false
	for _, r := range strings.ReplaceAll(key, "_", " ") {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToTitle(r))
			}
			prevLetter = true
			continue
		}
		prevLetter = false
		b.WriteRune(r)
	}
	return b.String()
}
