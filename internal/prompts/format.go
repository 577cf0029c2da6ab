// internal/prompts/format.go
package prompts

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/Corphon/SceneDirector/internal/errors"
)

// Bindings 模板变量
type Bindings map[string]string

// Format 替换模板中的 {name} 占位符。{{ 和 }} 输出字面量大括号。
// 模板引用了未绑定的变量时返回配置错误。
func Format(template string, bindings Bindings) (string, error) {
	var sb strings.Builder
	sb.Grow(len(template))

	var missing []string
	for i := 0; i < len(template); i++ {
		c := template[i]
		switch c {
		case '{':
			if i+1 < len(template) && template[i+1] == '{' {
				sb.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(template[i+1:], '}')
			if end < 0 {
				return "", apperrors.NewConfigurationError(fmt.Sprintf("unterminated placeholder at offset %d", i), nil)
			}
			name := template[i+1 : i+1+end]
			if !isIdentifier(name) {
				return "", apperrors.NewConfigurationError(fmt.Sprintf("invalid placeholder %q at offset %d", name, i), nil)
			}
			value, ok := bindings[name]
			if !ok {
				missing = append(missing, name)
			}
			sb.WriteString(value)
			i += end + 1
		case '}':
			if i+1 < len(template) && template[i+1] == '}' {
				i++
			}
			sb.WriteByte('}')
		default:
			sb.WriteByte(c)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return "", apperrors.NewConfigurationError(fmt.Sprintf("prompt template references unbound variables: %s", strings.Join(dedupe(missing), ", ")), nil)
	}
	return sb.String(), nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
