package omnierr

import "strings"

// Render expands a message template in one left-to-right pass:
//
//	{{      -> {
//	}}      -> }
//	{name}  -> fields[name], or nothing when unset
//
// A lone "{" with no closing brace and a lone "}" are copied as-is, and
// scanning resumes after them.
func Render(template string, fields map[string]string) string {
	var b strings.Builder
	b.Grow(len(template))
	for i := 0; i < len(template); {
		c := template[i]
		switch c {
		case '{':
			if i+1 < len(template) && template[i+1] == '{' {
				b.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(template[i+1:], '}')
			if end < 0 {
				b.WriteByte('{')
				i++
				continue
			}
			b.WriteString(fields[template[i+1:i+1+end]])
			i += end + 2
		case '}':
			b.WriteByte('}')
			if i+1 < len(template) && template[i+1] == '}' {
				i += 2
			} else {
				i++
			}
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}
