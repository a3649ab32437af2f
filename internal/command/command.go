package command

import (
	"strings"
	"unicode"
)

// Command 是从一条原始指令推导出的结构化命令，创建后不再修改。
type Command struct {
	Raw        string         `json:"raw"`
	Verb       string         `json:"verb,omitempty"`
	Domain     string         `json:"domain,omitempty"`
	Subcommand string         `json:"subcommand,omitempty"`
	FreeText   string         `json:"free_text,omitempty"`
	UserID     string         `json:"user_id"`
	Platform   string         `json:"platform"`
	Context    map[string]any `json:"context,omitempty"`
}

// Parse 解析原始文本。以 "/" 开头的文本拆分为动词与其余部分，领域动词后的
// 内容作为子命令；其他文本整体作为自由文本。动词大小写不敏感。
func Parse(raw, userID, platform string, ctx map[string]any) Command {
	cmd := Command{
		Raw:      raw,
		UserID:   userID,
		Platform: platform,
		Context:  copyContext(ctx),
	}
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "/") {
		cmd.FreeText = text
		return cmd
	}

	body := strings.TrimSpace(text[1:])
	verb, rest := body, ""
	if i := strings.IndexFunc(body, unicode.IsSpace); i >= 0 {
		verb, rest = body[:i], strings.TrimSpace(body[i:])
	}
	cmd.Verb = strings.ToLower(verb)
	if rest == "" {
		return cmd
	}
	if _, ok := domainByName(cmd.Verb); ok {
		cmd.Domain = cmd.Verb
		cmd.Subcommand = strings.Join(strings.Fields(strings.ToLower(rest)), " ")
		return cmd
	}
	cmd.FreeText = rest
	return cmd
}

// normalized 统一动词、领域与子命令的大小写和空白，供直接构造的 Command 使用。
func (c Command) normalized() Command {
	c.Verb = strings.ToLower(strings.TrimSpace(c.Verb))
	c.Domain = strings.ToLower(strings.TrimSpace(c.Domain))
	c.Subcommand = strings.Join(strings.Fields(strings.ToLower(c.Subcommand)), " ")
	return c
}

// query 返回命令附带的查询文本，优先使用自由文本，其次是上下文中的 query。
func (c Command) query() string {
	if q := strings.TrimSpace(c.FreeText); q != "" && c.Verb != "" {
		return q
	}
	if q, ok := c.Context["query"].(string); ok {
		return strings.TrimSpace(q)
	}
	return ""
}

// text 返回用于关键词匹配的文本。
func (c Command) text() string {
	switch {
	case strings.TrimSpace(c.Raw) != "":
		return c.Raw
	case c.FreeText != "":
		return c.FreeText
	default:
		return strings.TrimSpace(c.Verb + " " + c.Subcommand)
	}
}

func copyContext(ctx map[string]any) map[string]any {
	if len(ctx) == 0 {
		return nil
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		out[k] = v
	}
	return out
}
