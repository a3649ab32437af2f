package command

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Topic 是自然语言兜底匹配使用的关键词与类别。
type Topic struct {
	Keyword  string `json:"keyword"`
	Category string `json:"category"`
	Reply    string `json:"reply,omitempty"`
}

// DefaultTopics 返回内置的关键词表，顺序即匹配优先级。
func DefaultTopics() []Topic {
	return []Topic{
		{Keyword: "tax", Category: "tax_related"},
		{Keyword: "refund", Category: "refund_status"},
		{Keyword: "insurance", Category: "insurance_related"},
		{Keyword: "financial", Category: "financial_planning"},
		{Keyword: "help", Category: "general_help"},
		{Keyword: "support", Category: "customer_support"},
	}
}

// LoadTopics 从 JSON 文件加载关键词表。
func LoadTopics(path string) ([]Topic, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("关键词表路径不能为空")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析关键词表路径失败: %w", err)
	}
	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取关键词表失败: %w", err)
	}
	defer file.Close()

	var topics []Topic
	if err := json.NewDecoder(file).Decode(&topics); err != nil {
		return nil, fmt.Errorf("解析关键词表失败: %w", err)
	}
	for i, t := range topics {
		if strings.TrimSpace(t.Keyword) == "" || strings.TrimSpace(t.Category) == "" {
			return nil, fmt.Errorf("关键词表第 %d 项缺少 keyword 或 category", i)
		}
	}
	return topics, nil
}

func matchTopic(topics []Topic, text string) (Topic, bool) {
	text = strings.ToLower(text)
	for _, t := range topics {
		keyword := strings.ToLower(strings.TrimSpace(t.Keyword))
		if keyword == "" {
			continue
		}
		if strings.Contains(text, keyword) {
			return t, true
		}
	}
	return Topic{}, false
}
