package command

import (
	"context"
	"fmt"

	"DeafFirst-Hub/pkg/plugin"
)

// Executor 是命令协作方依赖的连接器执行接口，由 plugin.Registry 实现。
type Executor interface {
	Execute(ctx context.Context, t plugin.CapabilityType, name string, req plugin.Request) (*plugin.Result, error)
}

// ConnectorRefundLookup 通过 API 连接器的 refund_status 接口查询退税状态。
type ConnectorRefundLookup struct {
	Executor Executor
	Name     string
}

// RefundStatus 实现 RefundLookup。
func (l ConnectorRefundLookup) RefundStatus(ctx context.Context, userID string) (map[string]any, error) {
	res, err := l.Executor.Execute(ctx, plugin.TypeAPIConnector, l.Name, plugin.APIRequest{
		Endpoint: "refund_status",
		Params:   map[string]string{"user_id": userID},
	})
	if err != nil {
		return nil, err
	}
	resp, ok := res.Output.(*plugin.APIResponse)
	if !ok {
		return nil, fmt.Errorf("连接器 %s 返回了未知结果类型 %T", l.Name, res.Output)
	}
	return resp.Body, nil
}

// ConnectorSearcher 通过数据连接器的 search 动作检索。
type ConnectorSearcher struct {
	Executor Executor
	Name     string
}

// Search 实现 Searcher。
func (s ConnectorSearcher) Search(ctx context.Context, query string, limit int) ([]map[string]any, error) {
	res, err := s.Executor.Execute(ctx, plugin.TypeDataConnector, s.Name, plugin.Action{
		Type:  plugin.TypeDataConnector,
		Name:  "search",
		Input: map[string]any{"query": query, "limit": limit},
	})
	if err != nil {
		return nil, err
	}
	out, ok := res.Output.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("连接器 %s 返回了未知结果类型 %T", s.Name, res.Output)
	}
	records, _ := out["records"].([]map[string]any)
	return records, nil
}
