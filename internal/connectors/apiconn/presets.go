package apiconn

import (
	"DeafFirst-Hub/pkg/plugin"
)

type preset struct {
	baseURL          string
	endpoints        map[string]Endpoint
	requireEndpoints bool
}

// 预置的金融数据与税务服务连接器。
var presets = map[string]preset{
	"rest": {},
	"bloomberg": {
		baseURL: "https://api.bloomberg.com",
		endpoints: map[string]Endpoint{
			"market_data": {Method: "GET", Path: "/market-data/v1/securities"},
			"terminology": {Method: "GET", Path: "/terminology/v1/terms/{term}"},
		},
	},
	"turbotax": {
		baseURL: "https://api.intuit.com",
		endpoints: map[string]Endpoint{
			"tax_data":      {Method: "GET", Path: "/tax/v1/users/{user_id}/data"},
			"submit_return": {Method: "POST", Path: "/tax/v1/returns"},
			"refund_status": {Method: "GET", Path: "/tax/v1/users/{user_id}/refund"},
		},
	},
	"bank": {
		endpoints: map[string]Endpoint{
			"accounts":     {Method: "GET", Path: "/accounts/v1/customers/{customer_id}/accounts"},
			"transactions": {Method: "GET", Path: "/transactions/v1/accounts/{account_id}"},
		},
	},
	"custom": {requireEndpoints: true},
}

// Providers 返回支持的预置名称。
func Providers() []string {
	return []string{"rest", "bloomberg", "turbotax", "bank", "custom"}
}

// Constructor 返回指定预置的构造函数；预置的默认值只补齐未配置的字段。
func Constructor(name string) plugin.Constructor {
	return func(raw map[string]any) (plugin.Connector, error) {
		var cfg Config
		if err := plugin.DecodeConfig(raw, &cfg); err != nil {
			return nil, err
		}
		p := presets[name]
		if cfg.BaseURL == "" {
			cfg.BaseURL = p.baseURL
		}
		if len(p.endpoints) > 0 {
			merged := make(map[string]Endpoint, len(p.endpoints)+len(cfg.Endpoints))
			for k, v := range p.endpoints {
				merged[k] = v
			}
			for k, v := range cfg.Endpoints {
				merged[k] = v
			}
			cfg.Endpoints = merged
		}
		return New(name, cfg), nil
	}
}

// Register 将所有预置加入 catalog。
func Register(catalog *plugin.Catalog) error {
	for _, name := range Providers() {
		if err := catalog.Add(plugin.TypeAPIConnector, name, Constructor(name)); err != nil {
			return err
		}
	}
	return nil
}
