// Package connectors 汇总内置连接器的构造函数。
package connectors

import (
	"DeafFirst-Hub/internal/connectors/apiconn"
	"DeafFirst-Hub/internal/connectors/asl"
	"DeafFirst-Hub/internal/connectors/data"
	"DeafFirst-Hub/internal/connectors/video"
	"DeafFirst-Hub/pkg/plugin"
)

// NewCatalog 返回包含所有内置提供方的 catalog。
func NewCatalog() (*plugin.Catalog, error) {
	catalog := plugin.NewCatalog()
	for _, register := range []func(*plugin.Catalog) error{
		apiconn.Register,
		video.Register,
		asl.Register,
		data.Register,
	} {
		if err := register(catalog); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}
