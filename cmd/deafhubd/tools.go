package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"DeafFirst-Hub/internal/auth"
	"DeafFirst-Hub/internal/command"
	"DeafFirst-Hub/pkg/logger"
	"DeafFirst-Hub/sdk/go/deafhub"
)

func newResolveCommand(load loader) *cobra.Command {
	var userID, platform string
	cmd := &cobra.Command{
		Use:   "resolve <command text>",
		Short: "在本地解析一条命令并输出结果",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			registry, err := buildRegistry(cfg, logger.Named("deafhubd"))
			if err != nil {
				return err
			}
			defer registry.Close()
			router, err := buildRouter(cfg, registry)
			if err != nil {
				return err
			}
			res := router.Resolve(cmd.Context(), command.Parse(strings.Join(args, " "), userID, platform, nil))
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "cli", "用户 ID")
	cmd.Flags().StringVar(&platform, "platform", "cli", "来源渠道")
	return cmd
}

func newConnectorsCommand(load loader) *cobra.Command {
	var capability, server, token string
	cmd := &cobra.Command{
		Use:   "connectors",
		Short: "列出连接器；指定 --server 时查询运行中的服务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if server != "" {
				return listRemoteConnectors(cmd, server, token, capability)
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			registry, err := buildRegistry(cfg, logger.Named("deafhubd"))
			if err != nil {
				return err
			}
			defer registry.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tNAME\tPROVIDER\tENABLED")
			for _, d := range registry.List("") {
				if capability != "" && !strings.EqualFold(string(d.Type), capability) {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", d.Type, d.Name, d.Provider, d.Enabled)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&capability, "type", "", "按能力类型过滤")
	cmd.Flags().StringVar(&server, "server", "", "运行中服务的地址，如 http://localhost:8080")
	cmd.Flags().StringVar(&token, "token", "", "管理令牌")
	return cmd
}

func listRemoteConnectors(cmd *cobra.Command, server, token, capability string) error {
	client, err := deafhub.NewClient(server, nil)
	if err != nil {
		return err
	}
	if token != "" {
		client.SetAccessToken(token)
	}
	list, err := client.ListConnectors(cmd.Context(), capability)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tNAME\tPROVIDER\tENABLED")
	for _, c := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", c.Type, c.Name, c.Provider, c.Enabled)
	}
	return w.Flush()
}

func newTokenCommand(load loader) *cobra.Command {
	var subject string
	var permissions []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "签发管理接口访问令牌",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if subject == "" {
				return errors.New("--subject 不能为空")
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			svc, err := buildAuth(cfg)
			if err != nil {
				return err
			}
			if svc.Mode() != auth.ModeJWT {
				return errors.New("auth.mode 不是 jwt，无法签发令牌")
			}
			if len(permissions) == 0 {
				permissions = auth.AllPermissions()
			}
			token, err := svc.Issue(subject, permissions, ttl)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), token)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "令牌主体名称")
	cmd.Flags().StringSliceVar(&permissions, "perm", nil, "授予的权限，默认全部")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "有效期，默认使用配置值")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
