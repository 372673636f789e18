package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Anniext/hdsm/pkg/hdsm"
)

// connectCmd 主动连接远端设备
var connectCmd = &cobra.Command{
	Use:   "connect <role> <address>",
	Short: "连接远端设备",
	Long: `以指定角色（hs 或 ag）连接远端设备。

默认阻塞等待连接结果；--async 时结果通过回调到达。`,
	Args: cobra.ExactArgs(2),
	RunE: runConnect,
}

// disconnectCmd 断开远端设备
var disconnectCmd = &cobra.Command{
	Use:   "disconnect <role> <address>",
	Short: "断开远端设备",
	Args:  cobra.ExactArgs(2),
	RunE:  runDisconnect,
}

var (
	remotePort     uint32
	requireAuth    bool
	requireEncrypt bool
	connectAsync   bool
	connectTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)

	connectCmd.Flags().Uint32Var(&remotePort, "port", 1, "远端服务端口")
	connectCmd.Flags().BoolVar(&requireAuth, "auth", false, "要求认证")
	connectCmd.Flags().BoolVar(&requireEncrypt, "encrypt", false, "要求加密")
	connectCmd.Flags().BoolVar(&connectAsync, "async", false, "异步连接")
	connectCmd.Flags().DurationVar(&connectTimeout, "wait", 30*time.Second, "等待连接结果的最长时间，0 表示不限")
}

func runConnect(cmd *cobra.Command, args []string) error {
	ct, addr, err := parseTarget(args)
	if err != nil {
		return err
	}

	var flags hdsm.ConnectFlags
	if requireAuth {
		flags |= hdsm.ConnectFlagRequireAuthentication
	}
	if requireEncrypt {
		flags |= hdsm.ConnectFlagRequireEncryption
	}

	return withSession(func(ctx context.Context, s *session) error {
		controlID, err := s.control(ctx, ct)
		if err != nil {
			return err
		}
		if connectTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, connectTimeout)
			defer cancel()
		}

		out := cmd.OutOrStdout()
		var status hdsm.ConnectionStatus
		if connectAsync {
			done := make(chan hdsm.ConnectionStatus, 1)
			err := s.manager.ConnectAsync(ctx, controlID, ct, addr, remotePort, flags, func(event *hdsm.Event) error {
				done <- event.ConnectionStatus
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "连接请求已发送: %s\n", addr)
			select {
			case status = <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else {
			if status, err = s.manager.Connect(ctx, controlID, ct, addr, remotePort, flags); err != nil {
				return err
			}
		}

		fmt.Fprintf(out, "连接结果: %s\n", status)
		if status != hdsm.ConnectionStatusSuccess {
			return fmt.Errorf("连接 %s 失败: %s", addr, status)
		}
		return nil
	})
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	ct, addr, err := parseTarget(args)
	if err != nil {
		return err
	}
	return withSession(func(ctx context.Context, s *session) error {
		controlID, err := s.control(ctx, ct)
		if err != nil {
			return err
		}
		if err := s.manager.Disconnect(ctx, controlID, ct, addr); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已断开: %s\n", addr)
		return nil
	})
}
