package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Anniext/hdsm/pkg/hdsm"
)

// devicesCmd 查询已连接设备
var devicesCmd = &cobra.Command{
	Use:   "devices <role>",
	Short: "列出已连接设备",
	Args:  cobra.ExactArgs(1),
	RunE:  runDevices,
}

// configurationCmd 查询角色当前配置
var configurationCmd = &cobra.Command{
	Use:   "configuration <role>",
	Short: "显示角色当前配置",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfiguration,
}

// setFlagsCmd 修改入站连接标志
var setFlagsCmd = &cobra.Command{
	Use:   "set-flags <role>",
	Short: "修改入站连接标志",
	Args:  cobra.ExactArgs(1),
	RunE:  runSetFlags,
}

var (
	incomingAuthorization  bool
	incomingAuthentication bool
	incomingEncryption     bool
)

func init() {
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(configurationCmd)
	configurationCmd.AddCommand(setFlagsCmd)

	setFlagsCmd.Flags().BoolVar(&incomingAuthorization, "authorization", false, "入站连接需要授权")
	setFlagsCmd.Flags().BoolVar(&incomingAuthentication, "authentication", false, "入站连接需要认证")
	setFlagsCmd.Flags().BoolVar(&incomingEncryption, "encryption", false, "入站连接需要加密")
}

func runDevices(cmd *cobra.Command, args []string) error {
	ct, err := hdsm.ParseConnectionType(args[0])
	if err != nil {
		return err
	}
	return withSession(func(ctx context.Context, s *session) error {
		devices, err := s.manager.QueryConnectedDevices(ctx, ct)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s 已连接设备: %d\n", ct, len(devices))
		for _, addr := range devices {
			fmt.Fprintf(out, "  %s\n", addr)
		}
		return nil
	})
}

func runConfiguration(cmd *cobra.Command, args []string) error {
	ct, err := hdsm.ParseConnectionType(args[0])
	if err != nil {
		return err
	}
	return withSession(func(ctx context.Context, s *session) error {
		cfg, err := s.manager.QueryCurrentConfiguration(ctx, ct)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), cfg)
	})
}

func runSetFlags(cmd *cobra.Command, args []string) error {
	ct, err := hdsm.ParseConnectionType(args[0])
	if err != nil {
		return err
	}

	var flags hdsm.IncomingConnectionFlags
	if incomingAuthorization {
		flags |= hdsm.IncomingFlagRequireAuthorization
	}
	if incomingAuthentication {
		flags |= hdsm.IncomingFlagRequireAuthentication
	}
	if incomingEncryption {
		flags |= hdsm.IncomingFlagRequireEncryption
	}

	return withSession(func(ctx context.Context, s *session) error {
		if err := s.manager.ChangeIncomingConnectionFlags(ctx, ct, flags); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s 入站连接标志已设置为 %#x\n", ct, uint32(flags))
		return nil
	})
}
