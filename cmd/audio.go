package cmd

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Anniext/hdsm/pkg/hdsm"
)

// audioCmd 音频与控制面操作
var audioCmd = &cobra.Command{
	Use:   "audio",
	Short: "音频连接、增益、振铃与按键",
}

var audioSetupCmd = &cobra.Command{
	Use:   "setup <role> <address>",
	Short: "建立 SCO 音频连接",
	Args:  cobra.ExactArgs(2),
	RunE: controlRunner(func(ctx context.Context, s *session, id uint32, ct hdsm.ConnectionType, addr hdsm.BDAddr) (string, error) {
		return "音频连接已建立", s.manager.SetupAudioConnection(ctx, id, ct, addr, inBandRinging)
	}),
}

var audioReleaseCmd = &cobra.Command{
	Use:   "release <role> <address>",
	Short: "释放 SCO 音频连接",
	Args:  cobra.ExactArgs(2),
	RunE: controlRunner(func(ctx context.Context, s *session, id uint32, ct hdsm.ConnectionType, addr hdsm.BDAddr) (string, error) {
		return "音频连接已释放", s.manager.ReleaseAudioConnection(ctx, id, ct, addr)
	}),
}

var audioSCOCmd = &cobra.Command{
	Use:   "sco <role> <address>",
	Short: "查询 SCO 连接句柄",
	Args:  cobra.ExactArgs(2),
	RunE: controlRunner(func(ctx context.Context, s *session, id uint32, ct hdsm.ConnectionType, addr hdsm.BDAddr) (string, error) {
		handle, err := s.manager.QuerySCOConnectionHandle(ctx, id, ct, addr)
		return fmt.Sprintf("SCO 句柄: %#04x", handle), err
	}),
}

var audioGainCmd = &cobra.Command{
	Use:   "gain <role> <address> <value>",
	Short: "设置远端扬声器或麦克风增益",
	Args:  cobra.ExactArgs(3),
	RunE:  runGain,
}

var audioRingCmd = &cobra.Command{
	Use:   "ring <address>",
	Short: "以音频网关角色发送振铃",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRoleControl(cmd, hdsm.ConnectionTypeAudioGateway, args[0], func(ctx context.Context, s *session, id uint32, addr hdsm.BDAddr) error {
			return s.manager.RingIndication(ctx, id, addr)
		})
	},
}

var audioButtonCmd = &cobra.Command{
	Use:   "button <address>",
	Short: "以耳机角色发送按键",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRoleControl(cmd, hdsm.ConnectionTypeHeadset, args[0], func(ctx context.Context, s *session, id uint32, addr hdsm.BDAddr) error {
			return s.manager.SendButtonPress(ctx, id, addr)
		})
	},
}

var audioSendCmd = &cobra.Command{
	Use:   "send <role> <address> <hex-data>",
	Short: "发送音频数据",
	Args:  cobra.ExactArgs(3),
	RunE:  runSendAudio,
}

var (
	inBandRinging  bool
	gainMicrophone bool
)

func init() {
	rootCmd.AddCommand(audioCmd)
	audioCmd.AddCommand(audioSetupCmd, audioReleaseCmd, audioSCOCmd, audioGainCmd,
		audioRingCmd, audioButtonCmd, audioSendCmd)

	audioSetupCmd.Flags().BoolVar(&inBandRinging, "in-band-ringing", false, "使用带内振铃")
	audioGainCmd.Flags().BoolVar(&gainMicrophone, "microphone", false, "设置麦克风增益，默认设置扬声器")
}

type controlFunc func(ctx context.Context, s *session, id uint32, ct hdsm.ConnectionType, addr hdsm.BDAddr) (string, error)

// controlRunner 注册控制回调后执行 fn 并输出结果
func controlRunner(fn controlFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ct, addr, err := parseTarget(args)
		if err != nil {
			return err
		}
		return withSession(func(ctx context.Context, s *session) error {
			id, err := s.control(ctx, ct)
			if err != nil {
				return err
			}
			message, err := fn(ctx, s, id, ct, addr)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), message)
			return nil
		})
	}
}

func runRoleControl(cmd *cobra.Command, ct hdsm.ConnectionType, address string,
	fn func(ctx context.Context, s *session, id uint32, addr hdsm.BDAddr) error) error {
	addr, err := hdsm.ParseBDAddr(address)
	if err != nil {
		return err
	}
	return withSession(func(ctx context.Context, s *session) error {
		id, err := s.control(ctx, ct)
		if err != nil {
			return err
		}
		if err := fn(ctx, s, id, addr); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已发送: %s\n", addr)
		return nil
	})
}

func runGain(cmd *cobra.Command, args []string) error {
	var gain uint32
	if _, err := fmt.Sscan(args[2], &gain); err != nil {
		return fmt.Errorf("无效的增益: %s", args[2])
	}
	return controlRunner(func(ctx context.Context, s *session, id uint32, ct hdsm.ConnectionType, addr hdsm.BDAddr) (string, error) {
		if gainMicrophone {
			return fmt.Sprintf("麦克风增益已设置为 %d", gain), s.manager.SetRemoteMicrophoneGain(ctx, id, ct, addr, gain)
		}
		return fmt.Sprintf("扬声器增益已设置为 %d", gain), s.manager.SetRemoteSpeakerGain(ctx, id, ct, addr, gain)
	})(cmd, args[:2])
}

func runSendAudio(cmd *cobra.Command, args []string) error {
	ct, addr, err := parseTarget(args)
	if err != nil {
		return err
	}
	data, err := hex.DecodeString(args[2])
	if err != nil {
		return fmt.Errorf("无效的音频数据: %w", err)
	}

	return withSession(func(ctx context.Context, s *session) error {
		id, err := s.manager.RegisterDataEventCallback(ctx, ct, func(event *hdsm.Event) error {
			s.logs.LogDebug("cmd", "收到音频数据", "length", len(event.AudioData))
			return nil
		})
		if err != nil {
			return err
		}
		if err := s.manager.SendAudioData(ctx, id, ct, addr, data); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已发送 %d 字节音频数据\n", len(data))
		return nil
	})
}
