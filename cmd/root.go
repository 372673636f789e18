package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Anniext/hdsm/internal/config"
	"github.com/Anniext/hdsm/pkg/btpm"
)

// 应用程序版本信息
const (
	AppName    = "HDSM"
	AppVersion = "1.0.0"
	AppDesc    = "蓝牙耳机管理器客户端"
)

var (
	// 全局配置文件路径
	cfgFile string
	// 全局日志级别
	logLevel string
)

// rootCmd 代表基础命令，当不带任何子命令调用时执行
var rootCmd = &cobra.Command{
	Use:   "hdsm",
	Short: "HDSM - 蓝牙耳机管理器客户端",
	Long: `HDSM 是平台管理器耳机服务的客户端，
以耳机（HS）或音频网关（AG）角色管理远端设备。

支持的功能：
• 连接管理：主动连接、应答入站连接、断开
• 事件监控：连接、音频、增益、振铃与按键事件
• 音频控制：SCO 建立与释放、增益设置
• 事件转发：通过 MQTT 发布事件`,
	Version:       AppVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 添加所有子命令到根命令并设置标志
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if code := btpm.StatusCode(err); code != 0 {
			fmt.Fprintf(os.Stderr, "错误: %v (code %d)\n", err, code)
		} else {
			fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := config.DefaultConfig()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "配置文件路径 (默认为 $HOME/hdsm.yaml)")
	flags.StringVar(&logLevel, "log-level", defaults.Manager.LogLevel, "日志级别 (debug, info, warn, error)")
	flags.String("transport", defaults.Transport.Type, "传输类型 (socket, dbus, sim)")
	flags.String("network", defaults.Transport.Network, "套接字网络 (unix, tcp)")
	flags.String("address", defaults.Transport.Address, "服务端套接字地址")
	flags.Uint32("address-id", defaults.Transport.AddressID, "服务端地址ID")
	flags.Duration("timeout", defaults.Manager.ResponseTimeout, "请求响应超时")

	// 绑定标志到 viper
	viper.BindPFlag("manager.log_level", flags.Lookup("log-level"))
	viper.BindPFlag("manager.response_timeout", flags.Lookup("timeout"))
	viper.BindPFlag("transport.type", flags.Lookup("transport"))
	viper.BindPFlag("transport.network", flags.Lookup("network"))
	viper.BindPFlag("transport.address", flags.Lookup("address"))
	viper.BindPFlag("transport.address_id", flags.Lookup("address-id"))
}

// initConfig 读取配置文件和环境变量
func initConfig() {
	for key, value := range config.Flatten(config.DefaultConfig()) {
		viper.SetDefault(key, value)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.SetConfigType("yaml")
		viper.SetConfigName("hdsm")
	}

	// 环境变量形如 HDSM_TRANSPORT_TYPE
	viper.SetEnvPrefix("HDSM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "使用配置文件:", viper.ConfigFileUsed())
	}
}

// GetRootCommand 返回根命令，主要用于测试
func GetRootCommand() *cobra.Command {
	return rootCmd
}
