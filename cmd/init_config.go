package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Anniext/hdsm/internal/config"
)

// initConfigCmd 写出当前生效的配置
var initConfigCmd = &cobra.Command{
	Use:   "init-config <path>",
	Short: "将当前生效的配置写入文件",
	Long: `合并默认值、配置文件、环境变量与命令行标志后写入文件，
格式由扩展名决定（yaml、json、toml）。`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAppConfig()
		if err != nil {
			return err
		}
		manager := config.NewManager(nil)
		if err := manager.SaveConfig(args[0], cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "配置已写入: %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initConfigCmd)
}
