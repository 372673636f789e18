package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// execute 以模拟传输运行命令并返回输出
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(append(args, "--transport", "sim"))
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestConnectCommand(t *testing.T) {
	t.Run("阻塞连接", func(t *testing.T) {
		out, err := execute(t, "connect", "ag", "00:11:22:33:44:55", "--async=false")
		if err != nil {
			t.Fatalf("连接命令失败: %v", err)
		}
		if !strings.Contains(out, "连接结果: success") {
			t.Errorf("输出中缺少连接结果: %q", out)
		}
	})

	t.Run("异步连接", func(t *testing.T) {
		out, err := execute(t, "connect", "hs", "00:11:22:33:44:66", "--async=true")
		if err != nil {
			t.Fatalf("异步连接命令失败: %v", err)
		}
		if !strings.Contains(out, "连接请求已发送") || !strings.Contains(out, "连接结果: success") {
			t.Errorf("输出不完整: %q", out)
		}
	})

	t.Run("无效地址", func(t *testing.T) {
		if _, err := execute(t, "connect", "ag", "not-an-address"); err == nil {
			t.Error("期望无效地址返回错误")
		}
	})

	t.Run("广播地址", func(t *testing.T) {
		if _, err := execute(t, "connect", "ag", "FF:FF:FF:FF:FF:FF", "--async=false"); err == nil {
			t.Error("期望广播地址返回错误")
		}
	})
}

func TestQueryCommands(t *testing.T) {
	out, err := execute(t, "devices", "hs")
	if err != nil {
		t.Fatalf("devices 命令失败: %v", err)
	}
	if !strings.Contains(out, "headset 已连接设备: 0") {
		t.Errorf("devices 输出不正确: %q", out)
	}

	out, err = execute(t, "configuration", "ag")
	if err != nil {
		t.Fatalf("configuration 命令失败: %v", err)
	}
	if !strings.Contains(out, `"incoming_connection_flags"`) {
		t.Errorf("configuration 输出不正确: %q", out)
	}

	if _, err := execute(t, "devices", "speaker"); err == nil {
		t.Error("期望未知角色返回错误")
	}
}

func TestAudioCommands(t *testing.T) {
	out, err := execute(t, "audio", "gain", "ag", "00:11:22:33:44:55", "15")
	if err != nil {
		t.Fatalf("设置增益失败: %v", err)
	}
	if !strings.Contains(out, "增益已设置为 15") {
		t.Errorf("输出不正确: %q", out)
	}

	if _, err := execute(t, "audio", "gain", "ag", "00:11:22:33:44:55", "16"); err == nil {
		t.Error("期望超出范围的增益返回错误")
	}

	out, err = execute(t, "audio", "ring", "00:11:22:33:44:55")
	if err != nil {
		t.Fatalf("振铃失败: %v", err)
	}
	if !strings.Contains(out, "已发送") {
		t.Errorf("输出不正确: %q", out)
	}

	out, err = execute(t, "audio", "send", "hs", "00:11:22:33:44:55", "0102a0ff")
	if err != nil {
		t.Fatalf("发送音频失败: %v", err)
	}
	if !strings.Contains(out, "已发送 4 字节音频数据") {
		t.Errorf("输出不正确: %q", out)
	}

	// 模拟服务端中设备未连接，不存在音频连接
	if _, err := execute(t, "audio", "sco", "ag", "00:11:22:33:44:55"); err == nil {
		t.Error("期望未建立音频时查询 SCO 句柄失败")
	}
}

func TestInitConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hdsm.yaml")
	if _, err := execute(t, "init-config", path); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取配置失败: %v", err)
	}
	if !strings.Contains(string(data), "type: sim") {
		t.Errorf("配置中应记录命令行指定的传输: %s", data)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version 命令失败: %v", err)
	}
	if !strings.Contains(out, AppName+" v"+AppVersion) {
		t.Errorf("版本输出不正确: %q", out)
	}
}
