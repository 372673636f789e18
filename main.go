package main

import (
	"github.com/Anniext/hdsm/cmd"
)

// main 函数是应用程序的入口点
// 使用 Cobra 框架来处理命令行接口
func main() {
	cmd.Execute()
}
