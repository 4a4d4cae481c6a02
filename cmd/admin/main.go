package main

import (
	"os"

	"github.com/Jun20220703/bit216as/cmd/admin/commands"
)

func main() {
	// 错误已由 printer 以彩色格式输出
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
