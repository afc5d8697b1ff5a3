package main

import (
	"fmt"
	"io"
	"os"
)

// 版本資訊 (由 ldflags 注入)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run(os.Stderr))
}

// run 執行根命令並回傳結束碼
func run(stderr io.Writer) int {
	if err := Execute(); err != nil {
		fmt.Fprintf(stderr, "%s: 錯誤: %v\n", rootCmd.Name(), err)
		return 1
	}
	return 0
}
