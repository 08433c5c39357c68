package main

import (
	"os"

	"explanation-service/cli"
)

// @title 释义质量服务 API
// @version 1.0
// @description 释义条目质量评估、迭代改进与批量维护服务
// @BasePath /
func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
