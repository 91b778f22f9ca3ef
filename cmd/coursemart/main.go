// coursemartは講座販売の決済APIサーバーとワーカーを起動するエントリーポイント。
//
// 使い方:
//
//	coursemart [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/coursemart/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "coursemart: %v\n", err)
		os.Exit(1)
	}
}
