// sentinel-rag 是检索增强问答的命令行入口。
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/sentinel-rag/cmd/rag/app"
)

func main() {
	app.NewApp().Run()
}
