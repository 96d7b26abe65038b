package main

import (
	"flag"
	"log"

	"github.com/robotalks/canlink.go/pkg/board"
	"github.com/robotalks/canlink.go/pkg/config"
	"github.com/robotalks/canlink.go/pkg/framework"
)

func init() {
	config.SetupFlags()
}

func main() {
	flag.Parse()

	b := board.MustNew(config.MustNewConfig())
	err := framework.NewRunner().
		HandleSignals().
		Go(framework.NamedRun("loop", b.Loop())).
		Wait()
	b.Close()
	if err != nil {
		log.Fatalln(err)
	}
}
