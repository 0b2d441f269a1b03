package main

// Config carries only what a read-only viewer needs: where the journal
// lives and where to serve the inspect page.
type Config struct {
	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	DebugPort      int    `env:"DEBUG_PORT,default=8081"`
}
