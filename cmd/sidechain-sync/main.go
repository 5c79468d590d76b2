package main

import "github.com/zfogg/sidechain/clientsync/internal/cmd"

func main() {
	cmd.Execute()
}
