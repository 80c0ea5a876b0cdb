package main

import "github.com/voxmesh/voxmesh/cmd/voxmesh/cmd"

func main() { cmd.Execute() }
