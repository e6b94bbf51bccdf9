package main

import "github.com/qrave1/RoomMesh/cmd"

func main() {
	cmd.Execute()
}
