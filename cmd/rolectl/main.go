package main

import "role-sync-service/cmd/rolectl/cmd"

func main() {
	cmd.Execute()
}
