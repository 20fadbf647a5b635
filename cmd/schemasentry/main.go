package main

import "github.com/dbsmedya/schemasentry/cmd/schemasentry/cmd"

func main() {
	cmd.Execute()
}
