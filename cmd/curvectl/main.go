// cmd/curvectl/main.go
package main

func main() {
	execute()
}
