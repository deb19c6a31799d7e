// Main package for the docjin command line tool
package main

func main() {
	Cmd()
}
