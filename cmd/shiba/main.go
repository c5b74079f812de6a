// The shiba command runs the demand-paged virtual memory simulator over an
// instruction script.
package main

func main() {
	Execute()
}
