// Command chatclient is a terminal client for the messaging server built on the
// session manager.
package main

func main() {
	Execute()
}
