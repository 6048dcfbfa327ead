// Command evhttp serves static files, uploads and CGI scripts as described
// by a configuration file.
package main

func main() {
	Execute()
}
