// Command pagereportctl is a demo/operator tool for the free-page
// reporting engine. It plays the role of the "external consumer" from
// §6.1: it wires a pagereport.Controller to the in-memory reference
// allocator (allocator/memalloc), drives a synthetic workload of
// frees and allocations against it, and prints every reported batch.
//
// Structured the way joshuapare-hivekit's cmd/hivectl is: a root
// command with global flags and one subcommand per verb, registered
// from init() in their own files.
package main

func main() {
	execute()
}
