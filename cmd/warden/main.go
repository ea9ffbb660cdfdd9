// Warden derives protection status, drift and compliance signals from
// collected cloud resource documents.
package main

func main() {
	Execute()
}
