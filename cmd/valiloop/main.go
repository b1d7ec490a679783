// Command valiloop deploys generated web applications, tests them with
// browser agents, and tells the generation step what to fix.
package main

func main() {
	Execute()
}
