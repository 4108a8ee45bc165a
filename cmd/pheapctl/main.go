// Command pheapctl inspects and edits persistent object heap pool files.
package main

func main() {
	execute()
}
