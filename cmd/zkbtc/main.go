// Command zkbtc runs and administers a zkBitcoin signing committee.
package main

func main() {
	Execute()
}
