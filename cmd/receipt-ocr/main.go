package main

import "github.com/MeKo-Tech/receipt-ocr/cmd/receipt-ocr/cmd"

func main() {
	cmd.Execute()
}
