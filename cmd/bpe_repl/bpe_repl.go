package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/wbrown/byte_bpe"
)

// A REPL for interacting with a trained `byte_bpe` tokenizer.

func main() {
	modelPath := flag.String("model", "tokenizer.model",
		"Path to the model file to load.")
	flag.Parse()

	tokenizer := byte_bpe.NewTokenizer()
	if err := tokenizer.Load(*modelPath); err != nil {
		log.Fatalf("Error loading `%s`: %v", *modelPath, err)
	}
	log.Printf("Loaded %d merges from %s.",
		len(tokenizer.Merges()), *modelPath)

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print(">>> ")
		input, err := reader.ReadString('\n')
		if err == io.EOF {
			break
		} else if err != nil {
			log.Fatal(err)
		}
		// Remove trailing newline and replace \n with newline.
		input = strings.Replace(input[:len(input)-1], "\\n", "\n", -1)

		tokens := tokenizer.Encode(input)
		fmt.Printf("%v\n", tokens)
		for _, token := range tokens {
			rendered, renderErr := tokenizer.RenderToken(token)
			if renderErr != nil {
				rendered = "?"
			}
			fmt.Printf("|%s", rendered)
		}
		fmt.Printf("\n")
		decoded, decodeErr := tokenizer.Decode(tokens)
		if decodeErr != nil {
			log.Printf("Error decoding: %v", decodeErr)
			continue
		}
		fmt.Printf("%s\n", decoded)
	}
}
