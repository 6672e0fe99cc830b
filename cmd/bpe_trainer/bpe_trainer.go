package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/wbrown/byte_bpe"
)

// Trains a byte-level BPE vocabulary on a text corpus and writes the
// model and vocabulary listing files.

func main() {
	inputPath := flag.String("input", "",
		"Path to the training corpus.")
	outputPrefix := flag.String("output", "tokenizer",
		"Prefix for the output .model and .vocab files.")
	vocabSize := flag.Int("vocab_size", 1024,
		"Target vocabulary size, at least 256.")
	pattern := flag.String("pattern", "",
		"Split pattern string stored in the model file for use by "+
			"an external splitting layer.")
	tokensOut := flag.String("tokens_out", "",
		"Optional path to write the encoded corpus as binary "+
			"tokens.")
	useUint32 := flag.Bool("uint32", false,
		"Write binary tokens as 32-bit rather than 16-bit values.")
	flag.Parse()

	if *inputPath == "" {
		flag.Usage()
		log.Fatal("bpe_trainer: -input is required")
	}

	corpusBytes, err := os.ReadFile(*inputPath)
	if err != nil {
		log.Fatalf("Error reading corpus `%s`: %v", *inputPath, err)
	}
	corpus := string(corpusBytes)
	log.Printf("Read %s of corpus from %s.",
		humanize.Bytes(uint64(len(corpus))), *inputPath)

	tokenizer := byte_bpe.NewTokenizer()
	tokenizer.Verbose = true
	tokenizer.SetPattern(*pattern)

	start := time.Now()
	if trainErr := tokenizer.Train(corpus, *vocabSize); trainErr != nil {
		log.Fatalf("Error training: %v", trainErr)
	}
	duration := time.Since(start)
	log.Printf("Learned %d merges over %v (%s/s).",
		len(tokenizer.Merges()), duration,
		humanize.Bytes(uint64(float64(len(corpus))/
			duration.Seconds())))

	if saveErr := tokenizer.Save(*outputPrefix); saveErr != nil {
		log.Fatalf("Error saving model to `%s`: %v",
			*outputPrefix, saveErr)
	}
	log.Printf("Wrote %s.model and %s.vocab.",
		*outputPrefix, *outputPrefix)

	if *tokensOut != "" {
		encoded := tokenizer.Encode(corpus)
		bin, binErr := encoded.ToBin(*useUint32)
		if binErr != nil {
			log.Fatalf("Error serializing tokens: %v", binErr)
		}
		if writeErr := os.WriteFile(*tokensOut, bin,
			0644); writeErr != nil {
			log.Fatalf("Error writing tokens to `%s`: %v",
				*tokensOut, writeErr)
		}
		log.Printf("Encoded %s of corpus into %d tokens (%s on "+
			"disk), %.2fx compression.",
			humanize.Bytes(uint64(len(corpus))), len(encoded),
			humanize.Bytes(uint64(len(bin))),
			float64(len(corpus))/float64(len(encoded)))
	}
}
