package main

import (
	"flag"
	"fmt"
	"os"

	"Go2NetSentinel/internal/forest"
)

func main() {
	modelPath := flag.String("model", "configs/forest_model.json", "path to the decision forest JSON")
	scalerPath := flag.String("scaler", "configs/scaler_params.json", "path to the scaler parameters")
	outPath := flag.String("out", "forest.artifact", "path of the compiled artifact")
	flag.Parse()

	f, err := forest.LoadForest(*modelPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load forest: %v\n", err)
		os.Exit(1)
	}
	s, err := forest.LoadScaler(*scalerPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load scaler: %v\n", err)
		os.Exit(1)
	}
	a, err := forest.ExportArtifact(f, s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to compile artifact: %v\n", err)
		os.Exit(1)
	}
	if err := forest.WriteArtifactFile(*outPath, a); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write artifact: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d trees to %s\n", len(a.Trees), *outPath)
}
