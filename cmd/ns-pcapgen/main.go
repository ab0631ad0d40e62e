package main

import (
	"flag"
	"log"
	"net"
	"strings"
	"time"

	"Go2NetSentinel/internal/trafficgen"
)

func main() {
	opts := trafficgen.DefaultOptions()
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	flag.IntVar(&opts.Benign, "benign", opts.Benign, "Number of benign packets")
	flag.IntVar(&opts.Flood, "flood", opts.Flood, "Number of SYN flood packets")
	attackers := flag.String("attackers", "203.0.113.66", "Comma-separated attacker addresses")
	flag.DurationVar(&opts.Gap, "gap", opts.Gap, "Time between packets")
	flag.Parse()

	opts.Attackers = nil
	for _, s := range strings.Split(*attackers, ",") {
		ip := net.ParseIP(strings.TrimSpace(s))
		if ip == nil {
			log.Fatalf("Invalid attacker address '%s'", s)
		}
		opts.Attackers = append(opts.Attackers, ip)
	}
	opts.Start = time.Now()

	log.Printf("Generating %d packets into %s...", opts.Benign+opts.Flood, *outputFile)
	n, err := trafficgen.WriteFile(*outputFile, opts)
	if err != nil {
		log.Fatalf("Failed to generate capture: %v", err)
	}
	log.Printf("Successfully generated %d packets into %s.", n, *outputFile)
}
