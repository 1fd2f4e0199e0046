package main

import (
	"flag"
	"log"

	"github.com/myzhan/boomer"
	"github.com/skudasov/shopload/load"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	masterHost := flag.String("master-host", "127.0.0.1", "locust master host")
	masterPort := flag.Int("master-port", 5557, "locust master port")
	target := flag.String("target", "http://127.0.0.1:8081", "base url of the shop")
	httpTimeout := flag.Int("http-timeout", 20, "http client timeout in seconds")
	standalone := flag.Bool("standalone", false, "run without locust master")
	users := flag.Int("users", 1, "simulated users in standalone mode")
	spawnRate := flag.Float64("spawn-rate", 1, "users spawned per second in standalone mode")
	flag.Parse()

	var b *boomer.Boomer
	if *standalone {
		b = boomer.NewStandaloneBoomer(*users, *spawnRate)
		b.AddOutput(boomer.NewConsoleOutput())
	} else {
		b = boomer.NewBoomer(*masterHost, *masterPort)
	}
	task, err := load.NewBoomerTask(*target, *httpTimeout, b)
	if err != nil {
		log.Fatal(err)
	}
	b.Run(task)
}
