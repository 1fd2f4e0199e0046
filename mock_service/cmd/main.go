package main

import (
	"flag"

	mockservice "github.com/skudasov/shopload/mock_service"
)

func main() {
	addr := flag.String("addr", ":8081", "listen address")
	flag.Parse()
	s := mockservice.New(true)
	s.Echo.Logger.Fatal(s.Start(*addr))
}
