package main

import (
	"github.com/skudasov/shopload"
	"github.com/skudasov/shopload/load"
)

func main() {
	shopload.Run(load.AttackerFromName, load.CheckFromName, load.AwaitTarget, nil)
}
