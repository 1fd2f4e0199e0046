package load

import (
	"fmt"

	"github.com/skudasov/shopload"
)

// AttackerFromName returns monitored attack prototype for a handle name
func AttackerFromName(name string) (shopload.Attack, error) {
	switch name {
	case "fruit":
		return shopload.WithMonitor(shopload.WithCSVMonitor(new(FruitAttack))), nil
	default:
		return nil, fmt.Errorf("unknown attacker type: %s", name)
	}
}
